// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/certs"
	"hostwatch/internal/config"
	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifications"
	"hostwatch/internal/report"
)

// Store is everything the engine needs from persistence.
type Store interface {
	database.Store
	database.Maintainer
}

type Engine struct {
	config        *config.Config
	store         Store
	metrics       *metrics.Collector
	notifications *notifications.Service

	registry  *Registry
	tracker   *StateTracker
	scheduler *Scheduler
	snapshots *SnapshotStore
	retention *Retention
	certs     *certs.Manager
	reports   *report.Service
	acme      *certs.ACMEIssuer
	cron      *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewEngine(cfg *config.Config, store Store, collector *metrics.Collector, notifier *notifications.Service) (*Engine, error) {
	policy, err := ParseStatusPolicy(cfg.Monitoring.HealthyStatus)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Reports.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reports timezone: %w", err)
	}

	e := &Engine{
		config:        cfg,
		store:         store,
		metrics:       collector,
		notifications: notifier,
		snapshots:     NewSnapshotStore(cfg.Monitoring.SnapshotDir),
		reports:       report.NewService(store, loc),
		cron:          cron.New(cron.WithLocation(loc)),
	}

	e.registry = NewRegistry(store, store, cfg.Monitoring.RegistryRefresh)
	e.tracker = NewStateTracker(store, e.snapshots, collector, notifier)

	prober := NewHTTPProber(cfg.Monitoring.Timeout, policy, cfg.Monitoring.SnapshotMaxBytes, cfg.Monitoring.UserAgent)
	e.scheduler = NewScheduler(e.registry, prober, e.tracker, collector, SchedulerOptions{
		Interval: cfg.Monitoring.Interval,
		Timeout:  cfg.Monitoring.Timeout,
		Workers:  cfg.Monitoring.Workers,
	})

	e.retention = NewRetention(store, store, e.registry, e.snapshots, cfg.Database.HistoryRetention)

	var issuer certs.Issuer
	if cfg.Certificates.ACME.Enabled {
		e.acme = certs.NewACMEIssuer(&cfg.Certificates.ACME, &certs.ChallengeStore{})
		issuer = e.acme
		logrus.WithField("directory", cfg.Certificates.ACME.DirectoryURL).Info("ACME issuance enabled")
	}
	e.certs = certs.NewManager(store, store, certs.NewTLSInspector(cfg.Certificates.Timeout), issuer, collector, notifier, certs.Options{
		WarningDays: cfg.Certificates.WarningDays,
		Concurrency: cfg.Certificates.Concurrency,
		CertDir:     cfg.Certificates.CertDir,
	})

	return e, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	logrus.Info("Starting monitoring engine")

	if err := e.syncConfig(ctx); err != nil {
		logrus.WithError(err).Error("Failed to sync config")
		return err
	}

	if _, err := e.cron.AddFunc(e.config.Certificates.Schedule, func() {
		if _, err := e.certs.Discover(ctx); err != nil {
			logrus.WithError(err).Error("Scheduled certificate discovery failed")
		}
	}); err != nil {
		return fmt.Errorf("certificates.schedule: %w", err)
	}

	if _, err := e.cron.AddFunc(e.config.Database.CleanupSchedule, func() {
		if _, err := e.retention.PurgeAll(ctx); err != nil {
			logrus.WithError(err).Error("Scheduled purge failed")
		}
		if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to update system metrics")
		}
	}); err != nil {
		return fmt.Errorf("database.cleanup_schedule: %w", err)
	}
	e.cron.Start()

	logrus.WithFields(logrus.Fields{
		"cert_schedule":    e.config.Certificates.Schedule,
		"cleanup_schedule": e.config.Database.CleanupSchedule,
		"retention":        e.config.Database.HistoryRetention,
	}).Info("Scheduled periodic jobs")

	if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to update system metrics")
	}

	if err := e.scheduler.Start(ctx); err != nil {
		e.cron.Stop()
		return err
	}
	e.running = true
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	logrus.Info("Stopping monitoring engine")
	<-e.cron.Stop().Done()
	e.scheduler.Stop()
	e.running = false
}

// RefreshConfig re-applies hosting records from a reloaded configuration.
func (e *Engine) RefreshConfig(ctx context.Context, cfg *config.Config) error {
	logrus.Info("Refreshing hosting records")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Hosting = cfg.Hosting
	return e.syncConfig(ctx)
}

// syncConfig copies configured hosting records into the store, cancels stored
// records the configuration no longer lists, and aligns the registry with them.
func (e *Engine) syncConfig(ctx context.Context) error {
	configured := make(map[string]bool, len(e.config.Hosting))
	for _, h := range e.config.Hosting {
		configured[h.ID] = true
	}

	stored, err := e.store.GetHostingRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to read hosting records: %w", err)
	}
	for i := range stored {
		rec := &stored[i]
		if configured[rec.ID] || !rec.Active {
			continue
		}
		rec.Active = false
		if err := e.store.PutHostingRecord(ctx, rec); err != nil {
			logrus.WithError(err).WithField("hosting_id", rec.ID).Error("Failed to cancel removed hosting record")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"hosting_id": rec.ID,
			"domain":     rec.Domain,
		}).Info("Hosting record removed from config, cancelling")
	}

	for _, h := range e.config.Hosting {
		rec := &database.HostingRecord{
			ID:     h.ID,
			Domain: h.Domain,
			URL:    h.URL,
			Client: h.Client,
			Active: h.Active,
		}
		if err := e.store.PutHostingRecord(ctx, rec); err != nil {
			logrus.WithError(err).WithField("hosting_id", h.ID).Error("Failed to store hosting record")
			continue
		}
	}
	return e.registry.SyncFromHosting(ctx)
}

// ListStatus reads every target's current status from the state table.
func (e *Engine) ListStatus(ctx context.Context) ([]TargetStatus, error) {
	targets, err := e.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	states, err := e.store.GetAlarmStates(ctx)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[string]*database.AlarmState, len(states))
	for i := range states {
		byTarget[states[i].TargetID] = &states[i]
	}

	out := make([]TargetStatus, 0, len(targets))
	for i := range targets {
		out = append(out, NewTargetStatus(&targets[i], byTarget[targets[i].ID]))
	}
	return out, nil
}

func (e *Engine) GetStatus(ctx context.Context, targetID string) (*TargetStatus, error) {
	target, err := e.registry.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	state, err := e.store.GetAlarmState(ctx, targetID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	status := NewTargetStatus(target, state)
	return &status, nil
}

// Acknowledge acknowledges a target's active alarm and returns its status.
// It is a no-op for targets that are clear or already acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, targetID string) (*TargetStatus, error) {
	target, err := e.registry.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	state, err := e.tracker.Acknowledge(ctx, target)
	if err != nil {
		return nil, err
	}
	status := NewTargetStatus(target, state)
	return &status, nil
}

// History returns a target's checks since the given time, oldest first.
func (e *Engine) History(ctx context.Context, targetID string, since time.Time, limit int) ([]database.CheckResult, error) {
	if _, err := e.registry.Get(ctx, targetID); err != nil {
		return nil, err
	}
	checks, err := e.store.GetChecks(ctx, database.CheckFilters{TargetID: targetID, From: since, Limit: limit})
	if err != nil {
		return nil, err
	}
	if checks == nil {
		checks = []database.CheckResult{}
	}
	return checks, nil
}

// OnChange registers a callback for every recorded check and acknowledgment.
func (e *Engine) OnChange(fn ChangeFunc) {
	e.tracker.Subscribe(fn)
}

var ErrNotRunning = errors.New("monitoring engine is not running")

// SweepNow runs a sweep outside the ticker. It reports false if one is already running.
func (e *Engine) SweepNow(ctx context.Context) (bool, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return false, ErrNotRunning
	}
	return e.scheduler.RunSweep(ctx), nil
}

func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Certificates() *certs.Manager { return e.certs }
func (e *Engine) Reports() *report.Service { return e.reports }
func (e *Engine) Retention() *Retention { return e.retention }
func (e *Engine) Snapshots() *SnapshotStore { return e.snapshots }
func (e *Engine) Store() Store { return e.store }
func (e *Engine) Notifications() *notifications.Service { return e.notifications }

// Challenges returns the pending ACME challenges, or nil when issuance is disabled.
func (e *Engine) Challenges() *certs.ChallengeStore {
	if e.acme == nil {
		return nil
	}
	return e.acme.Challenges
}
