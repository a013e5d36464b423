// internal/monitoring/registry.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
)

var ErrHostingInactive = errors.New("hosting record is cancelled")

// Registry owns the set of monitored targets. Enabled targets are cached for
// refresh and invalidated on every mutation.
type Registry struct {
	store   database.Store
	hosting database.HostingLookup
	refresh time.Duration

	mu       sync.Mutex
	cached   []database.MonitorTarget
	cachedAt time.Time
}

func NewRegistry(store database.Store, hosting database.HostingLookup, refresh time.Duration) *Registry {
	return &Registry{store: store, hosting: hosting, refresh: refresh}
}

// Register creates (or re-enables) the target for a hosting record.
func (r *Registry) Register(ctx context.Context, hostingID string) (*database.MonitorTarget, error) {
	rec, err := r.hosting.GetHostingRecord(ctx, hostingID)
	if err != nil {
		return nil, fmt.Errorf("hosting record %s: %w", hostingID, err)
	}
	if !rec.Active {
		return nil, fmt.Errorf("hosting record %s: %w", hostingID, ErrHostingInactive)
	}

	existing, err := r.store.GetTargets(ctx, database.TargetFilters{HostingID: hostingID})
	if err != nil {
		return nil, err
	}
	defer r.invalidate()

	if len(existing) > 0 {
		target := existing[0]
		if target.Enabled && target.Domain == rec.Domain && target.URL == rec.ProbeURL() {
			return &target, nil
		}
		target.Domain = rec.Domain
		target.URL = rec.ProbeURL()
		target.Enabled = true
		if err := r.store.UpdateTarget(ctx, &target); err != nil {
			return nil, fmt.Errorf("failed to update target: %w", err)
		}
		logrus.WithFields(logrus.Fields{"target": target.ID, "domain": target.Domain}).Info("Updated monitor target")
		return &target, nil
	}

	target := &database.MonitorTarget{
		HostingID: rec.ID,
		Domain:    rec.Domain,
		URL:       rec.ProbeURL(),
		Enabled:   true,
	}
	if err := r.store.CreateTarget(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}
	logrus.WithFields(logrus.Fields{"target": target.ID, "domain": target.Domain}).Info("Registered monitor target")
	return target, nil
}

func (r *Registry) Disable(ctx context.Context, targetID string) (*database.MonitorTarget, error) {
	return r.setEnabled(ctx, targetID, false)
}

func (r *Registry) Enable(ctx context.Context, targetID string) (*database.MonitorTarget, error) {
	return r.setEnabled(ctx, targetID, true)
}

func (r *Registry) setEnabled(ctx context.Context, targetID string, enabled bool) (*database.MonitorTarget, error) {
	target, err := r.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Enabled == enabled {
		return target, nil
	}
	target.Enabled = enabled
	if err := r.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}
	r.invalidate()

	logrus.WithFields(logrus.Fields{
		"target":  target.ID,
		"domain":  target.Domain,
		"enabled": enabled,
	}).Info("Monitor target toggled")
	return target, nil
}

// SyncFromHosting registers every active hosting record and disables the
// targets of cancelled ones.
func (r *Registry) SyncFromHosting(ctx context.Context) error {
	records, err := r.hosting.GetHostingRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to read hosting records: %w", err)
	}

	registered, disabled := 0, 0
	for _, rec := range records {
		if rec.Active {
			if _, err := r.Register(ctx, rec.ID); err != nil {
				logrus.WithError(err).WithField("hosting_id", rec.ID).Error("Failed to register target")
				continue
			}
			registered++
			continue
		}

		targets, err := r.store.GetTargets(ctx, database.TargetFilters{HostingID: rec.ID})
		if err != nil {
			return err
		}
		for _, t := range targets {
			if !t.Enabled {
				continue
			}
			if _, err := r.Disable(ctx, t.ID); err != nil {
				logrus.WithError(err).WithField("target", t.ID).Error("Failed to disable target")
				continue
			}
			disabled++
		}
	}

	logrus.WithFields(logrus.Fields{
		"registered": registered,
		"disabled":   disabled,
	}).Info("Synchronised monitor targets with hosting records")
	return nil
}

func (r *Registry) Get(ctx context.Context, targetID string) (*database.MonitorTarget, error) {
	return r.store.GetTarget(ctx, targetID)
}

// List returns every target ordered by domain.
func (r *Registry) List(ctx context.Context) ([]database.MonitorTarget, error) {
	targets, err := r.store.GetTargets(ctx, database.TargetFilters{})
	if err != nil {
		return nil, err
	}
	sortTargets(targets)
	return targets, nil
}

// Enabled returns the probe set, served from cache while it is fresh.
func (r *Registry) Enabled(ctx context.Context) ([]database.MonitorTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cachedAt) < r.refresh {
		return r.cached, nil
	}

	enabled := true
	targets, err := r.store.GetTargets(ctx, database.TargetFilters{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	sortTargets(targets)
	if targets == nil {
		targets = []database.MonitorTarget{}
	}
	r.cached = targets
	r.cachedAt = time.Now()
	return targets, nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func sortTargets(targets []database.MonitorTarget) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Domain != targets[j].Domain {
			return targets[i].Domain < targets[j].Domain
		}
		return targets[i].ID < targets[j].ID
	})
}
