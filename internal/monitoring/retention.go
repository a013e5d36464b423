// internal/monitoring/retention.go
package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
)

// Retention purges check history and snapshot files past the configured age,
// and disables targets whose hosting record has disappeared.
type Retention struct {
	store     database.Maintainer
	hosting   database.HostingLookup
	registry  *Registry
	snapshots *SnapshotStore
	maxAge    time.Duration
	now       func() time.Time
}

type PurgeReport struct {
	Checks          int       `json:"checks_deleted"`
	Snapshots       int       `json:"snapshots_deleted"`
	OrphanedTargets int       `json:"orphaned_targets_disabled"`
	Cutoff          time.Time `json:"cutoff,omitempty"`
}

func NewRetention(store database.Maintainer, hosting database.HostingLookup, registry *Registry, snapshots *SnapshotStore, maxAge time.Duration) *Retention {
	return &Retention{
		store:     store,
		hosting:   hosting,
		registry:  registry,
		snapshots: snapshots,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Cutoff returns the oldest timestamp kept, or the zero time when history is unbounded.
func (r *Retention) Cutoff() time.Time {
	if r.maxAge <= 0 {
		return time.Time{}
	}
	return r.now().Add(-r.maxAge)
}

// PurgeHistory deletes check results older than the retention window.
func (r *Retention) PurgeHistory(ctx context.Context) (int, error) {
	cutoff := r.Cutoff()
	if cutoff.IsZero() {
		logrus.Debug("History retention unbounded, nothing to purge")
		return 0, nil
	}
	return r.store.PurgeChecksBefore(ctx, cutoff)
}

// PurgeSnapshots deletes snapshot files older than the retention window.
func (r *Retention) PurgeSnapshots(ctx context.Context) (int, error) {
	cutoff := r.Cutoff()
	if cutoff.IsZero() || r.snapshots == nil {
		return 0, nil
	}
	n, err := r.snapshots.PurgeBefore(cutoff)
	if err != nil {
		return n, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	if n > 0 {
		logrus.WithField("deleted", n).Info("Purged old snapshots")
	}
	return n, nil
}

// DisableOrphanedTargets disables enabled targets whose hosting record is
// missing or cancelled, such as one re-enabled by hand after cancellation.
func (r *Retention) DisableOrphanedTargets(ctx context.Context) (int, error) {
	records, err := r.hosting.GetHostingRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read hosting records: %w", err)
	}
	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = rec.Active
	}

	targets, err := r.registry.List(ctx)
	if err != nil {
		return 0, err
	}

	disabled := 0
	for _, t := range targets {
		if !t.Enabled || known[t.HostingID] {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"target":     t.ID,
			"hosting_id": t.HostingID,
		}).Info("Disabling target without an active hosting record")
		if _, err := r.registry.Disable(ctx, t.ID); err != nil {
			logrus.WithError(err).WithField("target", t.ID).Error("Failed to disable orphaned target")
			continue
		}
		disabled++
	}
	return disabled, nil
}

// PurgeAll runs every retention step and reports what was removed.
func (r *Retention) PurgeAll(ctx context.Context) (*PurgeReport, error) {
	logrus.Info("Starting retention purge")

	report := &PurgeReport{Cutoff: r.Cutoff()}
	var errs []string

	n, err := r.PurgeHistory(ctx)
	if err != nil {
		errs = append(errs, fmt.Sprintf("history purge failed: %v", err))
	}
	report.Checks = n

	n, err = r.PurgeSnapshots(ctx)
	if err != nil {
		errs = append(errs, fmt.Sprintf("snapshot purge failed: %v", err))
	}
	report.Snapshots = n

	n, err = r.DisableOrphanedTargets(ctx)
	if err != nil {
		errs = append(errs, fmt.Sprintf("orphan check failed: %v", err))
	}
	report.OrphanedTargets = n

	if len(errs) > 0 {
		return report, fmt.Errorf("purge completed with errors: %s", strings.Join(errs, "; "))
	}

	logrus.WithFields(logrus.Fields{
		"checks":    report.Checks,
		"snapshots": report.Snapshots,
		"orphans":   report.OrphanedTargets,
	}).Info("Retention purge finished")
	return report, nil
}
