// internal/monitoring/tracker.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifications"
)

// Notifier delivers human-facing notifications.
type Notifier interface {
	Send(ctx context.Context, event *notifications.Event) error
}

// ChangeFunc observes every state update. event is EventNone when the phase did not change.
type ChangeFunc func(target *database.MonitorTarget, state *database.AlarmState, event Event)

// StateTracker turns probe outcomes into check log entries and alarm state,
// serialising updates per target.
type StateTracker struct {
	store     database.Store
	snapshots *SnapshotStore
	metrics   *metrics.Collector
	notifier  Notifier
	locks     keyedMutex
	now       func() time.Time

	mu        sync.RWMutex
	listeners []ChangeFunc
}

func NewStateTracker(store database.Store, snapshots *SnapshotStore, collector *metrics.Collector, notifier Notifier) *StateTracker {
	return &StateTracker{
		store:     store,
		snapshots: snapshots,
		metrics:   collector,
		notifier:  notifier,
		locks:     keyedMutex{locks: make(map[string]*sync.Mutex)},
		now:       time.Now,
	}
}

func (t *StateTracker) Subscribe(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Record appends exactly one CheckResult for the outcome and advances the target's alarm state.
func (t *StateTracker) Record(ctx context.Context, target *database.MonitorTarget, out *Outcome) (*database.CheckResult, *database.AlarmState, error) {
	result := t.buildResult(target, out)

	unlock := t.locks.Lock(target.ID)
	prev, err := t.store.GetAlarmState(ctx, target.ID)
	if errors.Is(err, database.ErrNotFound) {
		prev = &database.AlarmState{TargetID: target.ID, Phase: database.PhaseClear}
	} else if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("failed to load alarm state: %w", err)
	}

	next, event := Apply(prev, result)
	if err := t.store.RecordCheck(ctx, result, next); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("failed to record check: %w", err)
	}
	unlock()

	t.metrics.RecordCheckResult(target.Domain, result.Healthy, out.ResponseTime)
	t.metrics.UpdateAlarmState(target.Domain, next)

	fields := logrus.Fields{
		"target":  target.ID,
		"domain":  target.Domain,
		"healthy": result.Healthy,
		"phase":   next.Phase,
	}
	if result.StatusCode != nil {
		fields["status"] = *result.StatusCode
	}
	if result.Error != nil {
		fields["error"] = *result.Error
	}

	if event != EventNone {
		fields["event"] = event
		logrus.WithFields(fields).Info("Alarm state changed")
		t.metrics.RecordTransition(string(event))
		t.notify(target, next, result, event)
	} else {
		logrus.WithFields(fields).Debug("Check recorded")
	}

	t.emit(target, next, event)
	return result, next, nil
}

// Acknowledge applies an operator acknowledgment. It is a no-op unless the alarm
// is active and unacknowledged.
func (t *StateTracker) Acknowledge(ctx context.Context, target *database.MonitorTarget) (*database.AlarmState, error) {
	unlock := t.locks.Lock(target.ID)
	prev, err := t.store.GetAlarmState(ctx, target.ID)
	if errors.Is(err, database.ErrNotFound) {
		prev = &database.AlarmState{TargetID: target.ID, Phase: database.PhaseClear}
	} else if err != nil {
		unlock()
		return nil, err
	}

	next, event := Acknowledge(prev, t.now())
	if event == EventNone {
		unlock()
		return prev, nil
	}
	if err := t.store.PutAlarmState(ctx, next); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to store acknowledgment: %w", err)
	}
	unlock()

	logrus.WithFields(logrus.Fields{
		"target": target.ID,
		"domain": target.Domain,
	}).Info("Alarm acknowledged")

	t.metrics.UpdateAlarmState(target.Domain, next)
	t.metrics.RecordTransition(string(event))
	t.emit(target, next, event)
	return next, nil
}

func (t *StateTracker) buildResult(target *database.MonitorTarget, out *Outcome) *database.CheckResult {
	result := &database.CheckResult{
		TargetID:  target.ID,
		Domain:    target.Domain,
		Timestamp: out.StartedAt,
		Healthy:   out.Healthy && out.Err == nil,
	}

	if out.Err != nil {
		msg := out.Err.Error()
		result.Error = &msg
	} else {
		code := out.StatusCode
		ms := out.ResponseTime.Milliseconds()
		result.StatusCode = &code
		result.ResponseTimeMS = &ms
	}

	if !result.Healthy && t.snapshots != nil {
		path, err := t.snapshots.Save(target.ID, target.Domain, out)
		if err != nil {
			logrus.WithError(err).WithField("domain", target.Domain).Warn("Failed to capture failure snapshot")
		} else {
			result.SnapshotPath = &path
		}
	}
	return result
}

func (t *StateTracker) notify(target *database.MonitorTarget, state *database.AlarmState, result *database.CheckResult, event Event) {
	if t.notifier == nil {
		return
	}

	ev := &notifications.Event{
		Type:      string(event),
		Key:       target.ID,
		Domain:    target.Domain,
		URL:       target.URL,
		Summary:   summarize(state, result, event),
		Timestamp: result.Timestamp,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.notifier.Send(ctx, ev); err != nil {
			logrus.WithError(err).WithField("domain", target.Domain).Error("Failed to send notification")
		}
	}()
}

func (t *StateTracker) emit(target *database.MonitorTarget, state *database.AlarmState, event Event) {
	t.mu.RLock()
	listeners := t.listeners
	t.mu.RUnlock()
	for _, fn := range listeners {
		fn(target, state, event)
	}
}

func summarize(state *database.AlarmState, result *database.CheckResult, event Event) string {
	cause := "unhealthy response"
	if result.Error != nil {
		cause = *result.Error
	} else if result.StatusCode != nil {
		cause = fmt.Sprintf("HTTP %d", *result.StatusCode)
	}

	switch event {
	case EventRaised:
		return "is down: " + cause
	case EventRearmed:
		since := ""
		if state.AlarmSince != nil {
			since = ", down since " + humanize.Time(*state.AlarmSince)
		}
		return "failed again after acknowledgment: " + cause + since
	case EventRecovered:
		if state.LastResponseTimeMS != nil {
			return fmt.Sprintf("recovered (HTTP %d in %dms)", *state.LastStatusCode, *state.LastResponseTimeMS)
		}
		return "recovered"
	default:
		return cause
	}
}

// keyedMutex hands out one mutex per key. Entries live as long as the process;
// the key space is the registered target set.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
