package monitoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hostwatch/internal/database"
)

func newTestStore(t *testing.T) *database.BoltStore {
	t.Helper()
	s, err := database.NewBoltStore(filepath.Join(t.TempDir(), "monitoring.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTarget(t *testing.T, store database.Store, domain string) *database.MonitorTarget {
	t.Helper()
	target := &database.MonitorTarget{HostingID: "h-" + domain, Domain: domain, URL: "https://" + domain + "/", Enabled: true}
	if err := store.CreateTarget(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	return target
}

func healthyOutcome(ts time.Time) *Outcome {
	return &Outcome{StartedAt: ts, StatusCode: 200, ResponseTime: 85 * time.Millisecond, Healthy: true}
}

func timeoutOutcome(ts time.Time) *Outcome {
	return &Outcome{StartedAt: ts, Err: errors.New("timeout: context deadline exceeded")}
}

func TestSteadyHealthyProducesNoTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	target := newTestTarget(t, store, "steady.test")
	tracker := NewStateTracker(store, NewSnapshotStore(t.TempDir()), nil, nil)

	var mu sync.Mutex
	var events []Event
	tracker.Subscribe(func(_ *database.MonitorTarget, _ *database.AlarmState, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev != EventNone {
			events = append(events, ev)
		}
	})

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if _, _, err := tracker.Record(ctx, target, healthyOutcome(t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	checks, err := store.GetChecks(ctx, database.CheckFilters{TargetID: target.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 10 {
		t.Errorf("got %d checks, want 10", len(checks))
	}
	if len(events) != 0 {
		t.Errorf("unexpected transitions: %v", events)
	}

	state, err := store.GetAlarmState(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseClear || !state.LastCheckedAt.Equal(t0.Add(9*time.Minute)) {
		t.Errorf("state = %+v", state)
	}
}

func TestTimeoutThenRecovery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	target := newTestTarget(t, store, "flaky.test")
	snapshots := NewSnapshotStore(t.TempDir())
	tracker := NewStateTracker(store, snapshots, nil, nil)

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	failed, state, err := tracker.Record(ctx, target, timeoutOutcome(t0))
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseAlarmUnacked || failed.Healthy {
		t.Fatalf("after timeout: phase=%q healthy=%v", state.Phase, failed.Healthy)
	}
	if failed.StatusCode != nil || failed.ResponseTimeMS != nil || failed.Error == nil {
		t.Errorf("timeout result = %+v", failed)
	}
	if failed.SnapshotPath == nil {
		t.Fatal("failure has no snapshot")
	}
	if _, err := os.Stat(*failed.SnapshotPath); err != nil {
		t.Errorf("snapshot missing on disk: %v", err)
	}
	if !snapshots.Contains(*failed.SnapshotPath) {
		t.Errorf("snapshot %s outside %s", *failed.SnapshotPath, snapshots.Dir())
	}

	ok, state, err := tracker.Record(ctx, target, healthyOutcome(t0.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseClear || ok.SnapshotPath != nil {
		t.Errorf("after recovery: phase=%q snapshot=%v", state.Phase, ok.SnapshotPath)
	}
	if state.LastSnapshotPath == nil || *state.LastSnapshotPath != *failed.SnapshotPath {
		t.Errorf("last snapshot = %v, want %s", state.LastSnapshotPath, *failed.SnapshotPath)
	}

	checks, _ := store.GetChecks(ctx, database.CheckFilters{TargetID: target.ID})
	if len(checks) != 2 {
		t.Errorf("got %d checks, want 2", len(checks))
	}
}

func TestTrackerAcknowledge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	target := newTestTarget(t, store, "ack.test")
	tracker := NewStateTracker(store, nil, nil, nil)

	state, err := tracker.Acknowledge(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseClear {
		t.Errorf("ack on clear changed phase to %q", state.Phase)
	}

	t0 := time.Now()
	if _, _, err := tracker.Record(ctx, target, timeoutOutcome(t0)); err != nil {
		t.Fatal(err)
	}

	var got []Event
	tracker.Subscribe(func(_ *database.MonitorTarget, _ *database.AlarmState, ev Event) {
		got = append(got, ev)
	})

	state, err = tracker.Acknowledge(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseAlarmAcked {
		t.Fatalf("phase = %q", state.Phase)
	}
	stored, _ := store.GetAlarmState(ctx, target.ID)
	if stored.Phase != database.PhaseAlarmAcked {
		t.Errorf("stored phase = %q", stored.Phase)
	}

	// a second ack leaves the state alone and emits nothing
	if _, err := tracker.Acknowledge(ctx, target); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != EventAcknowledged {
		t.Errorf("events = %v", got)
	}

	_, state, _ = tracker.Record(ctx, target, timeoutOutcome(t0.Add(time.Minute)))
	if state.Phase != database.PhaseAlarmUnacked {
		t.Errorf("failure after ack: phase = %q", state.Phase)
	}
}

func TestConcurrentRecordsAreSerialised(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	target := newTestTarget(t, store, "busy.test")
	tracker := NewStateTracker(store, nil, nil, nil)

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.Record(ctx, target, healthyOutcome(t0.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	checks, _ := store.GetChecks(ctx, database.CheckFilters{TargetID: target.ID})
	if len(checks) != 20 {
		t.Errorf("got %d checks, want 20", len(checks))
	}
}
