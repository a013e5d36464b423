package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hostwatch/internal/database"
)

type fakeProber struct {
	mu      sync.Mutex
	calls   map[string]int
	started chan string
	release chan struct{}
}

func (f *fakeProber) Probe(ctx context.Context, target *database.MonitorTarget) *Outcome {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[target.ID]++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- target.ID
	}
	if f.release != nil {
		<-f.release
	}
	return healthyOutcome(time.Now())
}

func (f *fakeProber) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func putHosting(t *testing.T, store database.Store, id, domain string, active bool) {
	t.Helper()
	if err := store.PutHostingRecord(context.Background(), &database.HostingRecord{ID: id, Domain: domain, Active: active}); err != nil {
		t.Fatal(err)
	}
}

func TestSweepProbesEachEnabledTargetOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	putHosting(t, store, "h1", "one.test", true)
	putHosting(t, store, "h2", "two.test", true)
	putHosting(t, store, "h3", "three.test", true)

	registry := NewRegistry(store, store, 0)
	if err := registry.SyncFromHosting(ctx); err != nil {
		t.Fatal(err)
	}
	targets, _ := registry.List(ctx)
	if _, err := registry.Disable(ctx, targets[0].ID); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{}
	s := NewScheduler(registry, prober, NewStateTracker(store, nil, nil, nil), nil, SchedulerOptions{
		Interval: time.Hour,
		Timeout:  time.Second,
		Workers:  2,
	})
	s.startWorkers(ctx)

	if !s.RunSweep(ctx) {
		t.Fatal("sweep skipped")
	}

	if n := prober.count(targets[0].ID); n != 0 {
		t.Errorf("disabled target probed %d times", n)
	}
	for _, target := range targets[1:] {
		if n := prober.count(target.ID); n != 1 {
			t.Errorf("%s probed %d times, want 1", target.Domain, n)
		}
		checks, _ := store.GetChecks(ctx, database.CheckFilters{TargetID: target.ID})
		if len(checks) != 1 {
			t.Errorf("%s has %d checks, want 1", target.Domain, len(checks))
		}
	}
}

func TestSweepSkippedWhileBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	putHosting(t, store, "h1", "slow.test", true)
	registry := NewRegistry(store, store, 0)
	if err := registry.SyncFromHosting(ctx); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{started: make(chan string, 1), release: make(chan struct{})}
	s := NewScheduler(registry, prober, NewStateTracker(store, nil, nil, nil), nil, SchedulerOptions{
		Interval: time.Hour,
		Timeout:  time.Minute,
		Workers:  1,
	})
	s.startWorkers(ctx)

	done := make(chan bool)
	go func() { done <- s.RunSweep(ctx) }()

	<-prober.started
	if s.RunSweep(ctx) {
		t.Error("second sweep ran while the first was in flight")
	}

	close(prober.release)
	if !<-done {
		t.Error("first sweep reported as skipped")
	}
	if !s.RunSweep(ctx) {
		t.Error("sweep skipped after the previous one finished")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	store := newTestStore(t)
	putHosting(t, store, "h1", "tick.test", true)
	registry := NewRegistry(store, store, 0)
	if err := registry.SyncFromHosting(context.Background()); err != nil {
		t.Fatal(err)
	}
	prober := &fakeProber{started: make(chan string, 1)}
	s := NewScheduler(registry, prober, NewStateTracker(store, nil, nil, nil), nil, SchedulerOptions{
		Interval: time.Hour,
		Timeout:  time.Second,
		Workers:  1,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-prober.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep on start")
	}
	s.Stop()
	s.Stop()
}

// slowSite answers 200 after delay and reports each request on arrived.
func slowSite(t *testing.T, delay time.Duration) (*httptest.Server, chan struct{}) {
	t.Helper()
	arrived := make(chan struct{}, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	return ts, arrived
}

func slowSiteScheduler(t *testing.T, url string, timeout time.Duration) (*Scheduler, *database.BoltStore, *database.MonitorTarget) {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.PutHostingRecord(ctx, &database.HostingRecord{ID: "h1", Domain: "slow.test", URL: url, Active: true}); err != nil {
		t.Fatal(err)
	}
	registry := NewRegistry(store, store, 0)
	target, err := registry.Register(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	prober := NewHTTPProber(timeout, nil, 1024, "")
	s := NewScheduler(registry, prober, NewStateTracker(store, nil, nil, nil), nil, SchedulerOptions{
		Interval: time.Hour,
		Timeout:  timeout,
		Workers:  1,
	})
	return s, store, target
}

func TestStopDuringCheckRecordsNothing(t *testing.T) {
	ts, arrived := slowSite(t, 2*time.Second)
	s, store, target := slowSiteScheduler(t, ts.URL, 10*time.Second)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("no request on start")
	}
	s.Stop()

	checks, err := store.GetChecks(context.Background(), database.CheckFilters{TargetID: target.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 0 {
		t.Errorf("recorded %d checks cut short by shutdown: %+v", len(checks), checks[0])
	}
	if _, err := store.GetAlarmState(context.Background(), target.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("alarm state written after shutdown: err = %v", err)
	}
}

func TestCheckTimeoutIsRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts, _ := slowSite(t, 2*time.Second)
	s, store, target := slowSiteScheduler(t, ts.URL, 50*time.Millisecond)
	s.startWorkers(ctx)

	if !s.RunSweep(ctx) {
		t.Fatal("sweep skipped")
	}

	checks, _ := store.GetChecks(ctx, database.CheckFilters{TargetID: target.ID})
	if len(checks) != 1 || checks[0].Healthy || checks[0].Error == nil {
		t.Fatalf("checks = %+v", checks)
	}
	state, err := store.GetAlarmState(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != database.PhaseAlarmUnacked {
		t.Errorf("phase = %s, want %s", state.Phase, database.PhaseAlarmUnacked)
	}
}

func TestInterruptedByShutdown(t *testing.T) {
	live := context.Background()
	stopped, cancel := context.WithCancel(context.Background())
	cancel()

	failed := &Outcome{Err: errors.New("context canceled")}
	tests := []struct {
		name     string
		ctx      context.Context
		probeErr error
		outcome  *Outcome
		want     bool
	}{
		{"running worker", live, nil, failed, false},
		{"cancelled mid check", stopped, context.Canceled, failed, true},
		{"own deadline before shutdown", stopped, context.DeadlineExceeded, failed, false},
		{"healthy answer during shutdown", stopped, context.Canceled, healthyOutcome(time.Now()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := interruptedByShutdown(tt.ctx, tt.probeErr, tt.outcome); got != tt.want {
				t.Errorf("interruptedByShutdown = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	putHosting(t, store, "h1", "shop.test", true)
	putHosting(t, store, "h2", "gone.test", false)
	registry := NewRegistry(store, store, time.Hour)

	target, err := registry.Register(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if target.URL != "https://shop.test/" || !target.Enabled {
		t.Errorf("target = %+v", target)
	}

	again, err := registry.Register(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != target.ID {
		t.Error("re-registering created a second target")
	}

	if _, err := registry.Register(ctx, "h2"); !errors.Is(err, ErrHostingInactive) {
		t.Errorf("cancelled hosting: err = %v", err)
	}
	if _, err := registry.Register(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing hosting: err = %v", err)
	}

	enabled, _ := registry.Enabled(ctx)
	if len(enabled) != 1 {
		t.Fatalf("enabled = %d", len(enabled))
	}

	// the cache is invalidated by mutations
	if _, err := registry.Disable(ctx, target.ID); err != nil {
		t.Fatal(err)
	}
	if enabled, _ := registry.Enabled(ctx); len(enabled) != 0 {
		t.Errorf("disabled target still enabled")
	}

	// cancelling the hosting record disables the target on the next sync
	if _, err := registry.Enable(ctx, target.ID); err != nil {
		t.Fatal(err)
	}
	putHosting(t, store, "h1", "shop.test", false)
	if err := registry.SyncFromHosting(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := registry.Get(ctx, target.ID)
	if got.Enabled {
		t.Error("target of cancelled hosting still enabled")
	}
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	putHosting(t, store, "h1", "kept.test", true)
	registry := NewRegistry(store, store, 0)
	kept, err := registry.Register(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	orphan := newTestTarget(t, store, "orphan.test")

	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	tracker := NewStateTracker(store, nil, nil, nil)
	for _, ts := range []time.Time{now.AddDate(0, -3, 0), now.AddDate(0, -2, 0), now.AddDate(0, 0, -1)} {
		if _, _, err := tracker.Record(ctx, kept, healthyOutcome(ts)); err != nil {
			t.Fatal(err)
		}
	}

	snapshots := NewSnapshotStore(t.TempDir())
	oldPath, err := snapshots.Save(kept.ID, kept.Domain, timeoutOutcome(now.AddDate(0, -2, 0)))
	if err != nil {
		t.Fatal(err)
	}
	old := now.AddDate(0, -2, 0)
	if err := os.Chtimes(oldPath, old, old); err != nil {
		t.Fatal(err)
	}
	newPath, err := snapshots.Save(kept.ID, kept.Domain, timeoutOutcome(now))
	if err != nil {
		t.Fatal(err)
	}

	r := NewRetention(store, store, registry, snapshots, 30*24*time.Hour)
	r.now = func() time.Time { return now }

	report, err := r.PurgeAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checks != 2 || report.Snapshots != 1 || report.OrphanedTargets != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("recent snapshot removed: %v", err)
	}
	if _, err := os.Stat(filepath.Clean(oldPath)); !os.IsNotExist(err) {
		t.Errorf("old snapshot kept: %v", err)
	}

	got, _ := registry.Get(ctx, orphan.ID)
	if got.Enabled {
		t.Error("orphaned target still enabled")
	}

	unbounded := NewRetention(store, store, registry, snapshots, 0)
	if !unbounded.Cutoff().IsZero() {
		t.Error("zero retention should be unbounded")
	}
	if n, _ := unbounded.PurgeHistory(ctx); n != 0 {
		t.Errorf("unbounded purge deleted %d checks", n)
	}
}
