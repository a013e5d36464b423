package monitoring

import (
	"testing"
	"time"

	"hostwatch/internal/database"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		prev      database.AlarmPhase
		healthy   bool
		wantPhase database.AlarmPhase
		wantEvent Event
	}{
		{database.PhaseClear, true, database.PhaseClear, EventNone},
		{database.PhaseClear, false, database.PhaseAlarmUnacked, EventRaised},
		{"", false, database.PhaseAlarmUnacked, EventRaised},
		{database.PhaseAlarmUnacked, false, database.PhaseAlarmUnacked, EventNone},
		{database.PhaseAlarmUnacked, true, database.PhaseClear, EventRecovered},
		{database.PhaseAlarmAcked, false, database.PhaseAlarmUnacked, EventRearmed},
		{database.PhaseAlarmAcked, true, database.PhaseClear, EventRecovered},
	}

	for _, tt := range tests {
		phase, event := Transition(tt.prev, tt.healthy)
		if phase != tt.wantPhase || event != tt.wantEvent {
			t.Errorf("Transition(%q, %v) = (%q, %q), want (%q, %q)",
				tt.prev, tt.healthy, phase, event, tt.wantPhase, tt.wantEvent)
		}
	}
}

func result(healthy bool, ts time.Time) *database.CheckResult {
	r := &database.CheckResult{TargetID: "t1", Domain: "example.test", Timestamp: ts, Healthy: healthy}
	if healthy {
		code := 200
		r.StatusCode = &code
	} else {
		msg := "timeout: context deadline exceeded"
		r.Error = &msg
	}
	return r
}

func TestFailAckFailRearms(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	state := &database.AlarmState{TargetID: "t1", Phase: database.PhaseClear}

	state, ev := Apply(state, result(false, t0))
	if ev != EventRaised || state.AlarmSince == nil || !state.AlarmSince.Equal(t0) {
		t.Fatalf("after first failure: event=%q state=%+v", ev, state)
	}

	state, ev = Acknowledge(state, t0.Add(time.Minute))
	if ev != EventAcknowledged || state.Phase != database.PhaseAlarmAcked || state.AcknowledgedAt == nil {
		t.Fatalf("after ack: event=%q state=%+v", ev, state)
	}

	state, ev = Apply(state, result(false, t0.Add(5*time.Minute)))
	if ev != EventRearmed || state.Phase != database.PhaseAlarmUnacked {
		t.Fatalf("after second failure: event=%q phase=%q", ev, state.Phase)
	}
	if state.AcknowledgedAt != nil {
		t.Error("re-armed alarm still carries an acknowledgment")
	}
	if !state.AlarmSince.Equal(t0) {
		t.Errorf("alarm since = %v, want %v", state.AlarmSince, t0)
	}

	state, ev = Apply(state, result(true, t0.Add(10*time.Minute)))
	if ev != EventRecovered || state.Phase != database.PhaseClear || state.AlarmSince != nil {
		t.Fatalf("after recovery: event=%q state=%+v", ev, state)
	}
	if state.LastHealthyAt == nil || !state.LastHealthyAt.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("last healthy = %v", state.LastHealthyAt)
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	clear := &database.AlarmState{TargetID: "t1", Phase: database.PhaseClear}
	if got, ev := Acknowledge(clear, now); ev != EventNone || got.Phase != database.PhaseClear {
		t.Errorf("ack on clear: event=%q phase=%q", ev, got.Phase)
	}

	first := now.Add(-time.Hour)
	acked := &database.AlarmState{TargetID: "t1", Phase: database.PhaseAlarmAcked, AcknowledgedAt: &first}
	got, ev := Acknowledge(acked, now)
	if ev != EventNone || !got.AcknowledgedAt.Equal(first) {
		t.Errorf("second ack changed state: event=%q acked_at=%v", ev, got.AcknowledgedAt)
	}
}

func TestApplyDoesNotModifyPrevious(t *testing.T) {
	prev := &database.AlarmState{TargetID: "t1", Phase: database.PhaseClear}
	Apply(prev, result(false, time.Now()))
	if prev.Phase != database.PhaseClear || prev.LastCheckedAt != nil {
		t.Errorf("previous state mutated: %+v", prev)
	}
}
