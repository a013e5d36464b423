// internal/monitoring/alarm.go
package monitoring

import (
	"time"

	"hostwatch/internal/database"
)

// Event names an alarm transition. The zero value means nothing changed.
type Event string

const (
	EventNone         Event = ""
	EventRaised       Event = "alarm_raised"
	EventRearmed      Event = "alarm_rearmed"
	EventRecovered    Event = "alarm_recovered"
	EventAcknowledged Event = "alarm_acknowledged"
)

// Transition is the single alarm state machine step for a classified check.
//
//	clear         + fail    -> alarm_unacked (raised)
//	alarm_unacked + fail    -> alarm_unacked
//	alarm_acked   + fail    -> alarm_unacked (rearmed)
//	alarm_*       + healthy -> clear (recovered)
//	clear         + healthy -> clear
func Transition(prev database.AlarmPhase, healthy bool) (database.AlarmPhase, Event) {
	if healthy {
		if prev == database.PhaseClear || prev == "" {
			return database.PhaseClear, EventNone
		}
		return database.PhaseClear, EventRecovered
	}

	switch prev {
	case database.PhaseAlarmUnacked:
		return database.PhaseAlarmUnacked, EventNone
	case database.PhaseAlarmAcked:
		return database.PhaseAlarmUnacked, EventRearmed
	default:
		return database.PhaseAlarmUnacked, EventRaised
	}
}

// Apply folds a check result into the previous state and returns the new state.
// prev is not modified.
func Apply(prev *database.AlarmState, result *database.CheckResult) (*database.AlarmState, Event) {
	next := *prev
	next.TargetID = result.TargetID

	phase, event := Transition(prev.Phase, result.Healthy)
	next.Phase = phase

	ts := result.Timestamp
	next.LastCheckedAt = &ts
	next.LastStatusCode = result.StatusCode
	next.LastResponseTimeMS = result.ResponseTimeMS
	next.LastError = result.Error
	if result.SnapshotPath != nil {
		next.LastSnapshotPath = result.SnapshotPath
	}

	switch event {
	case EventRaised:
		next.AlarmSince = &ts
		next.AcknowledgedAt = nil
	case EventRearmed:
		next.AcknowledgedAt = nil
		if next.AlarmSince == nil {
			next.AlarmSince = &ts
		}
	case EventRecovered:
		next.AlarmSince = nil
		next.AcknowledgedAt = nil
	}
	if result.Healthy {
		next.LastHealthyAt = &ts
	}

	return &next, event
}

// Acknowledge moves an unacknowledged alarm to acknowledged. Any other phase
// is returned unchanged with EventNone.
func Acknowledge(prev *database.AlarmState, now time.Time) (*database.AlarmState, Event) {
	if prev.Phase != database.PhaseAlarmUnacked {
		return prev, EventNone
	}
	next := *prev
	next.Phase = database.PhaseAlarmAcked
	next.AcknowledgedAt = &now
	return &next, EventAcknowledged
}
