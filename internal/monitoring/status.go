// internal/monitoring/status.go
package monitoring

import (
	"time"

	"hostwatch/internal/database"
)

// TargetStatus is the externally visible view of one target.
type TargetStatus struct {
	TargetID           string              `json:"target_id"`
	HostingID          string              `json:"hosting_id"`
	Domain             string              `json:"domain"`
	URL                string              `json:"url"`
	Enabled            bool                `json:"enabled"`
	Phase              database.AlarmPhase `json:"phase"`
	Up                 bool                `json:"up"`
	AlarmActive        bool                `json:"alarm_active"`
	Acknowledged       bool                `json:"acknowledged"`
	LastCheckedAt      *time.Time          `json:"last_checked_at"`
	LastStatusCode     *int                `json:"last_status_code"`
	LastResponseTimeMS *int64              `json:"last_response_time_ms"`
	LastError          *string             `json:"last_error"`
	LastSnapshotPath   *string             `json:"last_snapshot_path"`
	AlarmSince         *time.Time          `json:"alarm_since,omitempty"`
	AcknowledgedAt     *time.Time          `json:"acknowledged_at,omitempty"`
}

func NewTargetStatus(target *database.MonitorTarget, state *database.AlarmState) TargetStatus {
	if state == nil {
		state = &database.AlarmState{TargetID: target.ID, Phase: database.PhaseClear}
	}
	return TargetStatus{
		TargetID:           target.ID,
		HostingID:          target.HostingID,
		Domain:             target.Domain,
		URL:                target.URL,
		Enabled:            target.Enabled,
		Phase:              state.Phase,
		Up:                 state.Up(),
		AlarmActive:        state.AlarmActive(),
		Acknowledged:       state.Acknowledged(),
		LastCheckedAt:      state.LastCheckedAt,
		LastStatusCode:     state.LastStatusCode,
		LastResponseTimeMS: state.LastResponseTimeMS,
		LastError:          state.LastError,
		LastSnapshotPath:   state.LastSnapshotPath,
		AlarmSince:         state.AlarmSince,
		AcknowledgedAt:     state.AcknowledgedAt,
	}
}
