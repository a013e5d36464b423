// internal/database/models.go
package database

import (
	"time"
)

type HostingRecord struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	URL       string    `json:"url,omitempty"`
	Client    string    `json:"client,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProbeURL is the URL monitored for this record, derived from the domain when unset.
func (h *HostingRecord) ProbeURL() string {
	if h.URL != "" {
		return h.URL
	}
	return "https://" + h.Domain + "/"
}

type MonitorTarget struct {
	ID        string    `json:"id"`
	HostingID string    `json:"hosting_id"`
	Domain    string    `json:"domain"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckResult is one probe execution. Exactly one of StatusCode and Error is set.
type CheckResult struct {
	ID             string    `json:"id"`
	TargetID       string    `json:"target_id"`
	Domain         string    `json:"domain"`
	Timestamp      time.Time `json:"timestamp"`
	StatusCode     *int      `json:"status_code"`
	ResponseTimeMS *int64    `json:"response_time_ms"`
	Error          *string   `json:"error"`
	SnapshotPath   *string   `json:"snapshot_path"`
	Healthy        bool      `json:"healthy"`
}

type AlarmPhase string

const (
	PhaseClear        AlarmPhase = "clear"
	PhaseAlarmUnacked AlarmPhase = "alarm_unacked"
	PhaseAlarmAcked   AlarmPhase = "alarm_acked"
)

// AlarmState is the materialised cursor over a target's check log.
type AlarmState struct {
	TargetID           string     `json:"target_id"`
	Phase              AlarmPhase `json:"phase"`
	LastCheckedAt      *time.Time `json:"last_checked_at"`
	LastStatusCode     *int       `json:"last_status_code"`
	LastResponseTimeMS *int64     `json:"last_response_time_ms"`
	LastError          *string    `json:"last_error"`
	LastSnapshotPath   *string    `json:"last_snapshot_path"`
	LastHealthyAt      *time.Time `json:"last_healthy_at"`
	AlarmSince         *time.Time `json:"alarm_since"`
	AcknowledgedAt     *time.Time `json:"acknowledged_at"`
}

func (a *AlarmState) AlarmActive() bool {
	return a.Phase == PhaseAlarmUnacked || a.Phase == PhaseAlarmAcked
}

func (a *AlarmState) Acknowledged() bool {
	return a.Phase == PhaseAlarmAcked
}

func (a *AlarmState) Up() bool {
	return !a.AlarmActive()
}

type CertStatus string

const (
	CertNotFound     CertStatus = "not_found"
	CertValid        CertStatus = "valid"
	CertExpiringSoon CertStatus = "expiring_soon"
	CertExpired      CertStatus = "expired"
	CertNotYetValid  CertStatus = "not_yet_valid"
)

const (
	CertSourceHosting = "hosting"
	CertSourceManual  = "manual"
)

type CertificateState struct {
	Domain          string     `json:"domain"`
	Status          CertStatus `json:"status"`
	Issuer          string     `json:"issuer,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidTo         *time.Time `json:"valid_to"`
	DaysUntilExpiry *int       `json:"days_until_expiry"`
	LastCheckedAt   *time.Time `json:"last_checked_at"`
	LastRenewedAt   *time.Time `json:"last_renewed_at"`
	LastError       string     `json:"last_error,omitempty"`
	Source          string     `json:"source"`
}

type TargetFilters struct {
	HostingID string
	Enabled   *bool
}

type CheckFilters struct {
	TargetID string
	From     time.Time // inclusive
	To       time.Time // exclusive
	Limit    int
}
