// internal/database/store.go
package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// HostingLookup is the read side of the surrounding application's hosting records.
type HostingLookup interface {
	GetHostingRecord(ctx context.Context, id string) (*HostingRecord, error)
	GetHostingRecords(ctx context.Context) ([]HostingRecord, error)
}

// Store defines the interface for database operations
type Store interface {
	HostingLookup
	PutHostingRecord(ctx context.Context, rec *HostingRecord) error

	// Registry operations
	GetTargets(ctx context.Context, filters TargetFilters) ([]MonitorTarget, error)
	GetTarget(ctx context.Context, id string) (*MonitorTarget, error)
	CreateTarget(ctx context.Context, target *MonitorTarget) error
	UpdateTarget(ctx context.Context, target *MonitorTarget) error

	// Alarm state operations
	GetAlarmState(ctx context.Context, targetID string) (*AlarmState, error)
	GetAlarmStates(ctx context.Context) ([]AlarmState, error)
	PutAlarmState(ctx context.Context, state *AlarmState) error

	// RecordCheck appends the result and stores the new alarm state atomically.
	RecordCheck(ctx context.Context, result *CheckResult, state *AlarmState) error
	GetChecks(ctx context.Context, filters CheckFilters) ([]CheckResult, error)
	GetLatestCheck(ctx context.Context, targetID string) (*CheckResult, error)

	// Certificate operations
	GetCertificate(ctx context.Context, domain string) (*CertificateState, error)
	GetCertificates(ctx context.Context) ([]CertificateState, error)
	PutCertificate(ctx context.Context, cert *CertificateState) error

	Close() error
}
