// internal/database/boltstore.go
package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	HostingBucket      = []byte("hosting")
	TargetsBucket      = []byte("targets")
	AlarmStateBucket   = []byte("alarm_state")
	ChecksBucket       = []byte("checks")
	CertificatesBucket = []byte("certificates")
	MetaBucket         = []byte("meta")
)

var topLevelBuckets = [][]byte{
	HostingBucket, TargetsBucket, AlarmStateBucket, ChecksBucket, CertificatesBucket, MetaBucket,
}

// monthLayout names the nested per-month buckets under checks. Names sort chronologically.
const monthLayout = "2006-01"

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// Hosting records

func (s *BoltStore) GetHostingRecord(ctx context.Context, id string) (*HostingRecord, error) {
	var rec HostingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(HostingBucket), []byte(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) GetHostingRecords(ctx context.Context) ([]HostingRecord, error) {
	var records []HostingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(HostingBucket).ForEach(func(k, v []byte) error {
			var rec HostingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal hosting record %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) PutHostingRecord(ctx context.Context, rec *HostingRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("hosting record has no ID")
	}
	rec.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(HostingBucket), []byte(rec.ID), rec)
	})
}

// Targets

func (s *BoltStore) GetTargets(ctx context.Context, filters TargetFilters) ([]MonitorTarget, error) {
	var targets []MonitorTarget

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(TargetsBucket).ForEach(func(k, v []byte) error {
			var target MonitorTarget
			if err := json.Unmarshal(v, &target); err != nil {
				return fmt.Errorf("failed to unmarshal target %s: %w", k, err)
			}

			if filters.HostingID != "" && target.HostingID != filters.HostingID {
				return nil
			}
			if filters.Enabled != nil && target.Enabled != *filters.Enabled {
				return nil
			}

			targets = append(targets, target)
			return nil
		})
	})

	return targets, err
}

func (s *BoltStore) GetTarget(ctx context.Context, id string) (*MonitorTarget, error) {
	var target MonitorTarget
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(TargetsBucket), []byte(id), &target)
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (s *BoltStore) CreateTarget(ctx context.Context, target *MonitorTarget) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	now := time.Now()
	target.CreatedAt = now
	target.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(TargetsBucket)
		if b.Get([]byte(target.ID)) != nil {
			return fmt.Errorf("target %s already exists", target.ID)
		}
		if err := putJSON(b, []byte(target.ID), target); err != nil {
			return err
		}

		// every target starts clear
		ab := tx.Bucket(AlarmStateBucket)
		if ab.Get([]byte(target.ID)) == nil {
			return putJSON(ab, []byte(target.ID), &AlarmState{TargetID: target.ID, Phase: PhaseClear})
		}
		return nil
	})
}

func (s *BoltStore) UpdateTarget(ctx context.Context, target *MonitorTarget) error {
	target.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(TargetsBucket)
		if b.Get([]byte(target.ID)) == nil {
			return ErrNotFound
		}
		return putJSON(b, []byte(target.ID), target)
	})
}

// Alarm state

func (s *BoltStore) GetAlarmState(ctx context.Context, targetID string) (*AlarmState, error) {
	var state AlarmState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(AlarmStateBucket), []byte(targetID), &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) GetAlarmStates(ctx context.Context) ([]AlarmState, error) {
	var states []AlarmState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(AlarmStateBucket).ForEach(func(k, v []byte) error {
			var state AlarmState
			if err := json.Unmarshal(v, &state); err != nil {
				return nil // Skip malformed entries
			}
			states = append(states, state)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) PutAlarmState(ctx context.Context, state *AlarmState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(AlarmStateBucket), []byte(state.TargetID), state)
	})
}

// Check log

// checkKey orders entries by timestamp, then target, then insertion sequence.
func checkKey(ts time.Time, targetID string, seq uint64) []byte {
	key := make([]byte, 0, 16+len(targetID))
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	key = append(key, targetID...)
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

func timeKey(ts time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(ts.UnixNano()))
}

func monthName(ts time.Time) []byte {
	return []byte(ts.UTC().Format(monthLayout))
}

func (s *BoltStore) RecordCheck(ctx context.Context, result *CheckResult, state *AlarmState) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if state.TargetID != result.TargetID {
		return fmt.Errorf("alarm state for %s does not match check target %s", state.TargetID, result.TargetID)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		month, err := tx.Bucket(ChecksBucket).CreateBucketIfNotExists(monthName(result.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to create month bucket: %w", err)
		}
		seq, err := month.NextSequence()
		if err != nil {
			return err
		}
		if err := putJSON(month, checkKey(result.Timestamp, result.TargetID, seq), result); err != nil {
			return err
		}
		return putJSON(tx.Bucket(AlarmStateBucket), []byte(state.TargetID), state)
	})
}

// GetChecks returns matching results in ascending timestamp order.
func (s *BoltStore) GetChecks(ctx context.Context, filters CheckFilters) ([]CheckResult, error) {
	var results []CheckResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		checks := tx.Bucket(ChecksBucket)
		months := checks.Cursor()

		var first []byte
		if !filters.From.IsZero() {
			first = monthName(filters.From)
		}
		var last []byte
		if !filters.To.IsZero() {
			last = monthName(filters.To.Add(-time.Nanosecond))
		}

		name, v := months.First()
		if first != nil {
			name, v = months.Seek(first)
		}
		for ; name != nil; name, v = months.Next() {
			if v != nil {
				continue // not a month bucket
			}
			if last != nil && bytes.Compare(name, last) > 0 {
				break
			}
			done, err := scanMonth(checks.Bucket(name), filters, func(r CheckResult) {
				results = append(results, r)
			}, func() int { return len(results) })
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		return nil
	})

	return results, err
}

func scanMonth(b *bbolt.Bucket, filters CheckFilters, emit func(CheckResult), count func() int) (bool, error) {
	c := b.Cursor()

	var k, v []byte
	if filters.From.IsZero() {
		k, v = c.First()
	} else {
		k, v = c.Seek(timeKey(filters.From))
	}

	var end []byte
	if !filters.To.IsZero() {
		end = timeKey(filters.To)
	}

	for ; k != nil; k, v = c.Next() {
		if end != nil && bytes.Compare(k[:8], end) >= 0 {
			return true, nil
		}
		if filters.TargetID != "" && string(k[8:len(k)-8]) != filters.TargetID {
			continue
		}
		var r CheckResult
		if err := json.Unmarshal(v, &r); err != nil {
			return false, fmt.Errorf("failed to unmarshal check %x: %w", k, err)
		}
		emit(r)
		if filters.Limit > 0 && count() >= filters.Limit {
			return true, nil
		}
	}
	return false, nil
}

func (s *BoltStore) GetLatestCheck(ctx context.Context, targetID string) (*CheckResult, error) {
	var latest *CheckResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		checks := tx.Bucket(ChecksBucket)
		months := checks.Cursor()
		for name, v := months.Last(); name != nil; name, v = months.Prev() {
			if v != nil {
				continue
			}
			c := checks.Bucket(name).Cursor()
			for k, v := c.Last(); k != nil; k, v = c.Prev() {
				if string(k[8:len(k)-8]) != targetID {
					continue
				}
				var r CheckResult
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				latest = &r
				return nil
			}
		}
		return ErrNotFound
	})

	if err != nil {
		return nil, err
	}
	return latest, nil
}

// Certificates

func (s *BoltStore) GetCertificate(ctx context.Context, domain string) (*CertificateState, error) {
	var cert CertificateState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(CertificatesBucket), []byte(domain), &cert)
	})
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (s *BoltStore) GetCertificates(ctx context.Context) ([]CertificateState, error) {
	var certs []CertificateState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(CertificatesBucket).ForEach(func(k, v []byte) error {
			var cert CertificateState
			if err := json.Unmarshal(v, &cert); err != nil {
				return fmt.Errorf("failed to unmarshal certificate %s: %w", k, err)
			}
			certs = append(certs, cert)
			return nil
		})
	})
	sort.Slice(certs, func(i, j int) bool { return certs[i].Domain < certs[j].Domain })
	return certs, err
}

func (s *BoltStore) PutCertificate(ctx context.Context, cert *CertificateState) error {
	if cert.Domain == "" {
		return fmt.Errorf("certificate has no domain")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(CertificatesBucket), []byte(cert.Domain), cert)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
