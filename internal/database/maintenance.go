// internal/database/maintenance.go
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Maintainer is implemented by stores that support history purging.
type Maintainer interface {
	PurgeChecksBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	HostingRecords int        `json:"hosting_records"`
	Targets        int        `json:"targets"`
	Certificates   int        `json:"certificates"`
	Checks         int        `json:"checks"`
	Months         []string   `json:"months"`
	OldestCheck    *time.Time `json:"oldest_check,omitempty"`
	NewestCheck    *time.Time `json:"newest_check,omitempty"`
	DatabaseSize   int64      `json:"database_size_bytes"`
}

// PurgeChecksBefore removes check results older than cutoff. Whole month
// buckets are dropped when they end before the cutoff.
func (s *BoltStore) PurgeChecksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deletedCount := 0
	cutoffMonth := monthName(cutoff)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		checks := tx.Bucket(ChecksBucket)

		var dropMonths [][]byte
		var trimMonth []byte
		c := checks.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v != nil {
				continue
			}
			switch cmp := bytes.Compare(name, cutoffMonth); {
			case cmp < 0:
				dropMonths = append(dropMonths, copyBytes(name))
			case cmp == 0:
				trimMonth = copyBytes(name)
			}
		}

		for _, name := range dropMonths {
			n, err := countKeys(checks.Bucket(name))
			if err != nil {
				return err
			}
			if err := checks.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop month %s: %w", name, err)
			}
			deletedCount += n
		}

		if trimMonth == nil {
			return nil
		}
		month := checks.Bucket(trimMonth)
		end := timeKey(cutoff)
		var keysToDelete [][]byte
		mc := month.Cursor()
		for k, _ := mc.First(); k != nil && bytes.Compare(k[:8], end) < 0; k, _ = mc.Next() {
			keysToDelete = append(keysToDelete, copyBytes(k))
		}
		for _, key := range keysToDelete {
			if err := month.Delete(key); err != nil {
				return fmt.Errorf("failed to delete check: %w", err)
			}
			deletedCount++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to purge check history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   cutoff,
	}).Info("Purged check history")

	return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Months: []string{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.HostingRecords = tx.Bucket(HostingBucket).Stats().KeyN
		stats.Targets = tx.Bucket(TargetsBucket).Stats().KeyN
		stats.Certificates = tx.Bucket(CertificatesBucket).Stats().KeyN

		checks := tx.Bucket(ChecksBucket)
		c := checks.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v != nil {
				continue
			}
			month := checks.Bucket(name)
			stats.Months = append(stats.Months, string(name))
			n, err := countKeys(month)
			if err != nil {
				return err
			}
			stats.Checks += n

			mc := month.Cursor()
			if k, v := mc.First(); k != nil && stats.OldestCheck == nil {
				var r CheckResult
				if err := json.Unmarshal(v, &r); err == nil {
					stats.OldestCheck = &r.Timestamp
				}
			}
			if k, v := mc.Last(); k != nil {
				var r CheckResult
				if err := json.Unmarshal(v, &r); err == nil {
					stats.NewestCheck = &r.Timestamp
				}
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

func countKeys(b *bbolt.Bucket) (int, error) {
	n := 0
	err := b.ForEach(func(k, v []byte) error {
		n++
		return nil
	})
	return n, err
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
