// internal/report/report.go
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hostwatch/internal/database"
)

const monthLayout = "2006-01"

// CheckSource is the read side of the check log.
type CheckSource interface {
	GetChecks(ctx context.Context, filters database.CheckFilters) ([]database.CheckResult, error)
}

// Service builds monthly audit exports of the check log.
type Service struct {
	checks CheckSource
	loc    *time.Location
}

func NewService(checks CheckSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{checks: checks, loc: loc}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// ParseMonth parses "YYYY-MM" as the first instant of that month in loc.
func ParseMonth(month string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, strings.TrimSpace(month), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", month)
	}
	return t, nil
}

// Monthly returns every check in [month start, next month start), oldest first.
// An empty targetID selects all targets. No rows is not an error.
func (s *Service) Monthly(ctx context.Context, month time.Time, targetID string) ([]database.CheckResult, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 1, 0)

	rows, err := s.checks.GetChecks(ctx, database.CheckFilters{
		TargetID: targetID,
		From:     start,
		To:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read check log: %w", err)
	}
	if rows == nil {
		rows = []database.CheckResult{}
	}
	return rows, nil
}

// Filename follows monitoring-<YYYY-MM>[-<target>].<ext>.
func Filename(month time.Time, targetID, ext string) string {
	name := "monitoring-" + month.Format(monthLayout)
	if targetID != "" {
		name += "-" + targetID
	}
	return name + "." + ext
}
