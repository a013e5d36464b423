package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"hostwatch/internal/database"
)

func seed(t *testing.T) *database.BoltStore {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "report.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	code := func(v int) *int { return &v }
	ms := func(v int64) *int64 { return &v }
	errText := "timeout: context deadline exceeded"

	rows := []database.CheckResult{
		{TargetID: "a", Domain: "a.test", Timestamp: time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC), StatusCode: code(200), ResponseTimeMS: ms(120), Healthy: true},
		{TargetID: "a", Domain: "a.test", Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StatusCode: code(503), ResponseTimeMS: ms(40)},
		{TargetID: "b", Domain: "b.test", Timestamp: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), StatusCode: code(200), ResponseTimeMS: ms(80), Healthy: true},
		{TargetID: "a", Domain: "a.test", Timestamp: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC), Error: &errText},
		{TargetID: "a", Domain: "a.test", Timestamp: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), StatusCode: code(200), ResponseTimeMS: ms(90), Healthy: true},
	}
	for i := range rows {
		r := rows[i]
		if err := store.RecordCheck(context.Background(), &r, &database.AlarmState{TargetID: r.TargetID}); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func readCSV(t *testing.T, b []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func TestMonthlyCSVForOneTarget(t *testing.T) {
	svc := NewService(seed(t), time.UTC)
	month, err := ParseMonth("2026-03", time.UTC)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := svc.Monthly(context.Background(), month, "a")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, time.UTC); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"timestamp", "domain", "status_code", "response_time_ms", "error"},
		{"2026-03-01T00:00:00Z", "a.test", "503", "40", ""},
		{"2026-03-10T12:30:00Z", "a.test", "", "", "timeout: context deadline exceeded"},
		{"2026-03-20T08:00:00Z", "a.test", "200", "120", ""},
	}
	if diff := cmp.Diff(want, readCSV(t, buf.Bytes())); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestMonthlyAllTargets(t *testing.T) {
	svc := NewService(seed(t), time.UTC)
	month, _ := ParseMonth("2026-03", time.UTC)

	rows, err := svc.Monthly(context.Background(), month, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.Before(rows[i-1].Timestamp) {
			t.Errorf("row %d out of order", i)
		}
	}
}

func TestEmptyMonthIsHeaderOnly(t *testing.T) {
	svc := NewService(seed(t), time.UTC)

	for _, tc := range []struct{ month, target string }{
		{"2025-12", ""},
		{"2026-03", "no-such-target"},
	} {
		month, _ := ParseMonth(tc.month, time.UTC)
		rows, err := svc.Monthly(context.Background(), month, tc.target)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rows, time.UTC); err != nil {
			t.Fatal(err)
		}
		if got := readCSV(t, buf.Bytes()); len(got) != 1 {
			t.Errorf("%s/%s: got %d records, want header only", tc.month, tc.target, len(got))
		}
	}
}

func TestMonthBoundsFollowLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	svc := NewService(seed(t), tokyo)
	month, _ := ParseMonth("2026-04", tokyo)

	// 2026-04-01T00:00Z is 09:00 JST on April 1st; 2026-03-20T08:00Z is still March in JST
	rows, err := svc.Monthly(context.Background(), month, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].Timestamp.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestParseMonthRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "2026-13", "March", "2026/03"} {
		if _, err := ParseMonth(in, time.UTC); err == nil {
			t.Errorf("ParseMonth(%q) should fail", in)
		}
	}
}

func TestFilename(t *testing.T) {
	month := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := Filename(month, "", "csv"); got != "monitoring-2026-03.csv" {
		t.Errorf("got %q", got)
	}
	if got := Filename(month, "abc", "xlsx"); got != "monitoring-2026-03-abc.xlsx" {
		t.Errorf("got %q", got)
	}
}

func TestWriteXLSX(t *testing.T) {
	svc := NewService(seed(t), time.UTC)
	month, _ := ParseMonth("2026-03", time.UTC)
	rows, err := svc.Monthly(context.Background(), month, "a")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, rows, time.UTC, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(got))
	}
	if got[1][1] != "a.test" || got[1][2] != "503" || got[1][3] != "40" {
		t.Errorf("first data row = %v", got[1])
	}
	if len(got[2]) != 5 || got[2][2] != "" || got[2][4] != "timeout: context deadline exceeded" {
		t.Errorf("transport failure row = %q", got[2])
	}
}

func TestCSVKeepsSubSecondTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	code := 200
	rows := []database.CheckResult{
		{Domain: "a.test", Timestamp: base.Add(250 * time.Millisecond), StatusCode: &code},
		{Domain: "a.test", Timestamp: base.Add(750 * time.Millisecond), StatusCode: &code},
		{Domain: "a.test", Timestamp: base.Add(time.Second), StatusCode: &code},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, time.UTC); err != nil {
		t.Fatal(err)
	}
	records := readCSV(t, buf.Bytes())

	var got []string
	for _, r := range records[1:] {
		got = append(got, r[0])
	}
	want := []string{"2026-03-15T10:00:00.25Z", "2026-03-15T10:00:00.75Z", "2026-03-15T10:00:01Z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("timestamps (-want +got):\n%s", diff)
	}
}
