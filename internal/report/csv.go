// internal/report/csv.go
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"hostwatch/internal/database"
)

var csvHeader = []string{"timestamp", "domain", "status_code", "response_time_ms", "error"}

// WriteCSV writes one row per check. Timestamps keep their full precision and
// missing values are empty cells.
func WriteCSV(w io.Writer, rows []database.CheckResult, loc *time.Location) error {
	c := csv.NewWriter(w)

	if err := c.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			r.Timestamp.In(loc).Format(time.RFC3339Nano),
			r.Domain,
			"",
			"",
			"",
		}
		if r.StatusCode != nil {
			record[2] = strconv.Itoa(*r.StatusCode)
		}
		if r.ResponseTimeMS != nil {
			record[3] = strconv.FormatInt(*r.ResponseTimeMS, 10)
		}
		if r.Error != nil {
			record[4] = *r.Error
		}
		if err := c.Write(record); err != nil {
			return err
		}
	}

	c.Flush()
	return c.Error()
}
