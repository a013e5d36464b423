// internal/report/xlsx.go
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"hostwatch/internal/database"
)

const sheet = "checks"

func cell(col, row int) string {
	pos, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(err)
	}
	return pos
}

// WriteXLSX writes the same columns as WriteCSV as a spreadsheet, with failing
// rows highlighted.
func WriteXLSX(w io.Writer, rows []database.CheckResult, loc *time.Location, createdAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Created:        createdAt.Format(time.RFC3339),
		Modified:       createdAt.Format(time.RFC3339),
		Creator:        "hostwatch",
		LastModifiedBy: "hostwatch",
	}); err != nil {
		return err
	}

	zone, _ := createdAt.In(loc).Zone()
	headers := []string{fmt.Sprintf("timestamp (%s)", zone), "domain", "status_code", "response_time_ms", "error"}
	for i, h := range headers {
		if err := f.SetCellStr(sheet, cell(i+1, 1), h); err != nil {
			return err
		}
	}

	datefmt := "yyyy-mm-dd hh:mm:ss.000"
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &datefmt})
	if err != nil {
		return err
	}
	failStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "C00000"},
	})
	if err != nil {
		return err
	}

	for i, r := range rows {
		if err := writeRow(f, i+2, r, loc, dateStyle, failStyle); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	for _, cw := range []struct {
		col   string
		width float64
	}{{"A", 24}, {"B", 30}, {"E", 50}} {
		if err := f.SetColWidth(sheet, cw.col, cw.col, cw.width); err != nil {
			return err
		}
	}

	if err := f.AutoFilter(sheet, "A1:E1", nil); err != nil {
		return err
	}

	return f.Write(w)
}

func writeRow(f *excelize.File, row int, r database.CheckResult, loc *time.Location, dateStyle, failStyle int) error {
	// excelize stores times without zone; write wall clock in the report zone
	local := r.Timestamp.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
	if err := f.SetCellValue(sheet, cell(1, row), wall); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, cell(1, row), cell(1, row), dateStyle); err != nil {
		return err
	}
	if err := f.SetCellStr(sheet, cell(2, row), r.Domain); err != nil {
		return err
	}
	if r.StatusCode != nil {
		if err := f.SetCellInt(sheet, cell(3, row), int(*r.StatusCode)); err != nil {
			return err
		}
	}
	if r.ResponseTimeMS != nil {
		if err := f.SetCellInt(sheet, cell(4, row), int(*r.ResponseTimeMS)); err != nil {
			return err
		}
	}
	if r.Error != nil {
		if err := f.SetCellStr(sheet, cell(5, row), *r.Error); err != nil {
			return err
		}
	}
	if !r.Healthy {
		return f.SetCellStyle(sheet, cell(2, row), cell(5, row), failStyle)
	}
	return nil
}
