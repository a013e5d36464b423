// internal/web/report_handlers.go
package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GET /api/reports/:month?target=<id>&format=csv|xlsx
func (s *Server) getReport(c *gin.Context) {
	reports := s.engine.Reports()
	loc := reports.Location()

	month, err := report.ParseMonth(c.Param("month"), loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
		return
	}
	targetID := c.Query("target")

	rows, err := reports.Monthly(c.Request.Context(), month, targetID)
	if err != nil {
		respondError(c, err, "Failed to build report")
		return
	}

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = xlsxContentType
		err = report.WriteXLSX(&buf, rows, loc, time.Now())
	} else {
		err = report.WriteCSV(&buf, rows, loc)
	}
	if err != nil {
		respondError(c, err, "Failed to write report")
		return
	}

	filename := report.Filename(month, targetID, format)
	logrus.WithFields(logrus.Fields{
		"month":  month.Format("2006-01"),
		"target": targetID,
		"rows":   len(rows),
		"format": format,
	}).Info("Report generated")

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
