// internal/web/handlers.go
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/monitoring"
)

type RegisterRequest struct {
	HostingID string `json:"hosting_id" binding:"required"`
}

// MonitorView adds display helpers to a target status.
type MonitorView struct {
	monitoring.TargetStatus
	LastCheckedAgo string `json:"last_checked_ago,omitempty"`
	DownFor        string `json:"down_for,omitempty"`
}

func newMonitorView(status monitoring.TargetStatus) MonitorView {
	view := MonitorView{TargetStatus: status}
	if status.LastCheckedAt != nil {
		view.LastCheckedAgo = humanize.Time(*status.LastCheckedAt)
	}
	if status.AlarmSince != nil {
		view.DownFor = formatDuration(time.Since(*status.AlarmSince))
	}
	return view
}

func (s *Server) listMonitors(c *gin.Context) {
	statuses, err := s.engine.ListStatus(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get monitor status")
		return
	}

	views := make([]MonitorView, 0, len(statuses))
	summary := map[string]int{"up": 0, "alarm_unacked": 0, "alarm_acked": 0, "disabled": 0}
	for _, st := range statuses {
		views = append(views, newMonitorView(st))
		switch {
		case !st.Enabled:
			summary["disabled"]++
		case st.Up:
			summary["up"]++
		default:
			summary[string(st.Phase)]++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    views,
		"count":   len(views),
		"summary": summary,
	})
}

func (s *Server) getMonitor(c *gin.Context) {
	status, err := s.engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Monitor not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newMonitorView(*status)})
}

func (s *Server) registerMonitor(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, err := s.engine.Registry().Register(c.Request.Context(), req.HostingID)
	if err != nil {
		respondError(c, err, "Failed to register monitor")
		return
	}

	status, err := s.engine.GetStatus(c.Request.Context(), target.ID)
	if err != nil {
		respondError(c, err, "Failed to get monitor status")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": newMonitorView(*status)})
}

func (s *Server) disableMonitor(c *gin.Context) {
	s.toggleMonitor(c, false)
}

func (s *Server) enableMonitor(c *gin.Context) {
	s.toggleMonitor(c, true)
}

func (s *Server) toggleMonitor(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var err error
	if enabled {
		_, err = s.engine.Registry().Enable(ctx, id)
	} else {
		_, err = s.engine.Registry().Disable(ctx, id)
	}
	if err != nil {
		respondError(c, err, "Failed to update monitor")
		return
	}

	status, err := s.engine.GetStatus(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get monitor status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newMonitorView(*status)})
}

func (s *Server) acknowledgeMonitor(c *gin.Context) {
	status, err := s.engine.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to acknowledge alarm")
		return
	}

	logrus.WithFields(logrus.Fields{
		"target": status.TargetID,
		"phase":  status.Phase,
		"client": c.ClientIP(),
	}).Debug("Acknowledge requested")

	c.JSON(http.StatusOK, gin.H{"data": newMonitorView(*status)})
}

// GET /api/monitors/:id/history?since=RFC3339&limit=N, last 24 hours by default
func (s *Server) getMonitorHistory(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = parsed
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	history, err := s.engine.History(c.Request.Context(), c.Param("id"), since, limit)
	if err != nil {
		respondError(c, err, "Failed to get check history")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  history,
		"count": len(history),
		"since": since,
	})
}

func (s *Server) getMonitorSnapshot(c *gin.Context) {
	status, err := s.engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Monitor not found")
		return
	}
	if status.LastSnapshotPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No failure snapshot recorded"})
		return
	}

	path := *status.LastSnapshotPath
	if !s.engine.Snapshots().Contains(path) {
		logrus.WithField("path", path).Warn("Refusing to serve snapshot outside snapshot directory")
		c.JSON(http.StatusNotFound, gin.H{"error": "Snapshot unavailable"})
		return
	}

	// captured pages are untrusted content
	c.Header("Content-Security-Policy", "sandbox")
	c.Header("X-Content-Type-Options", "nosniff")
	c.File(path)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		return strconv.Itoa(int(d.Minutes())) + "m"
	}
	if d < 24*time.Hour {
		return strconv.Itoa(int(d.Hours())) + "h" + strconv.Itoa(int(d.Minutes())%60) + "m"
	}
	days := int(d.Hours()) / 24
	return strconv.Itoa(days) + "d" + strconv.Itoa(int(d.Hours())%24) + "h"
}
