// internal/web/maintenance_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) setupMaintenanceRoutes(api *gin.RouterGroup) {
	maintenance := api.Group("/maintenance")
	{
		maintenance.POST("/purge", s.purgeHistory)
		maintenance.GET("/stats", s.getDatabaseStats)
		maintenance.POST("/sweep", s.runSweep)
	}
}

// POST /api/maintenance/purge - apply the retention policy now
func (s *Server) purgeHistory(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	report, err := s.engine.Retention().PurgeAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Purge completed with errors",
			"data":  report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Retention purge completed",
		"data":      report,
		"timestamp": time.Now(),
	})
}

func (s *Server) getDatabaseStats(c *gin.Context) {
	stats, err := s.engine.Store().GetDatabaseStats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get database stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":           stats,
		"size_human":     humanize.IBytes(uint64(stats.DatabaseSize)),
		"retention":      s.config.Database.HistoryRetention.String(),
		"retention_from": s.engine.Retention().Cutoff(),
	})
}

// POST /api/maintenance/sweep - probe every enabled target now
func (s *Server) runSweep(c *gin.Context) {
	ran, err := s.engine.SweepNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "A sweep is already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sweep completed", "timestamp": time.Now()})
}
