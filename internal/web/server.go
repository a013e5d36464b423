// internal/web/server.go
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/certs"
	"hostwatch/internal/config"
	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/monitoring"
)

type Server struct {
	config  *config.Config
	engine  *monitoring.Engine
	metrics *metrics.Collector
	router  *gin.Engine
	hub     *Hub
	server  *http.Server
}

func NewServer(cfg *config.Config, engine *monitoring.Engine, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		engine:  engine,
		metrics: metricsCollector,
		router:  router,
		hub:     NewHub(metricsCollector),
	}

	engine.OnChange(server.publishTransition)
	server.setupRoutes()
	return server
}

// Handler returns the root handler. API responses are gzip-compressed when
// the client accepts it; /ws and /metrics are served as-is.
func (s *Server) Handler() http.Handler {
	compressed := gziphandler.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			compressed.ServeHTTP(w, r)
			return
		}
		s.router.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/.well-known/acme-challenge/:token", s.acmeChallenge)

	api := s.router.Group("/api")
	{
		monitors := api.Group("/monitors")
		monitors.GET("", s.listMonitors)
		monitors.POST("", s.registerMonitor)
		monitors.GET("/:id", s.getMonitor)
		monitors.POST("/:id/disable", s.disableMonitor)
		monitors.POST("/:id/enable", s.enableMonitor)
		monitors.POST("/:id/ack", s.acknowledgeMonitor)
		monitors.GET("/:id/history", s.getMonitorHistory)
		monitors.GET("/:id/snapshot", s.getMonitorSnapshot)

		api.GET("/reports/:month", s.getReport)

		ssl := api.Group("/ssl")
		ssl.GET("", s.listCertificates)
		ssl.POST("", s.addCertificate)
		ssl.POST("/discover", s.discoverCertificates)
		ssl.GET("/:domain", s.checkCertificate)
		ssl.POST("/:domain/issue", s.issueCertificate)

		api.GET("/health", s.healthCheck)
		api.GET("/build-info", s.getBuildInfo)
	}

	s.setupMaintenanceRoutes(api)
	s.setupNotificationRoutes(api)

	s.router.GET("/ws", s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   Version,
		"commit":    GitCommit,
	})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitoring.ErrHostingInactive):
		status = http.StatusConflict
	case errors.Is(err, certs.ErrInvalidDomain):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	c.JSON(status, gin.H{"error": msg, "detail": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
			"client":   c.ClientIP(),
		}).Debug("HTTP request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
