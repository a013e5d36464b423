// internal/web/notification_handlers.go - Web handlers for Pushover notifications
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/notifications"
)

// NotificationSettings is the read-only view of the notification configuration.
type NotificationSettings struct {
	Enabled     bool     `json:"enabled"`
	Pushover    bool     `json:"pushover_enabled"`
	APIToken    string   `json:"api_token"`
	UserKey     string   `json:"user_key"`
	Priority    int      `json:"priority"`
	Sound       string   `json:"sound"`
	Device      string   `json:"device"`
	Title       string   `json:"title"`
	Template    string   `json:"template"`
	OnlyOnEvent []string `json:"only_on_event"`
	Throttle    struct {
		Enabled      bool   `json:"enabled"`
		Window       string `json:"window"`
		MaxPerTarget int    `json:"max_per_target"`
		MaxTotal     int    `json:"max_total"`
	} `json:"throttle"`
}

type TestNotificationRequest struct {
	Message string `json:"message" binding:"required"`
}

type TemplateValidationRequest struct {
	Title    string `json:"title"`
	Template string `json:"template"`
}

func (s *Server) setupNotificationRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		notifications.GET("/settings", s.getNotificationSettings)
		notifications.POST("/test", s.sendTestNotification)
		notifications.GET("/stats", s.getNotificationStats)
		notifications.POST("/validate", s.validateNotificationTemplates)
		notifications.GET("/template/variables", s.getNotificationTemplateVariables)
	}
}

// GET /api/notifications/settings - current settings with credentials masked
func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := s.config.Notifications

	settings := NotificationSettings{
		Enabled:     cfg.Enabled,
		Pushover:    cfg.Pushover.Enabled,
		APIToken:    maskToken(cfg.Pushover.APIToken),
		UserKey:     maskToken(cfg.Pushover.UserKey),
		Priority:    cfg.Pushover.Priority,
		Sound:       cfg.Pushover.Sound,
		Device:      cfg.Pushover.Device,
		Title:       cfg.Pushover.Title,
		Template:    cfg.Pushover.Template,
		OnlyOnEvent: cfg.Pushover.OnlyOnEvent,
	}
	settings.Throttle.Enabled = cfg.Throttle.Enabled
	settings.Throttle.Window = cfg.Throttle.Window.String()
	settings.Throttle.MaxPerTarget = cfg.Throttle.MaxPerTarget
	settings.Throttle.MaxTotal = cfg.Throttle.MaxTotal

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// POST /api/notifications/test - Send a test notification
func (s *Server) sendTestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.config.Notifications.Enabled || !s.config.Notifications.Pushover.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pushover notifications are not enabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.engine.Notifications().Test(ctx, req.Message); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test notification: " + err.Error()})
		return
	}

	logrus.Info("Test notification sent successfully")
	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent successfully",
		"timestamp": time.Now(),
	})
}

func (s *Server) getNotificationStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.engine.Notifications().Stats()})
}

// POST /api/notifications/validate - render templates against a sample event
func (s *Server) validateNotificationTemplates(c *gin.Context) {
	var req TemplateValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := &notifications.Event{
		Type:      notifications.EventAlarmRaised,
		Key:       "sample",
		Domain:    "example.com",
		URL:       "https://example.com/",
		Summary:   "is down: HTTP 503",
		Timestamp: time.Now(),
	}

	rendered := gin.H{}
	for name, text := range map[string]string{"title": req.Title, "template": req.Template} {
		if text == "" {
			continue
		}
		out, err := renderTemplate(name, text, sample)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"valid": false,
				"error": fmt.Sprintf("invalid %s: %v", name, err),
			})
			return
		}
		rendered[name] = out
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"rendered": rendered,
	})
}

func renderTemplate(name, text string, event *notifications.Event) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, event); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) getNotificationTemplateVariables(c *gin.Context) {
	variables := []map[string]string{
		{"variable": "{{.Type}}", "description": "Event type (alarm_raised, alarm_rearmed, alarm_recovered, cert_expiring, cert_expired)"},
		{"variable": "{{.Domain}}", "description": "Monitored domain"},
		{"variable": "{{.URL}}", "description": "Probed URL"},
		{"variable": "{{.Summary}}", "description": "One-line description of what happened"},
		{"variable": "{{.Detail}}", "description": "Extra detail, may be empty"},
		{"variable": "{{.Timestamp}}", "description": "Time of the check or inspection"},
	}
	c.JSON(http.StatusOK, gin.H{"data": variables})
}

// maskToken masks sensitive tokens for API responses
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
