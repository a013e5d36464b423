// internal/notifications/pushover.go - Pushover notification service
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
)

const UserAgent = "hostwatch/1.0"

// Event types delivered through the service.
const (
	EventAlarmRaised    = "alarm_raised"
	EventAlarmRearmed   = "alarm_rearmed"
	EventAlarmRecovered = "alarm_recovered"
	EventCertExpiring   = "cert_expiring"
	EventCertExpired    = "cert_expired"
)

// Event is a monitoring occurrence worth telling a human about.
type Event struct {
	Type      string
	Key       string // throttling key: target ID or certificate domain
	Domain    string
	URL       string
	Summary   string
	Detail    string
	Timestamp time.Time
}

// Service handles sending notifications via the configured channels.
type Service struct {
	config    *config.NotificationConfig
	pushover  *PushoverService
	throttler *Throttler
}

// PushoverService handles Pushover-specific delivery
type PushoverService struct {
	config     *config.PushoverConfig
	httpClient *http.Client
	title      *template.Template
	message    *template.Template
}

// Throttler implements sliding-window rate limiting for notifications.
type Throttler struct {
	config      *config.ThrottleConfig
	keyCounts   map[string][]time.Time
	totalCounts []time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// NewService creates a notification service. A disabled config yields a
// service that accepts and discards every event.
func NewService(cfg *config.NotificationConfig) (*Service, error) {
	service := &Service{config: cfg}

	if cfg.Enabled && cfg.Pushover.Enabled {
		pushover, err := NewPushoverService(&cfg.Pushover, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Pushover service: %w", err)
		}
		service.pushover = pushover

		if cfg.Throttle.Enabled {
			service.throttler = NewThrottler(&cfg.Throttle)
		}
	}

	logrus.WithFields(logrus.Fields{
		"notifications_enabled": cfg.Enabled,
		"pushover_enabled":      cfg.Pushover.Enabled,
		"throttle_enabled":      cfg.Throttle.Enabled,
	}).Info("Notification service initialized")

	return service, nil
}

func NewPushoverService(cfg *config.PushoverConfig, httpClient *http.Client) (*PushoverService, error) {
	title, err := template.New("title").Parse(cfg.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to parse title template: %w", err)
	}
	message, err := template.New("message").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}
	return &PushoverService{
		config:     cfg,
		httpClient: httpClient,
		title:      title,
		message:    message,
	}, nil
}

func NewThrottler(cfg *config.ThrottleConfig) *Throttler {
	return &Throttler{
		config:    cfg,
		keyCounts: make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Send delivers the event through every enabled channel.
func (s *Service) Send(ctx context.Context, event *Event) error {
	if s == nil || !s.config.Enabled || s.pushover == nil {
		return nil
	}

	if !s.pushover.wants(event.Type) {
		logrus.WithFields(logrus.Fields{
			"domain": event.Domain,
			"event":  event.Type,
		}).Debug("Skipping notification based on event filter")
		return nil
	}

	if s.throttler != nil && !s.throttler.Allow(event.Key) {
		logrus.WithFields(logrus.Fields{
			"domain": event.Domain,
			"event":  event.Type,
		}).Debug("Notification throttled")
		return nil
	}

	message, err := s.pushover.buildMessage(event)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if err := s.pushover.send(ctx, message); err != nil {
		logrus.WithError(err).Error("Failed to send Pushover notification")
		return err
	}
	return nil
}

// Test sends a test notification, bypassing filters and throttling.
func (s *Service) Test(ctx context.Context, text string) error {
	if s == nil || !s.config.Enabled || s.pushover == nil {
		return fmt.Errorf("notifications are not enabled or configured")
	}

	return s.pushover.send(ctx, &PushoverMessage{
		Token:   s.pushover.config.APIToken,
		User:    s.pushover.config.UserKey,
		Title:   "hostwatch test notification",
		Message: text,
		Sound:   s.pushover.config.Sound,
	})
}

// Stats returns notification statistics
func (s *Service) Stats() map[string]any {
	stats := map[string]any{
		"enabled":          s != nil && s.config.Enabled,
		"pushover_enabled": false,
		"throttle_enabled": false,
	}
	if s == nil {
		return stats
	}

	if s.pushover != nil {
		stats["pushover_enabled"] = true
		stats["pushover_priority"] = s.pushover.config.Priority
		stats["pushover_events"] = s.pushover.config.OnlyOnEvent
	}

	if s.throttler != nil {
		stats["throttle_enabled"] = true
		stats["throttle_window"] = s.throttler.config.Window.String()
		stats["throttle_max_per_target"] = s.throttler.config.MaxPerTarget
		stats["throttle_max_total"] = s.throttler.config.MaxTotal

		s.throttler.mu.Lock()
		stats["throttle_tracked_keys"] = len(s.throttler.keyCounts)
		stats["throttle_total_recent"] = len(s.throttler.totalCounts)
		s.throttler.mu.Unlock()
	}

	return stats
}

func (ps *PushoverService) wants(eventType string) bool {
	if len(ps.config.OnlyOnEvent) == 0 {
		return true
	}
	return slices.Contains(ps.config.OnlyOnEvent, eventType)
}

func (ps *PushoverService) buildMessage(event *Event) (*PushoverMessage, error) {
	var title, body bytes.Buffer
	if err := ps.title.Execute(&title, event); err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}
	if err := ps.message.Execute(&body, event); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	message := &PushoverMessage{
		Token:     ps.config.APIToken,
		User:      ps.config.UserKey,
		Title:     title.String(),
		Message:   eventEmoji(event.Type) + " " + body.String(),
		Priority:  ps.config.Priority,
		Sound:     ps.config.Sound,
		Device:    ps.config.Device,
		Timestamp: event.Timestamp.Unix(),
	}

	// emergency priority requires retry and expire
	if ps.config.Priority == 2 {
		message.Retry = ps.config.Retry
		message.Expire = ps.config.Expire
	}

	return message, nil
}

func (ps *PushoverService) send(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.config.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
	}).Info("Pushover notification sent")

	return nil
}

// Allow reports whether a notification for key may be sent now and, if so,
// records it against the window.
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	windowStart := now.Add(-t.config.Window)
	t.cleanup(windowStart)

	if t.config.MaxPerTarget > 0 && len(t.keyCounts[key]) >= t.config.MaxPerTarget {
		return false
	}
	if t.config.MaxTotal > 0 && len(t.totalCounts) >= t.config.MaxTotal {
		return false
	}

	t.keyCounts[key] = append(t.keyCounts[key], now)
	t.totalCounts = append(t.totalCounts, now)
	return true
}

// cleanup removes entries that fell out of the window. Caller holds mu.
func (t *Throttler) cleanup(windowStart time.Time) {
	for key, times := range t.keyCounts {
		kept := recent(times, windowStart)
		if len(kept) == 0 {
			delete(t.keyCounts, key)
		} else {
			t.keyCounts[key] = kept
		}
	}
	t.totalCounts = recent(t.totalCounts, windowStart)
}

func recent(times []time.Time, windowStart time.Time) []time.Time {
	kept := times[:0]
	for _, ts := range times {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func eventEmoji(eventType string) string {
	switch eventType {
	case EventAlarmRecovered:
		return "✅"
	case EventAlarmRaised, EventAlarmRearmed, EventCertExpired:
		return "🚨"
	case EventCertExpiring:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
