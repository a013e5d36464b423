package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hostwatch/internal/config"
)

type fakePushover struct {
	mu       sync.Mutex
	messages []PushoverMessage
}

func (f *fakePushover) handler(w http.ResponseWriter, r *http.Request) {
	var msg PushoverMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(PushoverResponse{Status: 0, Errors: []string{err.Error()}})
		return
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	json.NewEncoder(w).Encode(PushoverResponse{Status: 1})
}

func (f *fakePushover) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testConfig(url string) *config.NotificationConfig {
	return &config.NotificationConfig{
		Enabled: true,
		Pushover: config.PushoverConfig{
			Enabled:     true,
			APIURL:      url,
			APIToken:    "token",
			UserKey:     "user",
			Title:       "hostwatch: {{.Domain}}",
			Template:    "{{.Domain}} {{.Summary}}",
			OnlyOnEvent: []string{EventAlarmRaised, EventAlarmRecovered},
		},
	}
}

func TestSendRendersTemplates(t *testing.T) {
	fake := &fakePushover{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	err = svc.Send(context.Background(), &Event{
		Type:      EventAlarmRaised,
		Key:       "t1",
		Domain:    "example.com",
		Summary:   "is down: HTTP 503",
		Timestamp: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fake.count() != 1 {
		t.Fatalf("got %d messages, want 1", fake.count())
	}
	msg := fake.messages[0]
	if msg.Title != "hostwatch: example.com" {
		t.Errorf("title = %q", msg.Title)
	}
	if !strings.HasSuffix(msg.Message, "example.com is down: HTTP 503") {
		t.Errorf("message = %q", msg.Message)
	}
	if msg.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
}

func TestSendFiltersEvents(t *testing.T) {
	fake := &fakePushover{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Send(context.Background(), &Event{Type: EventCertExpiring, Domain: "example.com"}); err != nil {
		t.Fatal(err)
	}
	if fake.count() != 0 {
		t.Errorf("filtered event was delivered")
	}
}

func TestSendReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(PushoverResponse{Status: 0, Errors: []string{"user key is invalid"}})
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	err = svc.Send(context.Background(), &Event{Type: EventAlarmRaised, Domain: "example.com"})
	if err == nil || !strings.Contains(err.Error(), "user key is invalid") {
		t.Fatalf("want API error, got %v", err)
	}
}

func TestDisabledServiceDiscards(t *testing.T) {
	svc, err := NewService(&config.NotificationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Send(context.Background(), &Event{Type: EventAlarmRaised}); err != nil {
		t.Errorf("Send on disabled service: %v", err)
	}
	if err := svc.Test(context.Background(), "hi"); err == nil {
		t.Error("Test on disabled service should fail")
	}

	var nilSvc *Service
	if err := nilSvc.Send(context.Background(), &Event{}); err != nil {
		t.Errorf("Send on nil service: %v", err)
	}
}

func TestThrottler(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottler(&config.ThrottleConfig{Enabled: true, Window: 10 * time.Minute, MaxPerTarget: 2, MaxTotal: 3})
	th.now = func() time.Time { return now }

	if !th.Allow("a") || !th.Allow("a") {
		t.Fatal("first two for a should pass")
	}
	if th.Allow("a") {
		t.Error("third for a should be throttled")
	}
	if !th.Allow("b") {
		t.Error("first for b should pass")
	}
	if th.Allow("c") {
		t.Error("total cap should throttle c")
	}

	now = now.Add(11 * time.Minute)
	if !th.Allow("a") {
		t.Error("window expired, a should pass again")
	}
}
