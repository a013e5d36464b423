package web

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hostwatch/internal/database"
	"hostwatch/internal/monitoring"
)

func TestWebSocketTransitions(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.server.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	target := &database.MonitorTarget{ID: "t1", HostingID: "h1", Domain: "shop.example.com", Enabled: true}
	f.server.publishTransition(target, &database.AlarmState{TargetID: "t1", Phase: database.PhaseClear}, monitoring.EventNone)
	f.server.publishTransition(target, &database.AlarmState{TargetID: "t1", Phase: database.PhaseAlarmUnacked}, monitoring.EventRaised)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Event  string `json:"event"`
			Status struct {
				TargetID    string `json:"target_id"`
				Phase       string `json:"phase"`
				AlarmActive bool   `json:"alarm_active"`
			} `json:"status"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}

	if msg.Type != "alarm_transition" || msg.Data.Event != "alarm_raised" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Data.Status.TargetID != "t1" || msg.Data.Status.Phase != "alarm_unacked" || !msg.Data.Status.AlarmActive {
		t.Errorf("unexpected status %+v", msg.Data.Status)
	}
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(nil)
	client := &WSClient{send: make(chan WSMessage, 1), hub: hub}
	hub.add(client)
	if hub.Len() != 1 {
		t.Fatalf("Len = %d, want 1", hub.Len())
	}

	hub.CloseAll()
	if hub.Len() != 0 {
		t.Errorf("Len after CloseAll = %d, want 0", hub.Len())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed")
	}
	// removing an already closed client must not double-close
	hub.remove(client)
}
