// internal/web/websocket.go
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TransitionMessage is broadcast for every alarm phase change.
type TransitionMessage struct {
	Event  monitoring.Event        `json:"event"`
	Status monitoring.TargetStatus `json:"status"`
}

type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub
}

// Hub tracks connected websocket clients.
type Hub struct {
	metrics *metrics.Collector

	mu      sync.Mutex
	clients map[*WSClient]bool
}

func NewHub(collector *metrics.Collector) *Hub {
	return &Hub{metrics: collector, clients: make(map[*WSClient]bool)}
}

func (h *Hub) add(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.metrics.RecordWebSocketConnection(1)
}

func (h *Hub) remove(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.metrics.RecordWebSocketConnection(-1)
	}
	h.mu.Unlock()
}

// Broadcast queues message for every client; clients that cannot keep up are dropped.
func (h *Hub) Broadcast(message WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			delete(h.clients, client)
			close(client.send)
			h.metrics.RecordWebSocketConnection(-1)
		}
	}
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		h.metrics.RecordWebSocketConnection(-1)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  s.hub,
	}
	s.hub.add(client)

	go client.writePump()
	go client.readPump()
}

// publishTransition forwards alarm phase changes to websocket clients.
func (s *Server) publishTransition(target *database.MonitorTarget, state *database.AlarmState, event monitoring.Event) {
	if event == monitoring.EventNone {
		return
	}
	s.hub.Broadcast(WSMessage{
		Type: "alarm_transition",
		Data: TransitionMessage{
			Event:  event,
			Status: monitoring.NewTargetStatus(target, state),
		},
	})
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
