package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/middleware"
)

// StreamEventType is the type of a dashboard stream event
type StreamEventType string

const (
	StreamEventPatternAlert    StreamEventType = "pattern_alert"
	StreamEventIncidentCreated StreamEventType = "incident_created"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamSendBuffer = 16
)

// StreamEvent is pushed to connected dashboards
type StreamEvent struct {
	Type       StreamEventType          `json:"type"`
	Department string                   `json:"department"`
	Alert      *database.PatternAlert   `json:"alert,omitempty"`
	Incident   *database.IncidentTicket `json:"incident,omitempty"`
	Cluster    *api.ClusterListItem     `json:"cluster,omitempty"`
}

type streamClient struct {
	conn       *websocket.Conn
	department string // "" receives every department
	send       chan []byte
}

// AlertStreamHandler pushes pattern alerts and new incidents to dashboards
// over WebSocket. It is a notifier.Notifier.
type AlertStreamHandler struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*streamClient]struct{}
	closed   bool
}

// NewAlertStreamHandler creates an alert stream with no clients
func NewAlertStreamHandler() *AlertStreamHandler {
	return &AlertStreamHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the JWT already scopes the caller
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// SetupRoutes registers the stream endpoint
func (h *AlertStreamHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/alerts", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and streams events for the caller's departments
func (h *AlertStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	dept, ok := scope(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("AlertStream: Failed to upgrade WebSocket: %v", err)
		return
	}

	client := &streamClient{conn: conn, department: dept, send: make(chan []byte, streamSendBuffer)}
	if !h.register(client) {
		conn.Close()
		return
	}
	log.Printf("AlertStream: %s connected from %s (department=%q)",
		middleware.GetUserFromContext(r.Context()), r.RemoteAddr, dept)

	go h.writePump(client)
	h.readPump(client)
}

func (h *AlertStreamHandler) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *AlertStreamHandler) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump drains client frames so pongs and close frames are processed
func (h *AlertStreamHandler) readPump(c *streamClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("AlertStream: Read error: %v", err)
			}
			return
		}
	}
}

func (h *AlertStreamHandler) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends event to every client watching its department. Slow
// clients miss events rather than block the caller.
func (h *AlertStreamHandler) Broadcast(event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("AlertStream: Failed to encode %s event: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.department != "" && c.department != event.Department {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("AlertStream: Dropping %s event for slow client %s", event.Type, c.conn.RemoteAddr())
		}
	}
}

// NotifyPatternAlert implements notifier.Notifier
func (h *AlertStreamHandler) NotifyPatternAlert(ctx context.Context, alert *database.PatternAlert, cluster *database.Cluster) error {
	event := StreamEvent{Type: StreamEventPatternAlert, Department: alert.Department, Alert: alert}
	if cluster != nil {
		item := api.ClusterToListItem(*cluster)
		event.Cluster = &item
	}
	h.Broadcast(event)
	return nil
}

// NotifyIncident implements notifier.Notifier
func (h *AlertStreamHandler) NotifyIncident(ctx context.Context, incident *database.IncidentTicket, cluster *database.Cluster) error {
	event := StreamEvent{Type: StreamEventIncidentCreated, Department: incident.Department, Incident: incident}
	if cluster != nil {
		item := api.ClusterToListItem(*cluster)
		event.Cluster = &item
	}
	h.Broadcast(event)
	return nil
}

// ClientCount returns the number of connected dashboards
func (h *AlertStreamHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *AlertStreamHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
