package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventIntegrity  = "integrity"
	EventActivity   = "activity"
	EventSubmission = "submission"
	EventLogout     = "force_logout"
	// EventConnected is the first frame of every stream, written once the
	// client is registered.
	EventConnected = "connected"
)

// MonitoringEvent is pushed to teacher/admin dashboards.
type MonitoringEvent struct {
	Type       string              `json:"type"`
	ExamID     string              `json:"exam_id,omitempty"`
	UserID     string              `json:"user_id"`
	Integrity  *IntegritySnapshot  `json:"integrity,omitempty"`
	Activity   *ActivitySnapshot   `json:"activity,omitempty"`
	Submission *SubmissionSnapshot `json:"submission,omitempty"`
	At         time.Time           `json:"at"`
}

// IntegritySnapshot mirrors an integrity record as returned by the REST API.
type IntegritySnapshot struct {
	TabChanges      int    `json:"tab_changes"`
	MouseOuts       int    `json:"mouse_outs"`
	FullscreenExits int    `json:"fullscreen_exits"`
	CopyAttempts    int    `json:"copy_attempts"`
	PasteAttempts   int    `json:"paste_attempts"`
	FocusChanges    int    `json:"focus_changes"`
	LastEvent       string `json:"last_event"`
}

type ActivitySnapshot struct {
	Status     string    `json:"status"`
	LastPingAt time.Time `json:"last_ping_at"`
}

type SubmissionSnapshot struct {
	Reason string `json:"reason"`
}

type monitoringMessage struct {
	examID  string
	payload []byte
}

// MonitoringHub fans dashboard events out to websocket clients, optionally
// scoped to one exam.
type MonitoringHub struct {
	register   chan *monitoringClient
	unregister chan *monitoringClient
	broadcast  chan monitoringMessage
	clients    map[*monitoringClient]struct{}
	done       chan struct{}
	log        *slog.Logger
}

func NewMonitoringHub(log *slog.Logger) *MonitoringHub {
	if log == nil {
		log = slog.Default()
	}
	return &MonitoringHub{
		register:   make(chan *monitoringClient),
		unregister: make(chan *monitoringClient),
		broadcast:  make(chan monitoringMessage, sendBufferSize),
		clients:    make(map[*monitoringClient]struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *MonitoringHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.examID != "" && client.examID != msg.examID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *MonitoringHub) drop(client *monitoringClient) {
	delete(h.clients, client)
	close(client.send)
	client.conn.Close()
}

// Broadcast queues ev for every dashboard watching its exam. It never blocks
// the caller; events are dropped when the hub is saturated.
func (h *MonitoringHub) Broadcast(ev MonitoringEvent) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("ws: marshal monitoring event", "error", err)
		return
	}
	select {
	case h.broadcast <- monitoringMessage{examID: ev.ExamID, payload: data}:
	default:
		h.log.Warn("ws: monitoring hub saturated, event dropped", "type", ev.Type, "exam_id", ev.ExamID)
	}
}

type monitoringClient struct {
	hub    *MonitoringHub
	conn   *websocket.Conn
	send   chan []byte
	examID string
}

// add registers client; false once the hub has stopped.
func (h *MonitoringHub) add(client *monitoringClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func newMonitoringClient(hub *MonitoringHub, conn *websocket.Conn, examID string) *monitoringClient {
	return &monitoringClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		examID: examID,
	}
}

func (c *monitoringClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()
	readLoop(c.conn)
}

func (c *monitoringClient) writePump() {
	writeLoop(c.conn, c.send)
}

// readLoop discards inbound frames and keeps the read deadline fresh until
// the peer goes away.
func readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
