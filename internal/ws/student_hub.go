package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"
)

const (
	StudentSessionSuperseded = "session_superseded"
	StudentForceLogout       = "force_logout"
	StudentResubmitAllowed   = "resubmit_allowed"
	StudentConnected         = "connected"
)

type StudentMessage struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	ExamID   string `json:"exam_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

type studentNotification struct {
	userID    string
	sessionID string // empty targets every connection of the user
	payload   []byte
	close     bool
}

// StudentHub tracks each student's open connections by session so that a
// superseded device can be told to leave without touching the new one.
type StudentHub struct {
	register   chan *studentClient
	unregister chan *studentClient
	notify     chan studentNotification
	clients    map[string]map[*studentClient]struct{}
	done       chan struct{}
	log        *slog.Logger
}

func NewStudentHub(log *slog.Logger) *StudentHub {
	if log == nil {
		log = slog.Default()
	}
	return &StudentHub{
		register:   make(chan *studentClient),
		unregister: make(chan *studentClient),
		notify:     make(chan studentNotification, sendBufferSize),
		clients:    make(map[string]map[*studentClient]struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *StudentHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					h.drop(client)
				}
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*studentClient]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			if set, ok := h.clients[client.userID]; ok {
				if _, ok := set[client]; ok {
					h.drop(client)
				}
			}
		case msg := <-h.notify:
			for client := range h.clients[msg.userID] {
				if msg.sessionID != "" && client.sessionID != msg.sessionID {
					continue
				}
				select {
				case client.send <- msg.payload:
					if msg.close {
						client.closeAfterSend()
					}
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *StudentHub) drop(client *studentClient) {
	set := h.clients[client.userID]
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	client.closeSend()
	client.conn.Close()
}

// Notify sends message to every open connection of a student.
func (h *StudentHub) Notify(userID string, message StudentMessage) {
	h.enqueue(userID, "", message, false)
}

// SessionSuperseded tells the device holding oldSessionID that a newer login
// replaced it, then closes that connection.
func (h *StudentHub) SessionSuperseded(userID, oldSessionID string) {
	h.enqueue(userID, oldSessionID, StudentMessage{
		Type:     StudentSessionSuperseded,
		Reason:   "session_mismatch",
		Message:  "You have been logged out because you logged in from another device during an exam.",
		Redirect: "/authenticate/login",
	}, true)
}

// ForceLogout tells every device of a student to leave and closes them.
func (h *StudentHub) ForceLogout(userID string) {
	h.enqueue(userID, "", StudentMessage{
		Type:     StudentForceLogout,
		Message:  "You have been logged out by an exam supervisor.",
		Redirect: "/authenticate/login",
	}, true)
}

func (h *StudentHub) enqueue(userID, sessionID string, message StudentMessage, closeAfter bool) {
	if h == nil {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("ws: marshal student message", "error", err)
		return
	}
	select {
	case h.notify <- studentNotification{userID: userID, sessionID: sessionID, payload: data, close: closeAfter}:
	default:
		h.log.Warn("ws: student hub saturated, message dropped", "user_id", userID, "type", message.Type)
	}
}

func (h *StudentHub) add(client *studentClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

type studentClient struct {
	hub       *StudentHub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	sessionID string
	closed    bool
}

func newStudentClient(hub *StudentHub, conn *websocket.Conn, userID, sessionID string) *studentClient {
	return &studentClient{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 64),
		userID:    userID,
		sessionID: sessionID,
	}
}

// closeAfterSend ends the connection once queued messages are flushed. Only
// the hub goroutine calls it.
func (c *studentClient) closeAfterSend() {
	set := c.hub.clients[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(c.hub.clients, c.userID)
	}
	c.closeSend()
}

func (c *studentClient) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *studentClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	readLoop(c.conn)
}

func (c *studentClient) writePump() {
	writeLoop(c.conn, c.send)
}
