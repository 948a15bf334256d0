package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zaqqye/exam_guard/internal/ws"
)

// Listen holds the student notification socket open and hands every server
// message to handle. The first one is always ws.StudentConnected, sent once
// the server has registered the socket. Listen returns when ctx ends, the
// server closes the socket, or handle returns false.
func (c *Client) Listen(ctx context.Context, handle func(ws.StudentMessage) bool) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/ws/student"

	header := http.Header{}
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial student socket: %d", resp.StatusCode)
		}
		return errors.Wrap(err, "dial student socket")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return errors.Wrap(err, "read student socket")
		}
		var msg ws.StudentMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("malformed student message", "error", err)
			continue
		}
		if !handle(msg) {
			return nil
		}
	}
}
