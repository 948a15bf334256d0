package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zaqqye/exam_guard/internal/middleware"
	"github.com/zaqqye/exam_guard/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// MonitoringHandler upgrades teacher/admin dashboards. ?exam_id= narrows the
// stream to one exam.
func MonitoringHandler(hub *MonitoringHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if user.Role != models.RoleAdmin && user.Role != models.RoleTeacher {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newMonitoringClient(hub, conn, c.Query("exam_id"))
		hello, _ := json.Marshal(MonitoringEvent{Type: EventConnected, ExamID: client.examID, UserID: user.UserID, At: time.Now().UTC()})
		client.send <- hello
		if !hub.add(client) {
			conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}
