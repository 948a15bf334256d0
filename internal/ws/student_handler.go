package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/exam_guard/internal/middleware"
)

func StudentHandler(hub *StudentHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		user, ok := middleware.CurrentUser(c)
		id, idOK := middleware.GetIdentity(c)
		if !ok || !idOK {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !user.IsStudent() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newStudentClient(hub, conn, user.UserID, id.SessionID)
		hello, _ := json.Marshal(StudentMessage{Type: StudentConnected})
		client.send <- hello
		if !hub.add(client) {
			conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}
