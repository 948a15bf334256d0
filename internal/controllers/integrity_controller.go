package controllers

import (
    "log/slog"
    "net/http"

    "github.com/gin-gonic/gin"

    "github.com/zaqqye/exam_guard/internal/integrity"
    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/ws"
)

type IntegrityController struct {
    Store *integrity.Store
    Hubs  *ws.Hubs
    Log   *slog.Logger
}

type integrityRequest struct {
    ExamID    FlexibleString `json:"examId"`
    UserID    FlexibleString `json:"userId"`
    EventType string         `json:"eventType"`
}

// Update records one integrity event reported by an exam client. Reports are
// fire-and-forget on the client, so the answer only matters for logging.
func (ic *IntegrityController) Update(c *gin.Context) {
    var req integrityRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
        return
    }
    ev, err := integrity.ParseEventType(req.EventType)
    if err != nil || !ev.Recordable() {
        c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid event type."})
        return
    }
    if req.ExamID == "" {
        c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "examId is required"})
        return
    }

    user, _ := middleware.CurrentUser(c)
    userID := req.UserID.String()
    if userID == "" {
        userID = user.UserID
    }
    if userID != user.UserID {
        c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "cannot report for another user"})
        return
    }

    rec, err := ic.Store.Increment(c.Request.Context(), req.ExamID.String(), userID, ev)
    if err != nil {
        ic.Log.Error("record integrity event", "exam_id", req.ExamID, "user_id", userID, "event", ev, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error."})
        return
    }
    broadcastIntegrity(ic.Hubs, rec)

    c.JSON(http.StatusOK, gin.H{"success": true, "event": ev, "record": integrityJSON(rec)})
}
