package controllers

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "gorm.io/datatypes"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/ws"
)

// pingHistoryGap is how long a steady status may go without a new history row.
const pingHistoryGap = 30 * time.Second

type ActivityController struct {
    DB   *gorm.DB
    Hubs *ws.Hubs
    Log  *slog.Logger
    Now  func() time.Time
}

type activityRequest struct {
    ExamID     FlexibleString  `json:"examId"`
    UserID     FlexibleString  `json:"userId"`
    Timestamp  *time.Time      `json:"timestamp"`
    Status     string          `json:"status"`
    ClientInfo json.RawMessage `json:"clientInfo"`
}

var activityStatuses = map[string]struct{}{
    models.ActivityActive:   {},
    models.ActivityInactive: {},
    models.ActivityOffline:  {},
}

// SeeActive records an exam heartbeat. The first ping of an attempt, or the
// first one after staff allowed a resubmission, sets StartedAt.
func (ac *ActivityController) SeeActive(c *gin.Context) {
    var req activityRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
        return
    }
    status := req.Status
    if status == "" {
        status = models.ActivityActive
    }
    if _, ok := activityStatuses[status]; !ok {
        c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
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

    ctx := c.Request.Context()
    examID := req.ExamID.String()
    var exam models.Exam
    if err := ac.DB.WithContext(ctx).Where("exam_id = ?", examID).First(&exam).Error; err != nil {
        if errors.Is(err, gorm.ErrRecordNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Invalid exam or user ID"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
        return
    }

    at := ac.now()
    if req.Timestamp != nil && !req.Timestamp.IsZero() {
        at = req.Timestamp.UTC()
    }

    var tracker models.ActivityTracker
    var err error
    // Two first pings racing on the unique key: the loser retries as an update.
    for attempt := 0; attempt < 2; attempt++ {
        tracker, err = ac.recordPing(ctx, examID, userID, status, at, req.ClientInfo)
        if !errors.Is(err, gorm.ErrDuplicatedKey) {
            break
        }
    }
    if err != nil {
        ac.Log.Error("track activity", "exam_id", examID, "user_id", userID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error while tracking activity"})
        return
    }
    broadcastActivity(ac.Hubs, &tracker)

    c.JSON(http.StatusOK, gin.H{"success": true, "data": activityJSON(&tracker)})
}

func (ac *ActivityController) recordPing(ctx context.Context, examID, userID, status string, at time.Time, info json.RawMessage) (models.ActivityTracker, error) {
    var t models.ActivityTracker
    err := ac.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
        err := tx.Where("exam_id = ? AND user_id = ?", examID, userID).First(&t).Error
        switch {
        case errors.Is(err, gorm.ErrRecordNotFound):
            t = models.ActivityTracker{
                ExamID:     examID,
                UserID:     userID,
                Status:     status,
                LastPingAt: at,
                StartedAt:  at,
            }
            if len(info) > 0 {
                t.ClientInfo = datatypes.JSON(info)
            }
            if err := tx.Create(&t).Error; err != nil {
                return err
            }
        case err != nil:
            return err
        default:
            t.Status = status
            t.LastPingAt = at
            if t.IsAllowedResubmit {
                t.StartedAt = at
                t.IsAllowedResubmit = false
            }
            if len(info) > 0 {
                t.ClientInfo = datatypes.JSON(info)
            }
            if err := tx.Save(&t).Error; err != nil {
                return err
            }
        }

        var last models.ActivityPing
        err = tx.Where("tracker_id = ?", t.ID).Order("at DESC").First(&last).Error
        if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
            return err
        }
        if err == nil && last.Status == status && at.Sub(last.At) <= pingHistoryGap {
            return nil
        }
        return tx.Create(&models.ActivityPing{TrackerID: t.ID, Status: status, At: at}).Error
    })
    return t, err
}

func (ac *ActivityController) now() time.Time {
    if ac.Now != nil {
        return ac.Now().UTC()
    }
    return time.Now().UTC()
}

func activityJSON(t *models.ActivityTracker) gin.H {
    return gin.H{
        "userId":            t.UserID,
        "examId":            t.ExamID,
        "status":            t.Status,
        "lastPing":          t.LastPingAt,
        "startedAt":         t.StartedAt,
        "isAllowedResubmit": t.IsAllowedResubmit,
    }
}
