package controllers

import (
    "errors"
    "log/slog"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/ws"
)

type MonitoringController struct {
    DB     *gorm.DB
    Binder *session.Binder
    Hubs   *ws.Hubs
    Log    *slog.Logger
}

type listParams struct {
    limit, page int
    all         bool
    order       string
    sortBy      string
    sortDir     string
}

func parseListParams(c *gin.Context, allowedSorts map[string]string, defaultSort string) listParams {
    p := listParams{limit: 50, page: 1}
    p.all = strings.EqualFold(c.Query("all"), "true") || c.Query("all") == "1"
    if v := c.Query("limit"); v != "" { if n, err := strconv.Atoi(v); err == nil && n > 0 { p.limit = n } }
    if v := c.Query("page"); v != "" { if n, err := strconv.Atoi(v); err == nil && n > 0 { p.page = n } }
    p.sortBy = strings.ToLower(c.DefaultQuery("sort_by", defaultSort))
    p.sortDir = strings.ToUpper(c.DefaultQuery("sort_dir", "DESC"))
    if p.sortDir != "ASC" && p.sortDir != "DESC" { p.sortDir = "DESC" }
    col, ok := allowedSorts[p.sortBy]
    if !ok { p.sortBy = defaultSort; col = allowedSorts[defaultSort] }
    p.order = col + " " + p.sortDir
    return p
}

func (p listParams) apply(q *gorm.DB) *gorm.DB {
    q = q.Order(p.order)
    if !p.all { q = q.Offset((p.page - 1) * p.limit).Limit(p.limit) }
    return q
}

func (p listParams) meta(total int64) gin.H {
    meta := gin.H{"total": total, "all": p.all}
    if !p.all { meta["limit"] = p.limit; meta["page"] = p.page; meta["sort_by"] = p.sortBy; meta["sort_dir"] = p.sortDir }
    return meta
}

// Integrity lists the integrity counters of every student in an exam.
func (mc *MonitoringController) Integrity(c *gin.Context) {
    examID := c.Param("examId")
    p := parseListParams(c, map[string]string{
        "updated_at":  "ir.updated_at",
        "full_name":   "u.full_name",
        "tab_changes": "ir.tab_changes",
        "mouse_outs":  "ir.mouse_outs",
    }, "updated_at")

    type row struct {
        UserID          string    `json:"user_id"`
        FullName        string    `json:"full_name"`
        Email           string    `json:"email"`
        TabChanges      int       `json:"tab_changes"`
        MouseOuts       int       `json:"mouse_outs"`
        FullscreenExits int       `json:"fullscreen_exits"`
        CopyAttempts    int       `json:"copy_attempts"`
        PasteAttempts   int       `json:"paste_attempts"`
        FocusChanges    int       `json:"focus_changes"`
        LastEvent       string    `json:"last_event"`
        UpdatedAt       time.Time `json:"updated_at"`
    }

    base := mc.DB.WithContext(c.Request.Context()).Table("integrity_records AS ir").
        Joins("LEFT JOIN users u ON u.user_id = ir.user_id").
        Where("ir.exam_id = ?", examID).
        Session(&gorm.Session{})

    var total int64
    if err := base.Count(&total).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return
    }
    listQ := base.Select("ir.user_id, COALESCE(u.full_name, '') AS full_name, COALESCE(u.email, '') AS email, ir.tab_changes, ir.mouse_outs, ir.fullscreen_exits, ir.copy_attempts, ir.paste_attempts, ir.focus_changes, ir.last_event, ir.updated_at")
    var rows []row
    if err := p.apply(listQ).Scan(&rows).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return
    }
    if rows == nil { rows = []row{} }
    c.JSON(http.StatusOK, gin.H{"exam_id": examID, "data": rows, "meta": p.meta(total)})
}

// Activity lists the heartbeat state of every student in an exam.
func (mc *MonitoringController) Activity(c *gin.Context) {
    examID := c.Param("examId")
    p := parseListParams(c, map[string]string{
        "last_ping_at": "t.last_ping_at",
        "started_at":   "t.started_at",
        "full_name":    "u.full_name",
        "status":       "t.status",
    }, "last_ping_at")

    type row struct {
        UserID            string    `json:"user_id"`
        FullName          string    `json:"full_name"`
        Status            string    `json:"status"`
        LastPingAt        time.Time `json:"last_ping_at"`
        StartedAt         time.Time `json:"started_at"`
        IsAllowedResubmit bool      `json:"is_allowed_resubmit"`
    }

    base := mc.DB.WithContext(c.Request.Context()).Table("activity_trackers AS t").
        Joins("LEFT JOIN users u ON u.user_id = t.user_id").
        Where("t.exam_id = ?", examID)
    if st := strings.TrimSpace(c.Query("status")); st != "" {
        base = base.Where("t.status = ?", st)
    }
    base = base.Session(&gorm.Session{})

    var total int64
    if err := base.Count(&total).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return
    }
    listQ := base.Select("t.user_id, COALESCE(u.full_name, '') AS full_name, t.status, t.last_ping_at, t.started_at, t.is_allowed_resubmit")
    var rows []row
    if err := p.apply(listQ).Scan(&rows).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return
    }
    if rows == nil { rows = []row{} }
    c.JSON(http.StatusOK, gin.H{"exam_id": examID, "data": rows, "meta": p.meta(total)})
}

// ForceLogout ends every session of a student and clears the binding, so the
// next login starts fresh on whichever device.
func (mc *MonitoringController) ForceLogout(c *gin.Context) {
    actor, _ := middleware.CurrentUser(c)
    target, ok := mc.loadStudent(c)
    if !ok { return }

    n, err := mc.Binder.Release(c.Request.Context(), target)
    if err != nil {
        mc.Log.Error("force logout", "user_id", target.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end sessions"}); return
    }
    mc.Log.Warn("student forced out by staff", "user_id", target.UserID, "by", actor.UserID, "sessions", n)
    broadcastLogout(mc.Hubs, target.UserID)
    c.JSON(http.StatusOK, gin.H{"message": "student logged out", "sessions_ended": n})
}

// AllowResubmit reopens a student's attempt: the stored submission is removed
// and the next heartbeat restarts the attempt clock.
func (mc *MonitoringController) AllowResubmit(c *gin.Context) {
    examID := c.Param("examId")
    target, ok := mc.loadStudent(c)
    if !ok { return }
    ctx := c.Request.Context()

    var exam models.Exam
    if err := mc.DB.WithContext(ctx).Where("exam_id = ?", examID).First(&exam).Error; err != nil {
        if errors.Is(err, gorm.ErrRecordNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"}); return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return
    }

    now := time.Now().UTC()
    var tracker models.ActivityTracker
    err := mc.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
        if err := tx.Where("exam_id = ? AND user_id = ?", examID, target.UserID).Delete(&models.ExamSubmission{}).Error; err != nil {
            return err
        }
        err := tx.Where("exam_id = ? AND user_id = ?", examID, target.UserID).First(&tracker).Error
        if errors.Is(err, gorm.ErrRecordNotFound) {
            tracker = models.ActivityTracker{ExamID: examID, UserID: target.UserID, StartedAt: now}
        } else if err != nil {
            return err
        }
        tracker.IsAllowedResubmit = true
        tracker.Status = models.ActivityInactive
        tracker.LastPingAt = now
        if err := tx.Save(&tracker).Error; err != nil {
            return err
        }
        return tx.Create(&models.ActivityPing{TrackerID: tracker.ID, Status: models.ActivityInactive, At: now}).Error
    })
    if err != nil {
        mc.Log.Error("allow resubmit", "exam_id", examID, "user_id", target.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reopen attempt"}); return
    }

    broadcastActivity(mc.Hubs, &tracker)
    if mc.Hubs != nil {
        mc.Hubs.Student.Notify(target.UserID, ws.StudentMessage{
            Type:    ws.StudentResubmitAllowed,
            ExamID:  examID,
            Message: "Your supervisor has allowed you to retake this exam.",
        })
    }
    c.JSON(http.StatusOK, gin.H{"message": "student allowed to resubmit", "data": activityJSON(&tracker)})
}

func (mc *MonitoringController) loadStudent(c *gin.Context) (*models.User, bool) {
    target, err := mc.Binder.LookupUser(c.Request.Context(), c.Param("userId"))
    if errors.Is(err, session.ErrUserNotFound) {
        c.JSON(http.StatusNotFound, gin.H{"error": "user not found"}); return nil, false
    }
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()}); return nil, false
    }
    if !target.IsStudent() {
        c.JSON(http.StatusBadRequest, gin.H{"error": "target is not a student"}); return nil, false
    }
    return target, true
}

func integrityJSON(rec *models.IntegrityRecord) gin.H {
    return gin.H{
        "exam_id":          rec.ExamID,
        "user_id":          rec.UserID,
        "tab_changes":      rec.TabChanges,
        "mouse_outs":       rec.MouseOuts,
        "fullscreen_exits": rec.FullscreenExits,
        "copy_attempts":    rec.CopyAttempts,
        "paste_attempts":   rec.PasteAttempts,
        "focus_changes":    rec.FocusChanges,
        "last_event":       rec.LastEvent,
        "updated_at":       rec.UpdatedAt,
    }
}
