package controllers

import (
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "gorm.io/datatypes"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/monitor"
    "github.com/zaqqye/exam_guard/internal/ws"
)

type ExamController struct {
    DB   *gorm.DB
    Cfg  *config.Config
    Hubs *ws.Hubs
    Log  *slog.Logger
    Now  func() time.Time
}

type createExamRequest struct {
    Title           string     `json:"title" binding:"required"`
    DurationMinutes int        `json:"duration_minutes" binding:"required,min=1"`
    ScheduledAt     *time.Time `json:"scheduled_at"`
    ScheduleTill    *time.Time `json:"schedule_till"`
}

func (ec *ExamController) now() time.Time {
    if ec.Now != nil {
        return ec.Now().UTC()
    }
    return time.Now().UTC()
}

func (ec *ExamController) Create(c *gin.Context) {
    var req createExamRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    user, _ := middleware.CurrentUser(c)

    exam := models.Exam{
        Title:           strings.TrimSpace(req.Title),
        DurationMinutes: req.DurationMinutes,
        CreatedBy:       user.UserID,
    }
    if req.ScheduledAt != nil {
        exam.ScheduledAt = req.ScheduledAt.UTC()
    }
    if req.ScheduleTill != nil {
        exam.ScheduleTill = req.ScheduleTill.UTC()
    }
    if !exam.ScheduledAt.IsZero() && !exam.ScheduleTill.IsZero() && !exam.ScheduleTill.After(exam.ScheduledAt) {
        c.JSON(http.StatusBadRequest, gin.H{"error": "schedule_till must be after scheduled_at"})
        return
    }
    if err := ec.DB.WithContext(c.Request.Context()).Create(&exam).Error; err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusCreated, examJSON(&exam))
}

func (ec *ExamController) List(c *gin.Context) {
    var exams []models.Exam
    if err := ec.DB.WithContext(c.Request.Context()).Order("scheduled_at DESC, id DESC").Find(&exams).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    data := make([]gin.H, 0, len(exams))
    for i := range exams {
        data = append(data, examJSON(&exams[i]))
    }
    c.JSON(http.StatusOK, gin.H{"data": data})
}

// Bootstrap is what the exam page loads before the monitor starts: the exam
// schedule, the integrity policy, and the server clock.
func (ec *ExamController) Bootstrap(c *gin.Context) {
    exam, ok := ec.findExam(c)
    if !ok {
        return
    }
    user, _ := middleware.CurrentUser(c)

    var count int64
    err := ec.DB.WithContext(c.Request.Context()).Model(&models.ExamSubmission{}).
        Where("exam_id = ? AND user_id = ?", exam.ExamID, user.UserID).
        Count(&count).Error
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }

    policy, err := EffectivePolicy(c.Request.Context(), ec.DB, ec.Cfg)
    if err != nil {
        ec.Log.Error("load integrity policy", "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load policy"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "exam":        examJSON(exam),
        "user_id":     user.UserID,
        "submitted":   count > 0,
        "policy":      policy.Wire(),
        "server_time": ec.now(),
    })
}

type submitRequest struct {
    Reason     monitor.Reason  `json:"reason"`
    Answers    json.RawMessage `json:"answers"`
    Violations json.RawMessage `json:"violations"`
}

var submitReasons = map[monitor.Reason]struct{}{
    monitor.ReasonNormal:    {},
    monitor.ReasonTimeout:   {},
    monitor.ReasonIntegrity: {},
    monitor.ReasonResize:    {},
    monitor.ReasonRefreshes: {},
}

// Submit stores the final answer sheet of an attempt. An attempt is submitted
// once; staff reopen it through allow-resubmit.
func (ec *ExamController) Submit(c *gin.Context) {
    exam, ok := ec.findExam(c)
    if !ok {
        return
    }
    var req submitRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if req.Reason == "" {
        req.Reason = monitor.ReasonNormal
    }
    if _, ok := submitReasons[req.Reason]; !ok {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission reason"})
        return
    }
    user, _ := middleware.CurrentUser(c)

    sub := models.ExamSubmission{
        ExamID:      exam.ExamID,
        UserID:      user.UserID,
        Reason:      string(req.Reason),
        Answers:     jsonOrEmpty(req.Answers),
        Violations:  jsonOrEmpty(req.Violations),
        SubmittedAt: ec.now(),
    }
    if err := ec.DB.WithContext(c.Request.Context()).Create(&sub).Error; err != nil {
        if errors.Is(err, gorm.ErrDuplicatedKey) {
            c.JSON(http.StatusConflict, gin.H{"error": "exam already submitted"})
            return
        }
        ec.Log.Error("store submission", "exam_id", exam.ExamID, "user_id", user.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store submission"})
        return
    }
    if req.Reason != monitor.ReasonNormal {
        ec.Log.Warn("exam auto-submitted", "exam_id", exam.ExamID, "user_id", user.UserID, "reason", req.Reason)
    }
    broadcastSubmission(ec.Hubs, &sub)

    c.JSON(http.StatusCreated, gin.H{
        "message":      "submitted",
        "exam_id":      sub.ExamID,
        "reason":       sub.Reason,
        "submitted_at": sub.SubmittedAt,
        "redirect":     monitor.DashboardPath,
    })
}

func (ec *ExamController) findExam(c *gin.Context) (*models.Exam, bool) {
    var exam models.Exam
    err := ec.DB.WithContext(c.Request.Context()).Where("exam_id = ?", c.Param("examId")).First(&exam).Error
    if errors.Is(err, gorm.ErrRecordNotFound) {
        c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
        return nil, false
    }
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return nil, false
    }
    return &exam, true
}

func examJSON(e *models.Exam) gin.H {
    out := gin.H{
        "exam_id":          e.ExamID,
        "title":            e.Title,
        "duration_minutes": e.DurationMinutes,
        "created_by":       e.CreatedBy,
    }
    if !e.ScheduledAt.IsZero() {
        out["scheduled_at"] = e.ScheduledAt
    }
    if !e.ScheduleTill.IsZero() {
        out["schedule_till"] = e.ScheduleTill
    }
    return out
}

func jsonOrEmpty(raw json.RawMessage) datatypes.JSON {
    if len(raw) == 0 || string(raw) == "null" {
        return datatypes.JSON("{}")
    }
    return datatypes.JSON(raw)
}
