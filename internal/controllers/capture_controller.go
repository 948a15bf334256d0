package controllers

import (
    "errors"
    "io"
    "log/slog"
    "net/http"
    "strconv"

    "github.com/gin-gonic/gin"

    "github.com/zaqqye/exam_guard/internal/capture"
    "github.com/zaqqye/exam_guard/internal/middleware"
)

type CaptureController struct {
    Captures *capture.Service
    MaxBytes int64
    Log      *slog.Logger
}

// SaveImage stores one webcam frame uploaded as multipart field "image".
func (cc *CaptureController) SaveImage(c *gin.Context) {
    if cc.MaxBytes > 0 {
        c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cc.MaxBytes+1<<20)
    }
    if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
        var tooLarge *http.MaxBytesError
        if errors.As(err, &tooLarge) {
            c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
            return
        }
        c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
        return
    }
    examID := c.PostForm("examId")
    if examID == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "examId is required"})
        return
    }
    user, _ := middleware.CurrentUser(c)
    if uid := c.PostForm("userId"); uid != "" && uid != user.UserID {
        c.JSON(http.StatusForbidden, gin.H{"error": "cannot upload for another user"})
        return
    }

    fh, err := c.FormFile("image")
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
        return
    }
    if cc.MaxBytes > 0 && fh.Size > cc.MaxBytes {
        c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
        return
    }
    f, err := fh.Open()
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    defer f.Close()
    data, err := io.ReadAll(f)
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    contentType := fh.Header.Get("Content-Type")
    if contentType == "" || contentType == "application/octet-stream" {
        contentType = "image/jpeg"
    }
    rec, err := cc.Captures.Save(c.Request.Context(), examID, user.UserID, contentType, data)
    if err != nil {
        cc.Log.Error("save capture", "exam_id", examID, "user_id", user.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
        return
    }
    c.JSON(http.StatusOK, gin.H{"message": "Image stored", "path": rec.ObjectKey, "size": rec.Size})
}

// ListForAttempt lists the frames of one student in one exam for staff review.
func (cc *CaptureController) ListForAttempt(c *gin.Context) {
    examID, userID := c.Param("examId"), c.Param("userId")
    recs, err := cc.Captures.ForAttempt(c.Request.Context(), examID, userID)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    data := make([]gin.H, 0, len(recs))
    for _, r := range recs {
        data = append(data, gin.H{
            "id":           r.ID,
            "path":         r.ObjectKey,
            "size":         r.Size,
            "checksum":     r.Checksum,
            "content_type": r.ContentType,
            "created_at":   r.CreatedAt,
        })
    }
    c.JSON(http.StatusOK, gin.H{"exam_id": examID, "user_id": userID, "data": data})
}

// Image streams one stored frame.
func (cc *CaptureController) Image(c *gin.Context) {
    id, err := strconv.ParseUint(c.Param("captureId"), 10, 64)
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid capture id"})
        return
    }
    rec, data, err := cc.Captures.Open(c.Request.Context(), uint(id))
    if errors.Is(err, capture.ErrNotFound) {
        c.JSON(http.StatusNotFound, gin.H{"error": "capture not found"})
        return
    }
    if err != nil {
        cc.Log.Error("open capture", "capture_id", id, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
        return
    }
    c.Data(http.StatusOK, rec.ContentType, data)
}
