package controllers

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"
    "gorm.io/gorm/clause"

    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/monitor"
)

type ConfigController struct {
    DB  *gorm.DB
    Cfg *config.Config
    Log *slog.Logger
}

// Integrity publishes the thresholds exam clients must enforce.
func (cc *ConfigController) Integrity(c *gin.Context) {
    policy, err := EffectivePolicy(c.Request.Context(), cc.DB, cc.Cfg)
    if err != nil {
        cc.Log.Error("load integrity policy", "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load policy"})
        return
    }
    c.JSON(http.StatusOK, gin.H{
        "policy":         policy.Wire(),
        "server_time":    time.Now().UTC(),
        "schema_version": 1,
    })
}

// IntegrityOverrides returns only what admins have overridden.
func (cc *ConfigController) IntegrityOverrides(c *gin.Context) {
    row, err := loadOverrides(c.Request.Context(), cc.DB)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    out := gin.H{"overrides": json.RawMessage("{}")}
    if row != nil {
        out["overrides"] = json.RawMessage(row.Value)
        out["updated_by"] = row.UpdatedBy
        out["updated_at"] = row.UpdatedAt
    }
    c.JSON(http.StatusOK, out)
}

// UpdateIntegrityOverrides merges the posted wire fields into the stored
// overrides. Every value must be positive; unknown fields are rejected.
func (cc *ConfigController) UpdateIntegrityOverrides(c *gin.Context) {
    ctx := c.Request.Context()
    raw, err := c.GetRawData()
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    var posted map[string]json.RawMessage
    if err := json.Unmarshal(raw, &posted); err != nil || len(posted) == 0 {
        c.JSON(http.StatusBadRequest, gin.H{"error": "a JSON object of policy fields is required"})
        return
    }
    if err := validateOverrides(posted); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    merged := map[string]json.RawMessage{}
    row, err := loadOverrides(ctx, cc.DB)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    if row != nil {
        if err := json.Unmarshal([]byte(row.Value), &merged); err != nil {
            cc.Log.Error("stored integrity overrides are corrupt", "error", err)
            c.JSON(http.StatusInternalServerError, gin.H{"error": "stored integrity overrides are unreadable"})
            return
        }
    }
    for k, v := range posted {
        merged[k] = v
    }
    value, _ := json.Marshal(merged)

    user, _ := middleware.CurrentUser(c)
    rec := models.AppConfig{
        Key:         models.ConfigIntegrityPolicy,
        Value:       string(value),
        Description: "integrity policy overrides",
        UpdatedBy:   user.UserID,
    }
    err = cc.DB.WithContext(ctx).Clauses(clause.OnConflict{
        Columns:   []clause.Column{{Name: "key"}},
        DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
    }).Create(&rec).Error
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    cc.Log.Info("integrity policy overridden", "by", user.UserID, "fields", len(posted))

    policy, err := EffectivePolicy(ctx, cc.DB, cc.Cfg)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"overrides": json.RawMessage(value), "policy": policy.Wire()})
}

// ResetIntegrityOverrides drops every override.
func (cc *ConfigController) ResetIntegrityOverrides(c *gin.Context) {
    err := cc.DB.WithContext(c.Request.Context()).
        Where("key = ?", models.ConfigIntegrityPolicy).
        Delete(&models.AppConfig{}).Error
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"message": "integrity policy reset"})
}

func validateOverrides(posted map[string]json.RawMessage) error {
    raw, _ := json.Marshal(posted)
    dec := json.NewDecoder(bytes.NewReader(raw))
    dec.DisallowUnknownFields()
    var w monitor.WirePolicy
    if err := dec.Decode(&w); err != nil {
        return fmt.Errorf("invalid policy fields: %v", err)
    }
    for k, v := range posted {
        var n float64
        if err := json.Unmarshal(v, &n); err != nil || n <= 0 {
            return fmt.Errorf("%s must be a positive number", k)
        }
    }
    return nil
}

func loadOverrides(ctx context.Context, db *gorm.DB) (*models.AppConfig, error) {
    var row models.AppConfig
    err := db.WithContext(ctx).Where("key = ?", models.ConfigIntegrityPolicy).First(&row).Error
    if errors.Is(err, gorm.ErrRecordNotFound) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    return &row, nil
}

// EffectivePolicy is the configured policy with admin overrides applied.
func EffectivePolicy(ctx context.Context, db *gorm.DB, cfg *config.Config) (monitor.Policy, error) {
    base := MonitorPolicy(cfg.Integrity)
    row, err := loadOverrides(ctx, db)
    if err != nil || row == nil {
        return base, err
    }
    w := base.Wire()
    if err := json.Unmarshal([]byte(row.Value), &w); err != nil {
        return base, fmt.Errorf("stored integrity overrides: %w", err)
    }
    return w.Policy(), nil
}

// MonitorPolicy overlays the configured thresholds on the monitor defaults.
func MonitorPolicy(p config.IntegrityPolicy) monitor.Policy {
    out := monitor.DefaultPolicy()
    setDur := func(dst *time.Duration, v time.Duration) {
        if v > 0 {
            *dst = v
        }
    }
    setInt := func(dst *int, v int) {
        if v > 0 {
            *dst = v
        }
    }
    setDur(&out.TabFocusCooldown, p.TabFocusCooldown)
    setInt(&out.MaxTotalViolations, p.MaxTotalViolations)
    setDur(&out.AutoSubmitCountdown, p.AutoSubmitCountdown)
    setInt(&out.MaxAllowedRefreshes, p.MaxAllowedRefreshes)
    setDur(&out.ResizeCooldown, p.ResizeCooldown)
    setInt(&out.MaxResizeAttempts, p.MaxResizeAttempts)
    setInt(&out.ResizeHeightTolerance, p.ResizeHeightTolerance)
    setDur(&out.PingInterval, p.PingInterval)
    setDur(&out.CaptureInterval, p.CaptureInterval)
    setDur(&out.SessionCheckInterval, p.SessionCheckInterval)
    return out
}
