package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
    cfg := Load()

    assert.Equal(t, "8080", cfg.Port)
    assert.Equal(t, "exam_session", cfg.SessionCookieName)
    assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
    assert.Equal(t, time.Second, cfg.Integrity.TabFocusCooldown)
    assert.Equal(t, 3, cfg.Integrity.MaxTotalViolations)
    assert.Equal(t, 2, cfg.Integrity.MaxAllowedRefreshes)
    assert.Equal(t, 500*time.Millisecond, cfg.Integrity.ResizeCooldown)
    assert.Equal(t, 20*time.Second, cfg.Integrity.PingInterval)
    assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
    t.Setenv("DB_DRIVER", "SQLite")
    t.Setenv("SESSION_TTL_MINUTES", "30")
    t.Setenv("INTEGRITY_MAX_VIOLATIONS", "5")
    t.Setenv("CORS_ALLOWED_ORIGINS", "https://exam.example.com, ,http://localhost:3000")

    cfg := Load()

    assert.Equal(t, "sqlite", cfg.DBDriver)
    assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
    assert.Equal(t, 5, cfg.Integrity.MaxTotalViolations)
    assert.Equal(t, []string{"https://exam.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
}
