package config

import (
    "strings"
    "time"

    "github.com/spf13/viper"
)

type Config struct {
    Port       string
    DBDriver   string // postgres | sqlite
    DBHost     string
    DBPort     string
    DBUser     string
    DBPassword string
    DBName     string
    DBSSLMode  string
    SQLitePath string
    JWTSecret  string
    AdminEmail    string
    AdminPassword string
    AdminFullName string
    LogLevel      string
    // Sessions
    SessionTTL        time.Duration
    SessionStore      string // gorm | memory
    SessionCookieName string
    CookieSecure      bool
    FlashCookieName   string
    // Webcam captures
    CaptureDBPath   string
    CaptureMaxBytes int64
    CORSAllowedOrigins []string
    // Published to exam clients through /api/v1/config/integrity
    Integrity IntegrityPolicy
}

// IntegrityPolicy carries the thresholds the exam client enforces.
type IntegrityPolicy struct {
    TabFocusCooldown      time.Duration
    MaxTotalViolations    int
    AutoSubmitCountdown   time.Duration
    MaxAllowedRefreshes   int
    ResizeCooldown        time.Duration
    MaxResizeAttempts     int
    ResizeHeightTolerance int
    PingInterval          time.Duration
    CaptureInterval       time.Duration
    SessionCheckInterval  time.Duration
}

func Load() *Config {
    v := viper.New()
    setDefaults(v)
    v.AutomaticEnv()
    return fromViper(v)
}

func setDefaults(v *viper.Viper) {
    v.SetDefault("PORT", "8080")
    v.SetDefault("DB_DRIVER", "postgres")
    v.SetDefault("DB_HOST", "localhost")
    v.SetDefault("DB_PORT", "5432")
    v.SetDefault("DB_USER", "postgres")
    v.SetDefault("DB_PASSWORD", "postgres")
    v.SetDefault("DB_NAME", "exam_guard")
    v.SetDefault("DB_SSLMODE", "disable")
    v.SetDefault("SQLITE_PATH", "exam_guard.db")
    v.SetDefault("JWT_SECRET", "supersecret_change_me")
    v.SetDefault("ADMIN_EMAIL", "admin@example.com")
    v.SetDefault("ADMIN_PASSWORD", "admin123")
    v.SetDefault("ADMIN_FULL_NAME", "Administrator")
    v.SetDefault("LOG_LEVEL", "info")
    v.SetDefault("SESSION_TTL_MINUTES", 24*60)
    v.SetDefault("SESSION_STORE", "gorm")
    v.SetDefault("SESSION_COOKIE_NAME", "exam_session")
    v.SetDefault("COOKIE_SECURE", false)
    v.SetDefault("FLASH_COOKIE_NAME", "exam_flash")
    v.SetDefault("CAPTURE_DB_PATH", "captures.db")
    v.SetDefault("CAPTURE_MAX_BYTES", 10<<20)
    v.SetDefault("CORS_ALLOWED_ORIGINS", "")

    v.SetDefault("INTEGRITY_TAB_FOCUS_COOLDOWN_MS", 1000)
    v.SetDefault("INTEGRITY_MAX_VIOLATIONS", 3)
    v.SetDefault("INTEGRITY_AUTO_SUBMIT_SECONDS", 5)
    v.SetDefault("INTEGRITY_MAX_REFRESHES", 2)
    v.SetDefault("INTEGRITY_RESIZE_COOLDOWN_MS", 500)
    v.SetDefault("INTEGRITY_MAX_RESIZE_ATTEMPTS", 2)
    v.SetDefault("INTEGRITY_RESIZE_TOLERANCE_PX", 100)
    v.SetDefault("INTEGRITY_PING_SECONDS", 20)
    v.SetDefault("INTEGRITY_CAPTURE_SECONDS", 5)
    v.SetDefault("INTEGRITY_SESSION_CHECK_SECONDS", 30)
}

func fromViper(v *viper.Viper) *Config {
    cfg := &Config{
        Port:          v.GetString("PORT"),
        DBDriver:      strings.ToLower(v.GetString("DB_DRIVER")),
        DBHost:        v.GetString("DB_HOST"),
        DBPort:        v.GetString("DB_PORT"),
        DBUser:        v.GetString("DB_USER"),
        DBPassword:    v.GetString("DB_PASSWORD"),
        DBName:        v.GetString("DB_NAME"),
        DBSSLMode:     v.GetString("DB_SSLMODE"),
        SQLitePath:    v.GetString("SQLITE_PATH"),
        JWTSecret:     v.GetString("JWT_SECRET"),
        AdminEmail:    v.GetString("ADMIN_EMAIL"),
        AdminPassword: v.GetString("ADMIN_PASSWORD"),
        AdminFullName: v.GetString("ADMIN_FULL_NAME"),
        LogLevel:      v.GetString("LOG_LEVEL"),
        SessionTTL:        time.Duration(v.GetInt("SESSION_TTL_MINUTES")) * time.Minute,
        SessionStore:      strings.ToLower(v.GetString("SESSION_STORE")),
        SessionCookieName: v.GetString("SESSION_COOKIE_NAME"),
        CookieSecure:      v.GetBool("COOKIE_SECURE"),
        FlashCookieName:   v.GetString("FLASH_COOKIE_NAME"),
        CaptureDBPath:     v.GetString("CAPTURE_DB_PATH"),
        CaptureMaxBytes:   v.GetInt64("CAPTURE_MAX_BYTES"),
        Integrity: IntegrityPolicy{
            TabFocusCooldown:      time.Duration(v.GetInt("INTEGRITY_TAB_FOCUS_COOLDOWN_MS")) * time.Millisecond,
            MaxTotalViolations:    v.GetInt("INTEGRITY_MAX_VIOLATIONS"),
            AutoSubmitCountdown:   time.Duration(v.GetInt("INTEGRITY_AUTO_SUBMIT_SECONDS")) * time.Second,
            MaxAllowedRefreshes:   v.GetInt("INTEGRITY_MAX_REFRESHES"),
            ResizeCooldown:        time.Duration(v.GetInt("INTEGRITY_RESIZE_COOLDOWN_MS")) * time.Millisecond,
            MaxResizeAttempts:     v.GetInt("INTEGRITY_MAX_RESIZE_ATTEMPTS"),
            ResizeHeightTolerance: v.GetInt("INTEGRITY_RESIZE_TOLERANCE_PX"),
            PingInterval:          time.Duration(v.GetInt("INTEGRITY_PING_SECONDS")) * time.Second,
            CaptureInterval:       time.Duration(v.GetInt("INTEGRITY_CAPTURE_SECONDS")) * time.Second,
            SessionCheckInterval:  time.Duration(v.GetInt("INTEGRITY_SESSION_CHECK_SECONDS")) * time.Second,
        },
    }
    for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
        if o = strings.TrimSpace(o); o != "" {
            cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
        }
    }
    if cfg.SessionTTL <= 0 {
        cfg.SessionTTL = 24 * time.Hour
    }
    return cfg
}
