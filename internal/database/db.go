package database

import (
    "fmt"
    "strings"

    "github.com/glebarez/sqlite"
    "gorm.io/driver/postgres"
    "gorm.io/gorm"
    "gorm.io/gorm/logger"

    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/models"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
    switch cfg.DBDriver {
    case "sqlite":
        return ConnectSQLite(cfg.SQLitePath)
    case "", "postgres":
        dsn := fmt.Sprintf(
            "host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
            cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
        )
        return gorm.Open(postgres.Open(dsn), gormConfig())
    default:
        return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
    }
}

// ConnectSQLite opens a sqlite database. Pass a name without a path separator
// (e.g. "test-1") to get a private in-memory database.
func ConnectSQLite(path string) (*gorm.DB, error) {
    dsn := path
    if !strings.ContainsAny(path, "/.:") {
        dsn = "file:" + path + "?mode=memory&cache=shared"
    }
    db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
    if err != nil {
        return nil, err
    }
    sqlDB, err := db.DB()
    if err != nil {
        return nil, err
    }
    // sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
    sqlDB.SetMaxOpenConns(1)
    return db, nil
}

func gormConfig() *gorm.Config {
    return &gorm.Config{
        TranslateError: true,
        Logger:         logger.Default.LogMode(logger.Silent),
    }
}

func Migrate(db *gorm.DB) error {
    return db.AutoMigrate(
        &models.User{},
        &models.LoginSession{},
        &models.IntegrityRecord{},
        &models.ActivityTracker{},
        &models.ActivityPing{},
        &models.Exam{},
        &models.ExamSubmission{},
        &models.CaptureRecord{},
        &models.AppConfig{},
    )
}
