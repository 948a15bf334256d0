package models

import "time"

// AppConfig stores key/value settings managed by admins at runtime.
type AppConfig struct {
    Key         string `gorm:"size:128;primaryKey"`
    Value       string `gorm:"type:text"`
    Description string `gorm:"type:text"`
    UpdatedBy   string `gorm:"size:64"`
    CreatedAt   time.Time
    UpdatedAt   time.Time
}

// ConfigIntegrityPolicy holds admin overrides of the integrity policy as a
// JSON object in the client wire format.
const ConfigIntegrityPolicy = "integrity_policy"
