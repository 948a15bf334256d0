package models

import (
    "time"

    "gorm.io/datatypes"
)

const (
    ActivityActive   = "active"
    ActivityInactive = "inactive"
    ActivityOffline  = "offline"
)

// ActivityTracker holds the liveness of one student in one exam.
type ActivityTracker struct {
    ID                uint           `gorm:"primaryKey"`
    ExamID            string         `gorm:"size:64;uniqueIndex:uniq_activity_exam_user"`
    UserID            string         `gorm:"size:64;uniqueIndex:uniq_activity_exam_user"`
    Status            string         `gorm:"size:16;default:inactive"`
    IsAllowedResubmit bool
    LastPingAt        time.Time
    StartedAt         time.Time
    ClientInfo        datatypes.JSON
    CreatedAt         time.Time
    UpdatedAt         time.Time
}

// ActivityPing is one entry of a tracker's ping history.
type ActivityPing struct {
    ID        uint      `gorm:"primaryKey"`
    TrackerID uint      `gorm:"index"`
    Status    string    `gorm:"size:16"`
    At        time.Time `gorm:"index"`
}
