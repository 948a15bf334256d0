package models

import "time"

// IntegrityRecord aggregates the integrity events reported for one exam attempt.
type IntegrityRecord struct {
    ID                  uint   `gorm:"primaryKey"`
    ExamID              string `gorm:"size:64;uniqueIndex:uniq_integrity_exam_user"`
    UserID              string `gorm:"size:64;uniqueIndex:uniq_integrity_exam_user"`
    TabChanges          int    `gorm:"not null;default:0"`
    MouseOuts           int    `gorm:"not null;default:0"`
    FullscreenExits     int    `gorm:"not null;default:0"`
    CopyAttempts        int    `gorm:"not null;default:0"`
    PasteAttempts       int    `gorm:"not null;default:0"`
    FocusChanges        int    `gorm:"not null;default:0"`
    ScreenConfiguration string `gorm:"default:Unknown"`
    LastEvent           string `gorm:"default:N/A"`
    CreatedAt           time.Time
    UpdatedAt           time.Time
}
