package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/datatypes"
    "gorm.io/gorm"
)

type Exam struct {
    ID              uint   `gorm:"primaryKey"`
    ExamID          string `gorm:"size:64;uniqueIndex"`
    Title           string
    DurationMinutes int
    ScheduledAt     time.Time
    ScheduleTill    time.Time
    CreatedBy       string `gorm:"size:64"`
    CreatedAt       time.Time
    UpdatedAt       time.Time
}

func (e *Exam) BeforeCreate(tx *gorm.DB) (err error) {
    if e.ExamID == "" {
        e.ExamID = uuid.NewString()
    }
    return nil
}

// ExamSubmission is the final answer sheet of one attempt.
type ExamSubmission struct {
    ID          uint           `gorm:"primaryKey"`
    ExamID      string         `gorm:"size:64;uniqueIndex:uniq_submission_exam_user"`
    UserID      string         `gorm:"size:64;uniqueIndex:uniq_submission_exam_user"`
    Reason      string         `gorm:"size:32"`
    Answers     datatypes.JSON
    Violations  datatypes.JSON
    SubmittedAt time.Time
    CreatedAt   time.Time
}

// CaptureRecord points at a webcam frame kept in the capture store.
type CaptureRecord struct {
    ID          uint   `gorm:"primaryKey"`
    ExamID      string `gorm:"size:64;index"`
    UserID      string `gorm:"size:64;index"`
    ObjectKey   string `gorm:"uniqueIndex"`
    Size        int64
    Checksum    string `gorm:"size:64"`
    ContentType string `gorm:"size:64"`
    CreatedAt   time.Time
}
