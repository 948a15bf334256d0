package models

import "time"

// LoginSession is the server-side record behind a session token.
// Destroyed rows are kept as tombstones.
type LoginSession struct {
    ID          uint       `gorm:"primaryKey"`
    SessionID   string     `gorm:"size:64;uniqueIndex"`
    UserIDRef   string     `gorm:"size:64;index"`
    Role        string     `gorm:"size:16"`
    UserAgent   string
    IPAddress   string     `gorm:"size:64"`
    ExpiresAt   time.Time  `gorm:"index"`
    DestroyedAt *time.Time `gorm:"index"`
    CreatedAt   time.Time
    UpdatedAt   time.Time
}

// Live reports whether the session may still authenticate requests at now.
func (s LoginSession) Live(now time.Time) bool {
    return s.DestroyedAt == nil && now.Before(s.ExpiresAt)
}
