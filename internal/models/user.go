package models

import (
    "time"
)

const (
    RoleAdmin   = "admin"
    RoleTeacher = "teacher"
    RoleStudent = "student"
)

type User struct {
    ID        uint      `gorm:"primaryKey"`
    UserID    string    `gorm:"uniqueIndex"`
    FullName  string
    Email     string    `gorm:"uniqueIndex"`
    Password  string
    Role      string
    Active    bool
    // CurrentSessionID is the one session allowed to take exams as this student.
    // Teachers and admins never populate it.
    CurrentSessionID *string `gorm:"size:64;index"`
    CreatedAt time.Time
    UpdatedAt time.Time
}

func (u User) IsStudent() bool {
    return u.Role == RoleStudent
}
