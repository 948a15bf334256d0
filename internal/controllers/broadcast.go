package controllers

import (
    "time"

    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/ws"
)

func broadcastIntegrity(hubs *ws.Hubs, rec *models.IntegrityRecord) {
    if hubs == nil || rec == nil {
        return
    }
    hubs.Monitoring.Broadcast(ws.MonitoringEvent{
        Type:   ws.EventIntegrity,
        ExamID: rec.ExamID,
        UserID: rec.UserID,
        Integrity: &ws.IntegritySnapshot{
            TabChanges:      rec.TabChanges,
            MouseOuts:       rec.MouseOuts,
            FullscreenExits: rec.FullscreenExits,
            CopyAttempts:    rec.CopyAttempts,
            PasteAttempts:   rec.PasteAttempts,
            FocusChanges:    rec.FocusChanges,
            LastEvent:       rec.LastEvent,
        },
        At: rec.UpdatedAt,
    })
}

func broadcastActivity(hubs *ws.Hubs, t *models.ActivityTracker) {
    if hubs == nil || t == nil {
        return
    }
    hubs.Monitoring.Broadcast(ws.MonitoringEvent{
        Type:     ws.EventActivity,
        ExamID:   t.ExamID,
        UserID:   t.UserID,
        Activity: &ws.ActivitySnapshot{Status: t.Status, LastPingAt: t.LastPingAt},
        At:       t.LastPingAt,
    })
}

func broadcastSubmission(hubs *ws.Hubs, s *models.ExamSubmission) {
    if hubs == nil || s == nil {
        return
    }
    hubs.Monitoring.Broadcast(ws.MonitoringEvent{
        Type:       ws.EventSubmission,
        ExamID:     s.ExamID,
        UserID:     s.UserID,
        Submission: &ws.SubmissionSnapshot{Reason: s.Reason},
        At:         s.SubmittedAt,
    })
}

func broadcastLogout(hubs *ws.Hubs, userID string) {
    if hubs == nil {
        return
    }
    hubs.Monitoring.Broadcast(ws.MonitoringEvent{Type: ws.EventLogout, UserID: userID, At: time.Now().UTC()})
    hubs.Student.ForceLogout(userID)
}
