package monitor

import (
	"context"
	"time"

	"github.com/zaqqye/exam_guard/internal/integrity"
)

// Reporter delivers one integrity event to the server.
type Reporter interface {
	Report(ctx context.Context, examID, userID string, ev integrity.EventType) error
}

// Pinger sends the activity heartbeat.
type Pinger interface {
	Ping(ctx context.Context, examID, userID string, at time.Time) error
}

// Camera grabs one webcam frame.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

type CaptureUploader interface {
	UploadCapture(ctx context.Context, examID, userID string, image []byte) error
}

type Level int

const (
	LevelWarning Level = iota
	LevelError
)

// Display renders monitor state. Calls are serialized by the monitor.
type Display interface {
	ShowCounters(c Counters)
	SetStatus(msg string)
	Notify(msg string, level Level)
	ShowViolationModal(c Counters, countdown time.Duration)
	ShowTimer(remaining time.Duration)
}

type Screen interface {
	RequestFullscreen() error
}

// Submitter hands the final answer sheet to the server and leaves the exam.
type Submitter interface {
	Submit(ctx context.Context, s Submission) error
	Redirect(path string)
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type nopDisplay struct{}

func (nopDisplay) ShowCounters(Counters)                    {}
func (nopDisplay) SetStatus(string)                         {}
func (nopDisplay) Notify(string, Level)                     {}
func (nopDisplay) ShowViolationModal(Counters, time.Duration) {}
func (nopDisplay) ShowTimer(time.Duration)                  {}

type nopScreen struct{}

func (nopScreen) RequestFullscreen() error { return nil }
