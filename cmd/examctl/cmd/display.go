package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zaqqye/exam_guard/internal/monitor"
)

// termDisplay prints monitor state as plain lines. The timer is printed once
// a minute, then every tick inside the warning window.
type termDisplay struct {
	out        io.Writer
	warnWithin time.Duration
	lastMinute int64
}

var _ monitor.Display = (*termDisplay)(nil)

func newTermDisplay(out io.Writer, warnWithin time.Duration) *termDisplay {
	return &termDisplay{out: out, warnWithin: warnWithin, lastMinute: -1}
}

func (d *termDisplay) ShowCounters(c monitor.Counters) {
	fmt.Fprintf(d.out, "violations %d (tab %d, focus %d, mouse %d, fullscreen %d, refresh %d; copy %d, paste %d)\n",
		c.TotalViolations, c.TabChanges, c.FocusChanges, c.MouseOuts, c.FullscreenExits,
		c.RefreshViolations, c.CopyAttempts, c.PasteAttempts)
}

func (d *termDisplay) SetStatus(msg string) {
	fmt.Fprintf(d.out, "status: %s\n", msg)
}

func (d *termDisplay) Notify(msg string, level monitor.Level) {
	tag := "warning"
	if level == monitor.LevelError {
		tag = "error"
	}
	fmt.Fprintf(d.out, "[%s] %s\n", tag, msg)
}

func (d *termDisplay) ShowViolationModal(c monitor.Counters, countdown time.Duration) {
	fmt.Fprintf(d.out, "!! %d integrity violations. Submitting in %s unless you return to the exam.\n",
		c.TotalViolations, countdown.Round(time.Second))
}

func (d *termDisplay) ShowTimer(remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	minute := int64(remaining / time.Minute)
	if remaining > d.warnWithin && minute == d.lastMinute {
		return
	}
	d.lastMinute = minute
	fmt.Fprintf(d.out, "time left %s\n", remaining.Round(time.Second))
}

// fileCamera stands in for a webcam by reading a fixed image file.
type fileCamera string

func (f fileCamera) Capture(_ context.Context) ([]byte, error) {
	return os.ReadFile(string(f))
}
