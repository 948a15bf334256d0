package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zaqqye/exam_guard/internal/integrity"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Advance moves time forward, firing due timers in order. Timers armed by
// callbacks fire too if they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.timers = pending(c.timers)
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func pending(ts []*fakeTimer) []*fakeTimer {
	out := ts[:0]
	for _, t := range ts {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

type fakeReporter struct {
	mu     sync.Mutex
	events []integrity.EventType
	err    error
}

func (r *fakeReporter) Report(_ context.Context, _, _ string, ev integrity.EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *fakeReporter) sent() []integrity.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]integrity.EventType(nil), r.events...)
}

type fakePinger struct {
	mu    sync.Mutex
	pings int
}

func (p *fakePinger) Ping(context.Context, string, string, time.Time) error {
	p.mu.Lock()
	p.pings++
	p.mu.Unlock()
	return nil
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submissions []Submission
	redirects   []string
}

func (s *fakeSubmitter) Submit(_ context.Context, sub Submission) error {
	s.mu.Lock()
	s.submissions = append(s.submissions, sub)
	s.mu.Unlock()
	return nil
}

func (s *fakeSubmitter) Redirect(path string) {
	s.mu.Lock()
	s.redirects = append(s.redirects, path)
	s.mu.Unlock()
}

type fakeDisplay struct {
	mu       sync.Mutex
	counters Counters
	statuses []string
	notices  []string
	modals   int
	timer    time.Duration
}

func (d *fakeDisplay) ShowCounters(c Counters) {
	d.mu.Lock()
	d.counters = c
	d.mu.Unlock()
}

func (d *fakeDisplay) SetStatus(msg string) {
	d.mu.Lock()
	d.statuses = append(d.statuses, msg)
	d.mu.Unlock()
}

func (d *fakeDisplay) Notify(msg string, _ Level) {
	d.mu.Lock()
	d.notices = append(d.notices, msg)
	d.mu.Unlock()
}

func (d *fakeDisplay) ShowViolationModal(Counters, time.Duration) {
	d.mu.Lock()
	d.modals++
	d.mu.Unlock()
}

func (d *fakeDisplay) ShowTimer(remaining time.Duration) {
	d.mu.Lock()
	d.timer = remaining
	d.mu.Unlock()
}

func (d *fakeDisplay) count(msg string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.notices {
		if s == msg {
			n++
		}
	}
	return n
}

type fakeScreen struct {
	mu       sync.Mutex
	requests int
}

func (s *fakeScreen) RequestFullscreen() error {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return nil
}

type fakeCamera struct {
	err error
}

func (c fakeCamera) Capture(context.Context) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte("jpeg"), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads int
}

func (u *fakeUploader) UploadCapture(context.Context, string, string, []byte) error {
	u.mu.Lock()
	u.uploads++
	u.mu.Unlock()
	return nil
}
