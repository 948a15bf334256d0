// Package monitor is the client side of exam integrity: one Monitor per exam
// attempt counts violations, mirrors them to durable storage, reports them to
// the server and submits the attempt when a threshold is crossed.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zaqqye/exam_guard/internal/integrity"
)

type State int

const (
	NotStarted State = iota
	Running
	Submitting
	Terminated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Submitting:
		return "submitting"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Reason is recorded with every submission.
type Reason string

const (
	ReasonNormal    Reason = "normal"
	ReasonTimeout   Reason = "timeout"
	ReasonIntegrity Reason = "integrity_violations"
	ReasonResize    Reason = "resize_violations"
	ReasonRefreshes Reason = "excessive_refreshes"
)

const (
	DashboardPath = "/dashboard"
	ioTimeout     = 15 * time.Second
)

var (
	ErrNotYetOpen     = errors.New("exam is not open yet")
	ErrClosed         = errors.New("exam is closed")
	ErrAlreadyStarted = errors.New("exam already started")
	ErrNotRunning     = errors.New("exam is not running")
	ErrTerminated     = errors.New("exam attempt is over")
)

// Counters is the violation counter set. TotalViolations never decreases
// within an attempt.
type Counters struct {
	TabChanges        int `json:"tabChanges"`
	MouseOuts         int `json:"mouseOuts"`
	FullscreenExits   int `json:"fullscreenExits"`
	CopyAttempts      int `json:"copyAttempts"`
	PasteAttempts     int `json:"pasteAttempts"`
	FocusChanges      int `json:"focusChanges"`
	RefreshViolations int `json:"refreshViolations"`
	TotalViolations   int `json:"totalViolations"`
}

type AnswerKind int

const (
	MCQ AnswerKind = iota
	Coding
)

type Answers struct {
	MCQ    map[string]string `json:"mcq"`
	Coding map[string]string `json:"coding"`
}

func (a Answers) clone() Answers {
	out := Answers{MCQ: make(map[string]string, len(a.MCQ)), Coding: make(map[string]string, len(a.Coding))}
	for k, v := range a.MCQ {
		out.MCQ[k] = v
	}
	for k, v := range a.Coding {
		out.Coding[k] = v
	}
	return out
}

// Submission is the final answer sheet of an attempt.
type Submission struct {
	ExamID   string   `json:"examId"`
	UserID   string   `json:"userId"`
	Reason   Reason   `json:"reason"`
	Answers  Answers  `json:"answers"`
	Counters Counters `json:"violations"`
}

// Exam identifies the attempt and its schedule. Zero OpensAt/ClosesAt mean no
// bound.
type Exam struct {
	ExamID   string
	UserID   string
	Duration time.Duration
	OpensAt  time.Time
	ClosesAt time.Time
}

// Config wires a Monitor. Camera, Uploader, Display and Screen are optional.
type Config struct {
	Exam      Exam
	Policy    Policy
	Storage   Storage
	Reporter  Reporter
	Pinger    Pinger
	Camera    Camera
	Uploader  CaptureUploader
	Display   Display
	Screen    Screen
	Submitter Submitter
	Clock     Clock
	Log       *slog.Logger
	// Spawn runs network effects. Defaults to a new goroutine each.
	Spawn func(func())
}

type Monitor struct {
	mu sync.Mutex

	exam      Exam
	policy    Policy
	storage   Storage
	reporter  Reporter
	pinger    Pinger
	camera    Camera
	uploader  CaptureUploader
	display   Display
	screen    Screen
	submitter Submitter
	clock     Clock
	log       *slog.Logger
	spawn     func(func())

	ctx    context.Context
	cancel context.CancelFunc

	state            State
	counters         Counters
	answers          Answers
	end              time.Time
	lastFocusAt      time.Time
	fullscreenSeen   bool
	fullscreenActive bool
	resizeAttempts   int
	lastResizeAt     time.Time
	warned           bool
	cameraFailed     bool
	reason           Reason

	tick, ping, capture, countdown Timer

	// effects collects I/O queued while holding mu; they run after unlock.
	effects []func()
	done    chan struct{}
}

func New(cfg Config) (*Monitor, error) {
	switch {
	case cfg.Exam.ExamID == "" || cfg.Exam.UserID == "":
		return nil, errors.New("monitor: exam and user ids are required")
	case cfg.Exam.Duration <= 0:
		return nil, errors.New("monitor: exam duration must be positive")
	case cfg.Storage == nil || cfg.Reporter == nil || cfg.Pinger == nil || cfg.Submitter == nil:
		return nil, errors.New("monitor: storage, reporter, pinger and submitter are required")
	}
	m := &Monitor{
		exam:      cfg.Exam,
		policy:    cfg.Policy.withDefaults(),
		storage:   cfg.Storage,
		reporter:  cfg.Reporter,
		pinger:    cfg.Pinger,
		camera:    cfg.Camera,
		uploader:  cfg.Uploader,
		display:   cfg.Display,
		screen:    cfg.Screen,
		submitter: cfg.Submitter,
		clock:     cfg.Clock,
		log:       cfg.Log,
		spawn:     cfg.Spawn,
		answers:   Answers{MCQ: map[string]string{}, Coding: map[string]string{}},
		done:      make(chan struct{}),
	}
	if m.display == nil {
		m.display = nopDisplay{}
	}
	if m.screen == nil {
		m.screen = nopScreen{}
	}
	if m.clock == nil {
		m.clock = RealClock{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("exam_id", cfg.Exam.ExamID, "user_id", cfg.Exam.UserID)
	if m.spawn == nil {
		m.spawn = func(f func()) { go f() }
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// do runs fn under the lock, then hands queued effects to spawn.
func (m *Monitor) do(fn func()) {
	m.mu.Lock()
	fn()
	effects := m.effects
	m.effects = nil
	m.mu.Unlock()
	for _, e := range effects {
		m.spawn(e)
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Reason is the submission reason once Terminated.
func (m *Monitor) Reason() Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Done is closed after a finished attempt has redirected.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Load is the page-load entry point. An attempt already marked as started is
// resumed, and the load itself counts as a refresh.
func (m *Monitor) Load() error {
	var err error
	m.do(func() { err = m.load() })
	return err
}

func (m *Monitor) load() error {
	if m.state != NotStarted {
		return nil
	}
	if m.slot(SlotStarted) != "true" {
		return nil
	}
	m.restore()

	count, _ := strconv.Atoi(m.slot(SlotRefreshCount))
	count++
	m.setSlot(SlotRefreshCount, strconv.Itoa(count))

	// The first load after Start is the baseline, not a refresh.
	if count > 1 {
		m.counters.RefreshViolations = count - 1
		m.count(integrity.PageRefresh)
		m.display.SetStatus("Page refresh detected")
		m.saveCounters()

		if count > m.policy.MaxAllowedRefreshes {
			m.display.Notify("Maximum page refreshes ("+strconv.Itoa(m.policy.MaxAllowedRefreshes)+") exceeded. Your exam is being submitted.", LevelError)
			m.finalize(ReasonRefreshes)
			return nil
		}
	}

	now := m.clock.Now()
	endMS, err := strconv.ParseInt(m.slot(SlotEndTime), 10, 64)
	if err != nil {
		m.end = now.Add(m.exam.Duration)
		m.setSlot(SlotEndTime, strconv.FormatInt(m.end.UnixMilli(), 10))
	} else {
		m.end = time.UnixMilli(endMS)
	}
	if !now.Before(m.end) {
		m.display.ShowTimer(0)
		m.display.Notify("Time's up! Your exam is being submitted.", LevelError)
		m.finalize(ReasonTimeout)
		return nil
	}

	m.state = Running
	m.log.Info("exam resumed", "refresh_count", count, "remaining", m.end.Sub(now))
	m.begin()
	m.checkThreshold()
	return nil
}

// Start begins a fresh attempt.
func (m *Monitor) Start() error {
	var err error
	m.do(func() { err = m.start() })
	return err
}

func (m *Monitor) start() error {
	switch m.state {
	case Running, Submitting:
		return ErrAlreadyStarted
	case Terminated:
		return ErrTerminated
	}
	now := m.clock.Now()
	if !m.exam.OpensAt.IsZero() && now.Before(m.exam.OpensAt) {
		return ErrNotYetOpen
	}
	if !m.exam.ClosesAt.IsZero() && now.After(m.exam.ClosesAt) {
		return ErrClosed
	}

	m.counters = Counters{}
	m.end = now.Add(m.exam.Duration)
	m.setSlot(SlotRefreshCount, "0")
	m.setSlot(SlotStarted, "true")
	m.setSlot(SlotEndTime, strconv.FormatInt(m.end.UnixMilli(), 10))
	m.saveCounters()

	m.state = Running
	m.log.Info("exam started", "ends_at", m.end)
	m.begin()
	return nil
}

// begin enters fullscreen, shows state and arms the periodic timers.
func (m *Monitor) begin() {
	m.enterFullscreen()
	m.display.ShowCounters(m.counters)
	m.display.ShowTimer(m.end.Sub(m.clock.Now()))

	m.sendPing()
	m.every(&m.tick, m.policy.TickInterval, m.onTick)
	m.every(&m.ping, m.policy.PingInterval, m.sendPing)
	if m.camera != nil && m.uploader != nil {
		m.every(&m.capture, m.policy.CaptureInterval, m.captureFrame)
	}
}

// every arms a repeating timer in slot that lives while the attempt is active.
func (m *Monitor) every(slot *Timer, d time.Duration, fn func()) {
	*slot = m.clock.AfterFunc(d, func() {
		m.do(func() {
			if !m.active() {
				return
			}
			fn()
			if m.active() {
				m.every(slot, d, fn)
			}
		})
	})
}

func (m *Monitor) active() bool {
	return m.state == Running || m.state == Submitting
}

// Handle applies one event. Events before Start or after the attempt ended
// are ignored; events during the auto-submit countdown still count.
func (m *Monitor) Handle(ev Event) {
	m.do(func() {
		if !m.active() {
			return
		}
		switch e := ev.(type) {
		case TabHidden:
			m.onTabHidden()
		case FocusLost:
			m.onFocusLost(e)
		case MouseOut:
			m.onMouseOut(e)
		case FullscreenChanged:
			m.onFullscreen(e)
		case CopyAttempted:
			m.counters.CopyAttempts++
			m.count(integrity.CopyAttempts)
			m.display.SetStatus("Copy attempt detected")
			m.saveCounters()
		case PasteAttempted:
			m.counters.PasteAttempts++
			m.count(integrity.PasteAttempts)
			m.display.SetStatus("Paste attempt detected")
			m.saveCounters()
		case Resized:
			m.onResize(e)
		case Clicked:
			if m.state == Running && !m.fullscreenActive {
				m.enterFullscreen()
				m.display.SetStatus("Fullscreen mode ensured after click")
			}
		default:
			m.log.Warn("unhandled monitor event", "event", ev)
		}
	})
}

// sameIncident reports whether a focus-related event at now belongs to the
// last counted one.
func (m *Monitor) sameIncident(now time.Time) bool {
	return !m.lastFocusAt.IsZero() && now.Sub(m.lastFocusAt) < m.policy.TabFocusCooldown
}

func (m *Monitor) onTabHidden() {
	now := m.clock.Now()
	if m.sameIncident(now) {
		return
	}
	m.lastFocusAt = now
	m.counters.TabChanges++
	m.count(integrity.TabChanges)
	m.display.SetStatus("Tab change detected")
	m.saveCounters()
	m.checkThreshold()
}

func (m *Monitor) onFocusLost(e FocusLost) {
	now := m.clock.Now()
	if m.sameIncident(now) {
		return
	}
	m.lastFocusAt = now
	m.counters.FocusChanges++
	if e.DocumentHidden {
		// Part of a tab switch; the tab change is what counts.
		m.saveCounters()
		return
	}
	m.count(integrity.FocusChanges)
	m.display.SetStatus("Focus change detected")
	m.saveCounters()
	m.checkThreshold()
}

func (m *Monitor) onMouseOut(e MouseOut) {
	if !m.fullscreenSeen || !e.outside() {
		return
	}
	m.counters.MouseOuts++
	m.count(integrity.MouseOuts)
	m.display.SetStatus("Mouse left workspace")
	m.display.Notify("Mouse Going Out is not allowed", LevelWarning)
	m.saveCounters()
	m.checkThreshold()
}

func (m *Monitor) onFullscreen(e FullscreenChanged) {
	m.fullscreenActive = e.Active
	if e.Active {
		m.fullscreenSeen = true
		m.display.SetStatus("Fullscreen entered")
		return
	}
	m.counters.FullscreenExits++
	m.count(integrity.FullscreenExits)
	m.display.Notify("Exiting fullscreen is not allowed during the exam.", LevelWarning)
	m.clock.AfterFunc(m.policy.FullscreenRetryDelay, func() {
		m.do(func() {
			if m.active() && !m.fullscreenActive {
				m.enterFullscreen()
			}
		})
	})
	m.display.SetStatus("Fullscreen exited")
	m.saveCounters()
	m.checkThreshold()
}

// onResize flags rapid repeated resizes that change the inner height far from
// the screen height, which is what docking developer tools looks like.
func (m *Monitor) onResize(e Resized) {
	now := m.clock.Now()
	if !m.lastResizeAt.IsZero() && now.Sub(m.lastResizeAt) < m.policy.ResizeCooldown {
		m.resizeAttempts++
		if m.resizeAttempts >= m.policy.MaxResizeAttempts && abs(e.InnerHeight-e.ScreenHeight) > m.policy.ResizeHeightTolerance {
			m.display.Notify("DevTools detected! Your exam is being monitored.", LevelError)
			m.scheduleSubmit(ReasonResize)
		}
	} else {
		m.resizeAttempts = 1
	}
	m.lastResizeAt = now
	m.checkThreshold()
}

func (m *Monitor) checkThreshold() {
	if m.counters.TotalViolations >= m.policy.MaxTotalViolations {
		m.display.SetStatus("Auto-submitting test due to integrity violations")
		m.scheduleSubmit(ReasonIntegrity)
	}
}

// scheduleSubmit shows the violation modal and finalizes after the
// countdown. Only the first call while Running has an effect.
func (m *Monitor) scheduleSubmit(reason Reason) {
	if m.state != Running {
		return
	}
	m.state = Submitting
	m.log.Warn("integrity threshold crossed, auto-submitting",
		"reason", reason, "total_violations", m.counters.TotalViolations)
	m.display.ShowViolationModal(m.counters, m.policy.AutoSubmitCountdown)
	m.countdown = m.clock.AfterFunc(m.policy.AutoSubmitCountdown, func() {
		m.do(func() { m.finalize(reason) })
	})
}

// Tick refreshes the timer; it is also driven by the tick timer.
func (m *Monitor) Tick() {
	m.do(m.onTick)
}

func (m *Monitor) onTick() {
	if m.state != Running {
		return
	}
	remaining := m.end.Sub(m.clock.Now())
	if remaining <= 0 {
		m.display.ShowTimer(0)
		m.display.Notify("Time's up! Your exam is being submitted.", LevelError)
		m.finalize(ReasonTimeout)
		return
	}
	m.display.ShowTimer(remaining)
	if remaining < m.policy.TimeWarning && !m.warned {
		m.warned = true
		m.display.Notify("Warning: Less than 5 minutes remaining!", LevelWarning)
	}
}

// RecordAnswer stores an answer in the durable answer buffers.
func (m *Monitor) RecordAnswer(kind AnswerKind, question, answer string) error {
	var err error
	m.do(func() {
		if !m.active() {
			err = ErrNotRunning
			return
		}
		slot, buf := SlotMCQAnswers, m.answers.MCQ
		if kind == Coding {
			slot, buf = SlotCodingAnswers, m.answers.Coding
		}
		buf[question] = answer
		data, _ := json.Marshal(buf)
		m.setSlot(slot, string(data))
	})
	return err
}

// Submit ends the attempt on the student's request.
func (m *Monitor) Submit() error {
	var err error
	m.do(func() {
		switch m.state {
		case NotStarted:
			err = ErrNotRunning
		case Terminated:
			err = ErrTerminated
		default:
			m.finalize(ReasonNormal)
		}
	})
	return err
}

// finalize clears durable state, stops timers and submits. Terminated is
// absorbing, so it runs at most once.
func (m *Monitor) finalize(reason Reason) {
	if m.state == Terminated {
		return
	}
	m.setSlot(SlotSubmitting, "true")
	if err := m.storage.Delete(AllSlots...); err != nil {
		m.log.Error("clear exam storage", "error", err)
	}
	m.stopTimers()
	m.state = Terminated
	m.reason = reason
	m.log.Info("exam submitted", "reason", reason, "total_violations", m.counters.TotalViolations)

	sub := Submission{
		ExamID:   m.exam.ExamID,
		UserID:   m.exam.UserID,
		Reason:   reason,
		Answers:  m.answers.clone(),
		Counters: m.counters,
	}
	m.effects = append(m.effects, func() {
		ctx, cancel := context.WithTimeout(m.ctx, ioTimeout)
		defer cancel()
		if err := m.submitter.Submit(ctx, sub); err != nil {
			m.log.Error("exam submission failed", "reason", reason, "error", err)
		}
	})
	m.clock.AfterFunc(m.policy.RedirectDelay, func() {
		m.submitter.Redirect(DashboardPath)
		close(m.done)
	})
}

func (m *Monitor) stopTimers() {
	for _, t := range []Timer{m.tick, m.ping, m.capture, m.countdown} {
		if t != nil {
			t.Stop()
		}
	}
}

// Close abandons the monitor without submitting. Durable slots are left so a
// later Load resumes the attempt.
func (m *Monitor) Close() {
	m.do(func() {
		m.stopTimers()
		if m.state != Terminated {
			m.state = Terminated
			close(m.done)
		}
		m.cancel()
	})
}

func (m *Monitor) enterFullscreen() {
	if err := m.screen.RequestFullscreen(); err != nil {
		m.log.Warn("fullscreen request failed", "error", err)
		m.display.Notify("Fullscreen mode failed. Please try again.", LevelWarning)
	}
}

// count adds ev to the total when the taxonomy says it escalates, then
// reports it.
func (m *Monitor) count(ev integrity.EventType) {
	if ev.CountsTowardTotal() {
		m.counters.TotalViolations++
	}
	m.report(ev)
}

// report sends ev fire-and-forget. Failures never roll back counters.
func (m *Monitor) report(ev integrity.EventType) {
	examID, userID := m.exam.ExamID, m.exam.UserID
	m.effects = append(m.effects, func() {
		ctx, cancel := context.WithTimeout(m.ctx, ioTimeout)
		defer cancel()
		if err := m.reporter.Report(ctx, examID, userID, ev); err != nil {
			m.log.Warn("integrity report failed", "event", ev.String(), "error", err)
		}
	})
}

func (m *Monitor) sendPing() {
	examID, userID, at := m.exam.ExamID, m.exam.UserID, m.clock.Now()
	m.effects = append(m.effects, func() {
		ctx, cancel := context.WithTimeout(m.ctx, ioTimeout)
		defer cancel()
		if err := m.pinger.Ping(ctx, examID, userID, at); err != nil {
			m.log.Debug("activity ping failed", "error", err)
		}
	})
}

func (m *Monitor) captureFrame() {
	if m.cameraFailed {
		return
	}
	examID, userID := m.exam.ExamID, m.exam.UserID
	m.effects = append(m.effects, func() {
		ctx, cancel := context.WithTimeout(m.ctx, ioTimeout)
		defer cancel()
		img, err := m.camera.Capture(ctx)
		if err != nil {
			m.do(func() { m.cameraUnavailable(err) })
			return
		}
		if err := m.uploader.UploadCapture(ctx, examID, userID, img); err != nil {
			m.log.Warn("capture upload failed", "error", err)
		}
	})
}

// cameraUnavailable notifies once and stops capturing; the exam goes on.
func (m *Monitor) cameraUnavailable(err error) {
	if m.cameraFailed {
		return
	}
	m.cameraFailed = true
	m.log.Warn("webcam unavailable", "error", err)
	if m.active() {
		m.display.Notify("Unable to access the webcam. Please ensure your camera is connected and you've allowed permission.", LevelError)
	}
	if m.capture != nil {
		m.capture.Stop()
	}
}

func (m *Monitor) slot(key string) string {
	v, err := m.storage.Get(key)
	if err != nil {
		m.log.Error("read exam storage", "slot", key, "error", err)
	}
	return v
}

func (m *Monitor) setSlot(key, value string) {
	if err := m.storage.Set(key, value); err != nil {
		m.log.Error("write exam storage", "slot", key, "error", err)
	}
}

// saveCounters mirrors the counters to storage and the display.
func (m *Monitor) saveCounters() {
	data, _ := json.Marshal(m.counters)
	m.setSlot(SlotViolations, string(data))
	m.display.ShowCounters(m.counters)
}

// restore reloads counters and answers saved by an earlier page load.
func (m *Monitor) restore() {
	if raw := m.slot(SlotViolations); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.counters); err != nil {
			m.log.Warn("discarding unreadable violation counters", "error", err)
			m.counters = Counters{}
		}
	}
	for slot, dst := range map[string]*map[string]string{
		SlotMCQAnswers:    &m.answers.MCQ,
		SlotCodingAnswers: &m.answers.Coding,
	} {
		raw := m.slot(slot)
		if raw == "" {
			continue
		}
		buf := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &buf); err != nil {
			m.log.Warn("discarding unreadable answers", "slot", slot, "error", err)
			continue
		}
		*dst = buf
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
