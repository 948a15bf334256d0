package monitor

import "time"

// Policy holds every threshold and interval the monitor enforces.
type Policy struct {
	TabFocusCooldown      time.Duration
	MaxTotalViolations    int
	AutoSubmitCountdown   time.Duration
	MaxAllowedRefreshes   int
	ResizeCooldown        time.Duration
	MaxResizeAttempts     int
	ResizeHeightTolerance int
	FullscreenRetryDelay  time.Duration
	RedirectDelay         time.Duration
	TickInterval          time.Duration
	PingInterval          time.Duration
	CaptureInterval       time.Duration
	SessionCheckDelay     time.Duration
	SessionCheckInterval  time.Duration
	TimeWarning           time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		TabFocusCooldown:      time.Second,
		MaxTotalViolations:    3,
		AutoSubmitCountdown:   5 * time.Second,
		MaxAllowedRefreshes:   2,
		ResizeCooldown:        500 * time.Millisecond,
		MaxResizeAttempts:     2,
		ResizeHeightTolerance: 100,
		FullscreenRetryDelay:  500 * time.Millisecond,
		RedirectDelay:         time.Second,
		TickInterval:          time.Second,
		PingInterval:          20 * time.Second,
		CaptureInterval:       5 * time.Second,
		SessionCheckDelay:     5 * time.Second,
		SessionCheckInterval:  30 * time.Second,
		TimeWarning:           5 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	durs := []struct{ v, def *time.Duration }{
		{&p.TabFocusCooldown, &d.TabFocusCooldown},
		{&p.AutoSubmitCountdown, &d.AutoSubmitCountdown},
		{&p.ResizeCooldown, &d.ResizeCooldown},
		{&p.FullscreenRetryDelay, &d.FullscreenRetryDelay},
		{&p.RedirectDelay, &d.RedirectDelay},
		{&p.TickInterval, &d.TickInterval},
		{&p.PingInterval, &d.PingInterval},
		{&p.CaptureInterval, &d.CaptureInterval},
		{&p.SessionCheckDelay, &d.SessionCheckDelay},
		{&p.SessionCheckInterval, &d.SessionCheckInterval},
		{&p.TimeWarning, &d.TimeWarning},
	}
	for _, f := range durs {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	ints := []struct{ v, def *int }{
		{&p.MaxTotalViolations, &d.MaxTotalViolations},
		{&p.MaxAllowedRefreshes, &d.MaxAllowedRefreshes},
		{&p.MaxResizeAttempts, &d.MaxResizeAttempts},
		{&p.ResizeHeightTolerance, &d.ResizeHeightTolerance},
	}
	for _, f := range ints {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	return p
}

// WirePolicy is the JSON form served to exam clients. Durations are in
// milliseconds.
type WirePolicy struct {
	TabFocusCooldownMS      int64 `json:"tabFocusCooldownMs"`
	MaxTotalViolations      int   `json:"maxTotalViolations"`
	AutoSubmitCountdownMS   int64 `json:"autoSubmitCountdownMs"`
	MaxAllowedRefreshes     int   `json:"maxAllowedRefreshes"`
	ResizeCooldownMS        int64 `json:"resizeCooldownMs"`
	MaxResizeAttempts       int   `json:"maxResizeAttempts"`
	ResizeHeightTolerancePX int   `json:"resizeHeightTolerancePx"`
	FullscreenRetryDelayMS  int64 `json:"fullscreenRetryDelayMs"`
	RedirectDelayMS         int64 `json:"redirectDelayMs"`
	TickIntervalMS          int64 `json:"tickIntervalMs"`
	PingIntervalMS          int64 `json:"pingIntervalMs"`
	CaptureIntervalMS       int64 `json:"captureIntervalMs"`
	SessionCheckDelayMS     int64 `json:"sessionCheckDelayMs"`
	SessionCheckIntervalMS  int64 `json:"sessionCheckIntervalMs"`
	TimeWarningMS           int64 `json:"timeWarningMs"`
}

func (p Policy) Wire() WirePolicy {
	return WirePolicy{
		TabFocusCooldownMS:      p.TabFocusCooldown.Milliseconds(),
		MaxTotalViolations:      p.MaxTotalViolations,
		AutoSubmitCountdownMS:   p.AutoSubmitCountdown.Milliseconds(),
		MaxAllowedRefreshes:     p.MaxAllowedRefreshes,
		ResizeCooldownMS:        p.ResizeCooldown.Milliseconds(),
		MaxResizeAttempts:       p.MaxResizeAttempts,
		ResizeHeightTolerancePX: p.ResizeHeightTolerance,
		FullscreenRetryDelayMS:  p.FullscreenRetryDelay.Milliseconds(),
		RedirectDelayMS:         p.RedirectDelay.Milliseconds(),
		TickIntervalMS:          p.TickInterval.Milliseconds(),
		PingIntervalMS:          p.PingInterval.Milliseconds(),
		CaptureIntervalMS:       p.CaptureInterval.Milliseconds(),
		SessionCheckDelayMS:     p.SessionCheckDelay.Milliseconds(),
		SessionCheckIntervalMS:  p.SessionCheckInterval.Milliseconds(),
		TimeWarningMS:           p.TimeWarning.Milliseconds(),
	}
}

func (w WirePolicy) Policy() Policy {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	return Policy{
		TabFocusCooldown:      ms(w.TabFocusCooldownMS),
		MaxTotalViolations:    w.MaxTotalViolations,
		AutoSubmitCountdown:   ms(w.AutoSubmitCountdownMS),
		MaxAllowedRefreshes:   w.MaxAllowedRefreshes,
		ResizeCooldown:        ms(w.ResizeCooldownMS),
		MaxResizeAttempts:     w.MaxResizeAttempts,
		ResizeHeightTolerance: w.ResizeHeightTolerancePX,
		FullscreenRetryDelay:  ms(w.FullscreenRetryDelayMS),
		RedirectDelay:         ms(w.RedirectDelayMS),
		TickInterval:          ms(w.TickIntervalMS),
		PingInterval:          ms(w.PingIntervalMS),
		CaptureInterval:       ms(w.CaptureIntervalMS),
		SessionCheckDelay:     ms(w.SessionCheckDelayMS),
		SessionCheckInterval:  ms(w.SessionCheckIntervalMS),
		TimeWarning:           ms(w.TimeWarningMS),
	}.withDefaults()
}
