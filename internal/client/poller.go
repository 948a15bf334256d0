package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/zaqqye/exam_guard/internal/session"
)

// SessionChecker is satisfied by *Client.
type SessionChecker interface {
	CheckSession(ctx context.Context) (session.Verdict, error)
}

// SessionPoller checks the session on a fixed cadence and reports the first
// invalid verdict. Network failures are logged and retried on the next beat.
type SessionPoller struct {
	Checker   SessionChecker
	Delay     time.Duration
	Interval  time.Duration
	OnInvalid func(reason session.Reason)
	Log       *slog.Logger
}

const (
	DefaultSessionCheckDelay    = 5 * time.Second
	DefaultSessionCheckInterval = 30 * time.Second
)

// Run blocks until ctx ends or the session is found invalid. OnInvalid is
// called at most once.
func (p *SessionPoller) Run(ctx context.Context) {
	delay, interval := p.Delay, p.Interval
	if delay <= 0 {
		delay = DefaultSessionCheckDelay
	}
	if interval <= 0 {
		interval = DefaultSessionCheckInterval
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		checkCtx, cancel := context.WithTimeout(ctx, interval)
		verdict, err := p.Checker.CheckSession(checkCtx)
		cancel()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warn("session check failed", "error", err)
		case !verdict.Valid:
			log.Info("session no longer valid", "reason", verdict.Reason)
			if p.OnInvalid != nil {
				p.OnInvalid(verdict.Reason)
			}
			return
		}
		timer.Reset(interval)
	}
}
