// Package safety implements the circuit breaker that pauses admissions after
// sustained losing performance.
package safety

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Config holds the breaker thresholds.
type Config struct {
	// MaxConsecutiveLosses trips the breaker when reached. 0 disables.
	MaxConsecutiveLosses int
	// WinRateWindow is the number of recent trades considered for the
	// rolling win rate. 0 disables the win-rate check.
	WinRateWindow int
	// MinWinRate trips the breaker when the rolling win rate over a full
	// window falls below it.
	MinWinRate float64
	// AutoResumeAfter resumes a tripped breaker after this cool-down.
	// 0 means resume only by explicit operator action.
	AutoResumeAfter time.Duration
}

// Supervisor observes closed-position outcomes and gates admission. All
// methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu                sync.Mutex
	consecutiveLosses int
	window            []bool // true = win, ring buffer of size WinRateWindow
	windowNext        int
	windowFilled      bool
	paused            bool
	pausedAt          time.Time
	pauseCause        string

	onTrip func(cause string)
}

// New creates a Supervisor. onTrip, if non-nil, is invoked (outside the
// lock) whenever the breaker trips.
func New(cfg Config, logger *slog.Logger, onTrip func(cause string)) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "safety")),
		onTrip: onTrip,
	}
	if cfg.WinRateWindow > 0 {
		s.window = make([]bool, cfg.WinRateWindow)
	}
	return s
}

// RecordOutcome feeds one closed position into the breaker. A win resets the
// consecutive-loss counter; a loss increments it. Break-even counts as a
// loss for streak purposes, conservatively.
func (s *Supervisor) RecordOutcome(pos domain.Position) {
	win := pos.RealizedPnL > 0

	s.mu.Lock()
	if win {
		s.consecutiveLosses = 0
	} else {
		s.consecutiveLosses++
	}

	if len(s.window) > 0 {
		s.window[s.windowNext] = win
		s.windowNext = (s.windowNext + 1) % len(s.window)
		if s.windowNext == 0 {
			s.windowFilled = true
		}
	}

	cause := s.tripCauseLocked()
	if cause != "" && !s.paused {
		s.paused = true
		s.pausedAt = time.Now().UTC()
		s.pauseCause = cause
	} else {
		cause = ""
	}
	s.mu.Unlock()

	if cause != "" {
		s.logger.Warn("breaker tripped", slog.String("cause", cause))
		if s.onTrip != nil {
			s.onTrip(cause)
		}
	}
}

// tripCauseLocked evaluates the thresholds. Caller holds s.mu.
func (s *Supervisor) tripCauseLocked() string {
	if s.cfg.MaxConsecutiveLosses > 0 && s.consecutiveLosses >= s.cfg.MaxConsecutiveLosses {
		return "max_consecutive_losses"
	}
	// Win rate is only meaningful over a full window.
	if len(s.window) > 0 && s.windowFilled {
		wins := 0
		for _, w := range s.window {
			if w {
				wins++
			}
		}
		rate := float64(wins) / float64(len(s.window))
		if rate < s.cfg.MinWinRate {
			return "low_win_rate"
		}
	}
	return ""
}

// Paused reports whether admissions are currently gated. When an auto-resume
// cool-down is configured and has elapsed, the breaker resumes here.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return false
	}
	if s.cfg.AutoResumeAfter > 0 && time.Since(s.pausedAt) >= s.cfg.AutoResumeAfter {
		s.resumeLocked("cool-down elapsed")
		return false
	}
	return true
}

// Resume clears the breaker by operator action and resets the streak so the
// very next loss does not immediately re-trip it.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeLocked("operator resume")
}

func (s *Supervisor) resumeLocked(how string) {
	if !s.paused {
		return
	}
	s.paused = false
	s.pauseCause = ""
	s.consecutiveLosses = 0
	s.windowFilled = false
	s.windowNext = 0
	s.logger.Info("breaker resumed", slog.String("how", how))
}

// Status is a snapshot for the telemetry surface.
type Status struct {
	Paused            bool      `json:"paused"`
	PauseCause        string    `json:"pause_cause,omitempty"`
	PausedAt          time.Time `json:"paused_at,omitempty"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
}

// Snapshot returns the current breaker status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Paused:            s.paused,
		PauseCause:        s.pauseCause,
		PausedAt:          s.pausedAt,
		ConsecutiveLosses: s.consecutiveLosses,
	}
}
