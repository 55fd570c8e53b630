// Package reconnect holds the retry policy shared by every network-facing
// component: exponential backoff with a capped exponent, a bounded number of
// consecutive retries, and a periodic health check.
package reconnect

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRetriesExhausted is returned once MaxRetries consecutive failures have
// been scheduled. Only Reset clears it.
var ErrRetriesExhausted = errors.New("reconnect: retry budget exhausted")

// Status is the connectivity state of one logical connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// Policy configures backoff and health checking.
type Policy struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	CapExponent    int           `yaml:"cap_exponent"`
	MaxRetries     int           `yaml:"max_retries"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// DefaultPolicy returns 1s base delay, a 2^5 cap, 5 retries and a 10s health check.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      time.Second,
		CapExponent:    5,
		MaxRetries:     5,
		HealthInterval: 10 * time.Second,
	}
}

// Delay returns BaseDelay * 2^min(attempt-1, CapExponent). Attempts below 1
// are treated as the first attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > p.CapExponent {
		exp = p.CapExponent
	}
	if exp < 0 {
		exp = 0
	}
	return p.BaseDelay * time.Duration(1<<uint(exp))
}

// Manager tracks consecutive failures for one logical connection and arms a
// single cancellable retry timer at a time.
type Manager struct {
	name   string
	policy Policy
	clock  clockwork.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	attempts int
	timer    clockwork.Timer
	failed   bool
}

// NewManager creates a manager. A nil clock uses the real clock.
func NewManager(name string, policy Policy, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		name:   name,
		policy: policy,
		clock:  clock,
		logger: log.With().Str("component", "reconnect").Str("connection", name).Logger(),
	}
}

// Policy returns the manager's policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// ScheduleRetry records a failure and arms fn to run after the backoff delay.
// Any previously pending retry is replaced. Once the attempt count exceeds
// MaxRetries no timer is armed and ErrRetriesExhausted is returned.
func (m *Manager) ScheduleRetry(fn func()) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed {
		return 0, ErrRetriesExhausted
	}

	m.attempts++
	if m.attempts > m.policy.MaxRetries {
		m.failed = true
		m.stopTimerLocked()
		m.logger.Error().
			Int("attempts", m.attempts-1).
			Msg("retry budget exhausted, waiting for manual reconnect")
		return 0, ErrRetriesExhausted
	}

	delay := m.policy.Delay(m.attempts)
	m.stopTimerLocked()

	var t clockwork.Timer
	t = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.timer != t {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		fn()
	})
	m.timer = t

	m.logger.Info().
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Msg("retry scheduled")
	return delay, nil
}

// Reset clears the failure count and terminal state and cancels any pending
// retry. Call it after a verified successful connection, on a network-online
// transition, or on an explicit user reconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts > 0 || m.failed {
		m.logger.Debug().Int("attempts", m.attempts).Msg("retry state reset")
	}
	m.attempts = 0
	m.failed = false
	m.stopTimerLocked()
}

// Cancel stops a pending retry without touching the attempt count.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

// Attempts returns the number of consecutive failures recorded.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Exhausted reports whether the manager is in its terminal state.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// Pending reports whether a retry timer is armed.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
