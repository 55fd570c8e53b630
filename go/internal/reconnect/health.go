package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// HealthMonitor periodically probes a connection and reports when it has
// silently degraded, e.g. a socket that is closed without a close event.
// onDegraded fires once per degradation; a successful probe re-arms it.
type HealthMonitor struct {
	name       string
	interval   time.Duration
	clock      clockwork.Clock
	probe      func(ctx context.Context) error
	onDegraded func(err error)

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	degraded bool
}

// NewHealthMonitor creates a monitor. A nil clock uses the real clock.
func NewHealthMonitor(name string, interval time.Duration, clock clockwork.Clock, probe func(ctx context.Context) error, onDegraded func(err error)) *HealthMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthMonitor{
		name:       name,
		interval:   interval,
		clock:      clock,
		probe:      probe,
		onDegraded: onDegraded,
	}
}

// Start begins probing in a background goroutine. Calling Start on a running
// monitor restarts it.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.Stop()

	h.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.degraded = false
	h.mu.Unlock()

	ticker := h.clock.NewTicker(h.interval)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				h.check(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the goroutine to exit. Safe to call twice.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

func (h *HealthMonitor) check(ctx context.Context) {
	err := h.probe(ctx)

	h.mu.Lock()
	if err == nil {
		if h.degraded {
			log.Info().Str("connection", h.name).Msg("health check recovered")
		}
		h.degraded = false
		h.mu.Unlock()
		return
	}
	first := !h.degraded
	h.degraded = true
	h.mu.Unlock()

	if first && ctx.Err() == nil {
		log.Warn().Err(err).Str("connection", h.name).Msg("health check failed")
		h.onDegraded(err)
	}
}
