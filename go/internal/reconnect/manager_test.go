package reconnect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 32 * time.Second},
		{7, 32 * time.Second},
		{50, 32 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestScheduleRetryBackoffThenTerminal(t *testing.T) {
	m := NewManager("feed", DefaultPolicy(), clockwork.NewFakeClock())

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		d, err := m.ScheduleRetry(func() {})
		require.NoError(t, err)
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	assert.False(t, m.Exhausted())

	_, err := m.ScheduleRetry(func() {})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, m.Exhausted())
	assert.False(t, m.Pending())

	// stays terminal until reset
	_, err = m.ScheduleRetry(func() {})
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	m.Reset()
	assert.Equal(t, 0, m.Attempts())
	d, err := m.ScheduleRetry(func() {})
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestScheduleRetryFiresAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager("feed", DefaultPolicy(), clock)

	var fired atomic.Int32
	_, err := m.ScheduleRetry(func() { fired.Add(1) })
	require.NoError(t, err)
	assert.True(t, m.Pending())

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, m.Pending())
}

func TestScheduleRetryReplacesPendingTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager("feed", DefaultPolicy(), clock)

	var first, second atomic.Int32
	_, err := m.ScheduleRetry(func() { first.Add(1) })
	require.NoError(t, err)
	d, err := m.ScheduleRetry(func() { second.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestCancelStopsPendingRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager("feed", DefaultPolicy(), clock)

	var fired atomic.Int32
	_, err := m.ScheduleRetry(func() { fired.Add(1) })
	require.NoError(t, err)

	m.Cancel()
	clock.Advance(time.Minute)

	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 1, m.Attempts())
	assert.False(t, m.Pending())
}

func TestHealthMonitorReportsDegradationOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var failing atomic.Bool
	var probes, degraded atomic.Int32
	h := NewHealthMonitor("feed", 10*time.Second, clock,
		func(ctx context.Context) error {
			probes.Add(1)
			if failing.Load() {
				return assert.AnError
			}
			return nil
		},
		func(err error) { degraded.Add(1) },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.Start(ctx)
	defer h.Stop()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	tick := func(n int32) {
		clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return probes.Load() == n }, time.Second, time.Millisecond)
	}

	tick(1)
	assert.Equal(t, int32(0), degraded.Load())

	failing.Store(true)
	tick(2)
	require.Eventually(t, func() bool { return degraded.Load() == 1 }, time.Second, time.Millisecond)
	tick(3)
	assert.Equal(t, int32(1), degraded.Load())

	failing.Store(false)
	tick(4)
	failing.Store(true)
	tick(5)
	require.Eventually(t, func() bool { return degraded.Load() == 2 }, time.Second, time.Millisecond)
}
