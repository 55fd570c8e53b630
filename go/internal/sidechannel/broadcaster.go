package sidechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/reconnect"
)

const (
	subscriptionBuffer = 64
	statusBuffer       = 16

	// DefaultStalenessWindow bounds both message age and duplicate memory.
	DefaultStalenessWindow = 10 * time.Second
)

// ErrNotJoined is returned by Publish when no room connection is open.
var ErrNotJoined = errors.New("sidechannel: not connected to a room")

// Subscription is a typed queue of received envelopes.
type Subscription struct {
	typ MessageType
	ch  chan Envelope
	b   *Broadcaster

	once sync.Once
}

// C delivers envelopes of the subscribed type. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Type returns the subscribed message type.
func (s *Subscription) Type() MessageType { return s.typ }

// Unsubscribe stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.b.subsMu.Lock()
		delete(s.b.subs[s.typ], s)
		close(s.ch)
		s.b.subsMu.Unlock()
	})
}

// Broadcaster joins one room at a time on a Transport, publishes envelopes
// and routes received ones to typed subscriptions after dropping foreign,
// self-sent, stale and duplicate messages.
type Broadcaster struct {
	transport Transport
	mgr       *reconnect.Manager
	clock     clockwork.Clock
	filter    *filter
	logger    zerolog.Logger

	statusCh chan reconnect.Status

	subsMu sync.Mutex
	subs   map[MessageType]map[*Subscription]struct{}

	mu       sync.Mutex
	gen      uint64
	roomID   string
	senderID string
	parent   context.Context
	conn     *roomConn
	status   reconnect.Status
	stopped  bool
}

// roomConn is one generation of the room connection.
type roomConn struct {
	gen    uint64
	cancel context.CancelFunc
	c      Conn
	health *reconnect.HealthMonitor
	done   chan struct{}
}

// NewBroadcaster creates an idle broadcaster. A nil clock uses the real
// clock; a non-positive window uses DefaultStalenessWindow.
func NewBroadcaster(t Transport, policy reconnect.Policy, window time.Duration, clock clockwork.Clock) *Broadcaster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	return &Broadcaster{
		transport: t,
		mgr:       reconnect.NewManager("sidechannel", policy, clock),
		clock:     clock,
		filter:    newFilter(window),
		logger:    log.With().Str("component", "sidechannel").Logger(),
		statusCh:  make(chan reconnect.Status, statusBuffer),
		subs:      make(map[MessageType]map[*Subscription]struct{}),
		status:    reconnect.StatusDisconnected,
		stopped:   true,
	}
}

// Subscribe registers a typed queue. Subscriptions outlive Join and Leave.
func (b *Broadcaster) Subscribe(t MessageType) *Subscription {
	sub := &Subscription{typ: t, ch: make(chan Envelope, subscriptionBuffer), b: b}
	b.subsMu.Lock()
	if b.subs[t] == nil {
		b.subs[t] = make(map[*Subscription]struct{})
	}
	b.subs[t][sub] = struct{}{}
	b.subsMu.Unlock()
	return sub
}

// Status returns the current connectivity state.
func (b *Broadcaster) Status() reconnect.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// StatusChanges delivers connectivity transitions, dropping the oldest when
// the consumer falls behind.
func (b *Broadcaster) StatusChanges() <-chan reconnect.Status { return b.statusCh }

// Retries exposes the retry manager state.
func (b *Broadcaster) Retries() *reconnect.Manager { return b.mgr }

// Join connects to roomID as senderID, replacing any previous room.
func (b *Broadcaster) Join(ctx context.Context, roomID, senderID string) {
	b.mu.Lock()
	b.gen++
	b.teardownLocked()
	b.drainSubscriptions()
	b.stopped = false
	b.roomID = roomID
	b.senderID = senderID
	b.parent = ctx
	gen := b.gen
	b.mu.Unlock()

	b.filter.reset()
	b.mgr.Reset()
	b.logger.Info().Str("room_id", roomID).Msg("joining side channel")
	b.connect(gen)
}

// Leave closes the room connection and cancels pending retries. Safe to
// call more than once.
func (b *Broadcaster) Leave() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.gen++
	b.teardownLocked()
	b.drainSubscriptions()
	b.roomID = ""
	b.setStatusLocked(reconnect.StatusDisconnected)
	b.mu.Unlock()

	b.mgr.Cancel()
	b.filter.reset()
	b.logger.Info().Msg("left side channel")
}

// ForceReconnect resets the retry budget and reconnects at once unless
// already connected.
func (b *Broadcaster) ForceReconnect() {
	b.mu.Lock()
	if b.stopped || b.status == reconnect.StatusConnected {
		b.mu.Unlock()
		return
	}
	gen := b.gen
	b.mu.Unlock()

	b.mgr.Reset()
	b.connect(gen)
}

// Reconnect is the explicit user retry.
func (b *Broadcaster) Reconnect() {
	b.ForceReconnect()
}

// Publish sends one envelope to the room. Delivery is best effort; a failed
// send is logged, schedules a reconnect and is returned.
func (b *Broadcaster) Publish(ctx context.Context, t MessageType, payload any) error {
	if !t.Valid() {
		return fmt.Errorf("publish: unknown message type %q", t)
	}
	b.mu.Lock()
	rc := b.conn
	roomID, senderID := b.roomID, b.senderID
	b.mu.Unlock()
	if rc == nil || rc.c == nil {
		b.logger.Debug().Str("type", string(t)).Msg("not connected, message not sent")
		return ErrNotJoined
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: encode payload: %w", t, err)
	}
	data, err := json.Marshal(Envelope{
		Type:            t,
		RoomID:          roomID,
		SenderID:        senderID,
		TimestampMillis: b.clock.Now().UnixMilli(),
		Payload:         raw,
	})
	if err != nil {
		return fmt.Errorf("publish %s: encode envelope: %w", t, err)
	}

	if err := rc.c.Send(ctx, data); err != nil {
		b.logger.Warn().Err(err).Str("type", string(t)).Msg("side channel send failed")
		if ctx.Err() == nil {
			go b.fail(rc.gen, err)
		}
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}

func (b *Broadcaster) connect(expect uint64) {
	b.mu.Lock()
	if b.stopped || expect != b.gen {
		b.mu.Unlock()
		return
	}
	b.gen++
	gen := b.gen
	b.teardownLocked()

	ctx, cancel := context.WithCancel(b.parent)
	rc := &roomConn{gen: gen, cancel: cancel}
	b.conn = rc
	roomID, senderID := b.roomID, b.senderID
	if b.mgr.Attempts() > 0 {
		b.setStatusLocked(reconnect.StatusReconnecting)
	} else {
		b.setStatusLocked(reconnect.StatusConnecting)
	}
	b.mu.Unlock()

	c, err := b.transport.Connect(ctx, roomID)

	b.mu.Lock()
	if b.stopped || gen != b.gen {
		b.mu.Unlock()
		cancel()
		if c != nil {
			_ = c.Close()
		}
		return
	}
	if err != nil {
		b.mu.Unlock()
		b.fail(gen, err)
		return
	}

	rc.c = c
	rc.health = reconnect.NewHealthMonitor("sidechannel", b.mgr.Policy().HealthInterval, b.clock, c.Ping, func(err error) {
		go b.fail(gen, fmt.Errorf("health check: %w", err))
	})
	rc.health.Start(ctx)
	rc.done = make(chan struct{})
	go b.pump(ctx, rc, roomID, senderID)
	b.setStatusLocked(reconnect.StatusConnected)
	b.mu.Unlock()

	b.mgr.Reset()
	b.logger.Info().Str("room_id", roomID).Uint64("generation", gen).Msg("side channel connected")
}

func (b *Broadcaster) fail(gen uint64, cause error) {
	b.mu.Lock()
	if b.stopped || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.gen++
	next := b.gen
	b.teardownLocked()
	if b.parent.Err() != nil {
		b.setStatusLocked(reconnect.StatusDisconnected)
		b.mu.Unlock()
		return
	}
	b.setStatusLocked(reconnect.StatusReconnecting)
	b.mu.Unlock()

	b.logger.Warn().Err(cause).Msg("side channel lost")

	if _, err := b.mgr.ScheduleRetry(func() { b.connect(next) }); err != nil {
		b.mu.Lock()
		if !b.stopped && b.gen == next {
			b.setStatusLocked(reconnect.StatusFailed)
		}
		b.mu.Unlock()
	}
}

// teardownLocked cancels the current generation and waits for its pump, so
// nothing it received is dispatched afterwards.
func (b *Broadcaster) teardownLocked() {
	rc := b.conn
	if rc == nil {
		return
	}
	b.conn = nil
	rc.cancel()
	if rc.done != nil {
		<-rc.done
	}
	if rc.health != nil {
		rc.health.Stop()
	}
	if rc.c != nil {
		if err := rc.c.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("side channel close")
		}
	}
}

// drainSubscriptions discards queued envelopes from the room being left.
// The pump must already have exited.
func (b *Broadcaster) drainSubscriptions() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, subs := range b.subs {
		for sub := range subs {
		drain:
			for {
				select {
				case <-sub.ch:
				default:
					break drain
				}
			}
		}
	}
}

func (b *Broadcaster) setStatusLocked(st reconnect.Status) {
	if b.status == st {
		return
	}
	b.status = st
	b.logger.Debug().Str("status", string(st)).Msg("side channel status")
	select {
	case b.statusCh <- st:
		return
	default:
	}
	select {
	case <-b.statusCh:
	default:
	}
	select {
	case b.statusCh <- st:
	default:
	}
}

func (b *Broadcaster) pump(ctx context.Context, rc *roomConn, roomID, senderID string) {
	defer close(rc.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.c.Done():
			err := rc.c.Err()
			if err == nil {
				err = ErrConnClosed
			}
			go b.fail(rc.gen, err)
			return
		case data := <-rc.c.Receive():
			if ctx.Err() != nil {
				return
			}
			b.handleFrame(data, roomID, senderID)
		}
	}
}

func (b *Broadcaster) handleFrame(data []byte, roomID, senderID string) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		b.logger.Debug().Err(err).Msg("dropping side channel frame")
		return
	}
	if reason := b.filter.accept(env, roomID, senderID, b.clock.Now()); reason != "" {
		if reason != dropSelfEcho {
			b.logger.Debug().
				Str("type", string(env.Type)).
				Str("sender_id", env.SenderID).
				Str("reason", reason).
				Msg("dropping side channel message")
		}
		return
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for sub := range b.subs[env.Type] {
		select {
		case sub.ch <- env:
		default:
			b.logger.Warn().Str("type", string(env.Type)).Msg("subscriber full, dropping message")
		}
	}
}
