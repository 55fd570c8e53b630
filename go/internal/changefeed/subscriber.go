// Package changefeed keeps one live store subscription per bound room and
// turns raw row changes into decoded events, reconnecting with backoff when
// the feed drops.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/reconnect"
	"github.com/mcdev12/hitster/go/internal/store"
)

const (
	eventBuffer  = 256
	statusBuffer = 16
)

// EventKind classifies a decoded change.
type EventKind int

const (
	// EventResynced marks a fresh subscription. Changes may have been missed
	// before it, so consumers reload a full snapshot.
	EventResynced EventKind = iota
	EventRoomUpdated
	EventPlayerUpserted
	EventPlayerDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventResynced:
		return "resynced"
	case EventRoomUpdated:
		return "room_updated"
	case EventPlayerUpserted:
		return "player_upserted"
	case EventPlayerDeleted:
		return "player_deleted"
	}
	return fmt.Sprintf("event_kind(%d)", int(k))
}

// Event is one decoded change for the subscribed room.
type Event struct {
	Kind     EventKind
	RoomID   uuid.UUID
	Room     *models.Room
	Player   *models.Player
	PlayerID uuid.UUID
}

// Subscriber owns the change-feed connection for one room at a time.
type Subscriber struct {
	store  store.Store
	mgr    *reconnect.Manager
	clock  clockwork.Clock
	logger zerolog.Logger

	events   chan Event
	statusCh chan reconnect.Status

	mu      sync.Mutex
	gen     uint64
	roomID  uuid.UUID
	parent  context.Context
	conn    *conn
	status  reconnect.Status
	stopped bool
}

// conn is one generation of the subscription.
type conn struct {
	gen    uint64
	cancel context.CancelFunc
	sub    store.Subscription
	health *reconnect.HealthMonitor
	done   chan struct{}
}

// NewSubscriber creates an idle subscriber. A nil clock uses the real clock.
func NewSubscriber(st store.Store, policy reconnect.Policy, clock clockwork.Clock) *Subscriber {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Subscriber{
		store:    st,
		mgr:      reconnect.NewManager("changefeed", policy, clock),
		clock:    clock,
		logger:   log.With().Str("component", "changefeed").Logger(),
		events:   make(chan Event, eventBuffer),
		statusCh: make(chan reconnect.Status, statusBuffer),
		status:   reconnect.StatusDisconnected,
		stopped:  true,
	}
}

// Events delivers decoded changes in commit order.
func (s *Subscriber) Events() <-chan Event { return s.events }

// StatusChanges delivers connectivity transitions. Old transitions are
// dropped when the consumer falls behind; Status is always current.
func (s *Subscriber) StatusChanges() <-chan reconnect.Status { return s.statusCh }

// Status returns the current connectivity state.
func (s *Subscriber) Status() reconnect.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RoomID returns the room currently subscribed to.
func (s *Subscriber) RoomID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Retries exposes the retry manager state.
func (s *Subscriber) Retries() *reconnect.Manager { return s.mgr }

// Start subscribes to roomID, replacing any previous subscription. ctx
// bounds the lifetime of every connection generation.
func (s *Subscriber) Start(ctx context.Context, roomID uuid.UUID) {
	s.mu.Lock()
	s.gen++
	s.teardownLocked()
	s.stopped = false
	s.roomID = roomID
	s.parent = ctx
	gen := s.gen
	s.mu.Unlock()

	s.mgr.Reset()
	s.logger.Info().Str("room_id", roomID.String()).Msg("starting change feed")
	s.connect(gen)
}

// Stop tears the subscription down and cancels pending retries. Safe to call
// more than once.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.gen++
	s.teardownLocked()
	s.roomID = uuid.Nil
	s.setStatusLocked(reconnect.StatusDisconnected)
	s.mu.Unlock()

	s.mgr.Cancel()
	s.logger.Info().Msg("change feed stopped")
}

// ForceReconnect resets the retry budget and reconnects at once unless the
// feed is already connected. Used when the page returns to the foreground or
// the network comes back.
func (s *Subscriber) ForceReconnect() {
	s.mu.Lock()
	if s.stopped || s.status == reconnect.StatusConnected {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.mu.Unlock()

	s.mgr.Reset()
	s.logger.Info().Msg("forced change feed reconnect")
	s.connect(gen)
}

// Reconnect is the explicit user retry, typically from the failed state.
func (s *Subscriber) Reconnect() {
	s.ForceReconnect()
}

func (s *Subscriber) connect(expect uint64) {
	s.mu.Lock()
	if s.stopped || expect != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.teardownLocked()

	ctx, cancel := context.WithCancel(s.parent)
	c := &conn{gen: gen, cancel: cancel}
	s.conn = c
	roomID := s.roomID
	if s.mgr.Attempts() > 0 {
		s.setStatusLocked(reconnect.StatusReconnecting)
	} else {
		s.setStatusLocked(reconnect.StatusConnecting)
	}
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, roomID)

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, fmt.Errorf("subscribe: %w", err))
		return
	}

	c.sub = sub
	c.health = reconnect.NewHealthMonitor("changefeed", s.mgr.Policy().HealthInterval, s.clock, sub.Ping, func(err error) {
		go s.fail(gen, fmt.Errorf("health check: %w", err))
	})
	c.health.Start(ctx)
	c.done = make(chan struct{})
	go s.pump(ctx, c, roomID)
	s.setStatusLocked(reconnect.StatusConnected)
	s.mu.Unlock()

	s.mgr.Reset()
	s.logger.Info().Str("room_id", roomID.String()).Uint64("generation", gen).Msg("change feed connected")
}

// fail tears down generation gen and schedules a retry. Failures reported by
// an already replaced generation are ignored.
func (s *Subscriber) fail(gen uint64, cause error) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	s.teardownLocked()
	if s.parent.Err() != nil {
		s.setStatusLocked(reconnect.StatusDisconnected)
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(reconnect.StatusReconnecting)
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Msg("change feed lost")

	if _, err := s.mgr.ScheduleRetry(func() { s.connect(next) }); err != nil {
		s.mu.Lock()
		if !s.stopped && s.gen == next {
			s.setStatusLocked(reconnect.StatusFailed)
		}
		s.mu.Unlock()
	}
}

// teardownLocked cancels the current generation, waits for its pump to exit
// and discards whatever it left unread in Events. The pump and health
// goroutines never take s.mu, which keeps the wait safe.
func (s *Subscriber) teardownLocked() {
	c := s.conn
	if c == nil {
		return
	}
	s.conn = nil
	c.cancel()
	if c.done != nil {
		<-c.done
	}
	if n := s.drainEvents(); n > 0 {
		s.logger.Debug().Int("events", n).Uint64("generation", c.gen).Msg("discarded undelivered events")
	}
	if c.health != nil {
		c.health.Stop()
	}
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("subscription close")
		}
	}
}

// drainEvents empties the event buffer without blocking. Only call it when
// no pump is running.
func (s *Subscriber) drainEvents() int {
	n := 0
	for {
		select {
		case <-s.events:
			n++
		default:
			return n
		}
	}
}

func (s *Subscriber) setStatusLocked(st reconnect.Status) {
	if s.status == st {
		return
	}
	s.status = st
	s.logger.Debug().Str("status", string(st)).Msg("change feed status")
	select {
	case s.statusCh <- st:
		return
	default:
	}
	select {
	case <-s.statusCh:
	default:
	}
	select {
	case s.statusCh <- st:
	default:
	}
}

func (s *Subscriber) pump(ctx context.Context, c *conn, roomID uuid.UUID) {
	defer close(c.done)

	if !s.deliver(ctx, Event{Kind: EventResynced, RoomID: roomID}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sub.Done():
			err := c.sub.Err()
			if err == nil {
				err = store.ErrSubscriptionClosed
			}
			go s.fail(c.gen, err)
			return
		case change, ok := <-c.sub.Changes():
			if !ok {
				go s.fail(c.gen, store.ErrSubscriptionClosed)
				return
			}
			ev, err := ToEvent(roomID, change)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("table", string(change.Table)).
					Str("id", change.ID.String()).
					Msg("dropping change")
				continue
			}
			if !s.deliver(ctx, ev) {
				return
			}
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

var errForeignRow = errors.New("row belongs to another room")

// ToEvent decodes a change through the store's row boundary. Malformed rows
// and rows for another room are rejected.
func ToEvent(roomID uuid.UUID, change store.Change) (Event, error) {
	switch change.Table {
	case store.TableRooms:
		if change.Op == store.OpDelete {
			return Event{}, fmt.Errorf("room delete not supported")
		}
		room, err := store.DecodeRoom(change.Row)
		if err != nil {
			return Event{}, err
		}
		if room.ID != roomID {
			return Event{}, errForeignRow
		}
		return Event{Kind: EventRoomUpdated, RoomID: roomID, Room: &room}, nil

	case store.TablePlayers:
		if change.Op == store.OpDelete {
			if change.RoomID != uuid.Nil && change.RoomID != roomID {
				return Event{}, errForeignRow
			}
			return Event{Kind: EventPlayerDeleted, RoomID: roomID, PlayerID: change.ID}, nil
		}
		player, err := store.DecodePlayer(change.Row)
		if err != nil {
			return Event{}, err
		}
		if player.RoomID != roomID {
			return Event{}, errForeignRow
		}
		return Event{Kind: EventPlayerUpserted, RoomID: roomID, Player: &player, PlayerID: player.ID}, nil
	}
	return Event{}, fmt.Errorf("unknown table %q", change.Table)
}
