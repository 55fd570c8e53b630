package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/reconnect"
	"github.com/mcdev12/hitster/go/internal/store"
)

const waitFor = 2 * time.Second

func setup(t *testing.T) (*store.Memory, *clockwork.FakeClock, *Subscriber, *models.Room) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	mem := store.NewMemory(clock)
	room, err := mem.CreateRoom(context.Background(), models.Room{
		LobbyCode: "ROOM01",
		HostID:    "host-session",
		Phase:     models.PhaseLobby,
		GameMode:  models.GameModeClassic,
	})
	require.NoError(t, err)

	sub := NewSubscriber(mem, reconnect.DefaultPolicy(), clock)
	t.Cleanup(sub.Stop)
	return mem, clock, sub, room
}

func nextEvent(t *testing.T, s *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func waitStatus(t *testing.T, s *Subscriber, want reconnect.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status() == want }, waitFor, 5*time.Millisecond,
		"status stuck at %s, want %s", s.Status(), want)
}

func TestSubscriberDeliversDecodedEvents(t *testing.T) {
	ctx := context.Background()
	mem, _, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)

	phase := models.PhasePlaying
	_, err := mem.UpdateRoom(ctx, room.ID, models.RoomPatch{Phase: &phase})
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventRoomUpdated, ev.Kind)
	require.NotNil(t, ev.Room)
	assert.Equal(t, models.PhasePlaying, ev.Room.Phase)

	p, err := mem.CreatePlayer(ctx, models.Player{RoomID: room.ID, SessionID: "s1", Name: "Ada"})
	require.NoError(t, err)
	ev = nextEvent(t, sub)
	assert.Equal(t, EventPlayerUpserted, ev.Kind)
	assert.Equal(t, p.ID, ev.Player.ID)

	require.NoError(t, mem.DeletePlayer(ctx, p.ID))
	ev = nextEvent(t, sub)
	assert.Equal(t, EventPlayerDeleted, ev.Kind)
	assert.Equal(t, p.ID, ev.PlayerID)
}

func TestSubscriberReconnectsAfterFeedDrops(t *testing.T) {
	ctx := context.Background()
	mem, clock, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)

	mem.Sever(room.ID)
	waitStatus(t, sub, reconnect.StatusReconnecting)
	require.Eventually(t, sub.Retries().Pending, waitFor, 5*time.Millisecond)

	clock.Advance(time.Second)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)
	assert.Equal(t, 0, sub.Retries().Attempts())
	assert.Equal(t, 1, mem.SubscriberCount(room.ID))
}

func TestSubscriberGivesUpAfterRetryBudget(t *testing.T) {
	ctx := context.Background()
	mem, clock, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)

	mem.SetUnavailable(true)
	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range delays {
		attempt := i + 1
		require.Eventually(t, func() bool {
			return sub.Retries().Attempts() == attempt && sub.Retries().Pending()
		}, waitFor, 5*time.Millisecond, "attempt %d never scheduled", attempt)
		clock.Advance(d)
	}
	waitStatus(t, sub, reconnect.StatusFailed)
	assert.True(t, sub.Retries().Exhausted())

	// nothing left to fire once failed
	clock.Advance(time.Hour)
	assert.Equal(t, reconnect.StatusFailed, sub.Status())

	mem.SetUnavailable(false)
	sub.Reconnect()
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.False(t, sub.Retries().Exhausted())
}

func TestSubscriberStartReplacesPreviousRoom(t *testing.T) {
	ctx := context.Background()
	mem, _, sub, room := setup(t)

	other, err := mem.CreateRoom(ctx, models.Room{
		LobbyCode: "ROOM02",
		HostID:    "host-session",
		Phase:     models.PhaseLobby,
	})
	require.NoError(t, err)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	sub.Start(ctx, other.ID)
	waitStatus(t, sub, reconnect.StatusConnected)

	assert.Equal(t, 0, mem.SubscriberCount(room.ID))
	assert.Equal(t, 1, mem.SubscriberCount(other.ID))
	assert.Equal(t, other.ID, sub.RoomID())
}

func TestSubscriberStopIsIdempotentAndSilences(t *testing.T) {
	ctx := context.Background()
	mem, _, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)

	// left unread: the resync marker and one room change
	phase := models.PhasePlaying
	_, err := mem.UpdateRoom(ctx, room.ID, models.RoomPatch{Phase: &phase})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sub.events) == 2 }, waitFor, 5*time.Millisecond)

	sub.Stop()
	sub.Stop()
	assert.Equal(t, reconnect.StatusDisconnected, sub.Status())
	assert.Equal(t, 0, mem.SubscriberCount(room.ID))

	phase = models.PhaseFinished
	_, err = mem.UpdateRoom(ctx, room.ID, models.RoomPatch{Phase: &phase})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		t.Fatalf("event delivered after stop: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	// retries are cancelled too
	sub.ForceReconnect()
	assert.Equal(t, reconnect.StatusDisconnected, sub.Status())
}

func TestForceReconnectIgnoredWhenConnected(t *testing.T) {
	ctx := context.Background()
	mem, _, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)

	sub.ForceReconnect()
	assert.Equal(t, 1, mem.SubscriberCount(room.ID))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestToEventRejectsMalformedAndForeignRows(t *testing.T) {
	roomID := uuid.New()

	_, err := ToEvent(roomID, store.Change{Table: store.TableRooms, Op: store.OpUpdate, Row: json.RawMessage(`{"id":"x"}`)})
	assert.ErrorIs(t, err, store.ErrMalformedRow)

	foreign := models.Player{ID: uuid.New(), RoomID: uuid.New(), SessionID: "s", Timeline: []models.Song{}}
	raw, err := json.Marshal(foreign)
	require.NoError(t, err)
	_, err = ToEvent(roomID, store.Change{Table: store.TablePlayers, Op: store.OpInsert, Row: raw})
	assert.ErrorIs(t, err, errForeignRow)

	_, err = ToEvent(roomID, store.Change{Table: "songs", Op: store.OpInsert})
	assert.Error(t, err)

	ev, err := ToEvent(roomID, store.Change{Table: store.TablePlayers, Op: store.OpDelete, ID: foreign.ID, RoomID: roomID})
	require.NoError(t, err)
	assert.Equal(t, EventPlayerDeleted, ev.Kind)
}

func TestForceReconnectSkipsBackoff(t *testing.T) {
	ctx := context.Background()
	mem, clock, sub, room := setup(t)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)

	mem.Sever(room.ID)
	waitStatus(t, sub, reconnect.StatusReconnecting)
	require.Eventually(t, sub.Retries().Pending, waitFor, 5*time.Millisecond)

	// no clock advance: the pending retry is replaced by an immediate connect
	sub.ForceReconnect()
	assert.Equal(t, reconnect.StatusConnected, sub.Status())
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)
	assert.False(t, sub.Retries().Pending())
	assert.Equal(t, 0, sub.Retries().Attempts())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, mem.SubscriberCount(room.ID))
	assert.Equal(t, reconnect.StatusConnected, sub.Status())
}

// pingStore wraps the memory store so subscription health checks can fail
// while the subscription itself stays open.
type pingStore struct {
	*store.Memory
	failing atomic.Bool
}

func (p *pingStore) Subscribe(ctx context.Context, roomID uuid.UUID) (store.Subscription, error) {
	sub, err := p.Memory.Subscribe(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &pingSubscription{Subscription: sub, failing: &p.failing}, nil
}

type pingSubscription struct {
	store.Subscription
	failing *atomic.Bool
}

func (s *pingSubscription) Ping(ctx context.Context) error {
	if s.failing.Load() {
		return errors.New("ping timed out")
	}
	return s.Subscription.Ping(ctx)
}

func TestFailedHealthCheckStartsRetryCycle(t *testing.T) {
	ctx := context.Background()
	mem, clock, _, room := setup(t)
	ps := &pingStore{Memory: mem}
	policy := reconnect.DefaultPolicy()
	sub := NewSubscriber(ps, policy, clock)
	t.Cleanup(sub.Stop)

	sub.Start(ctx, room.ID)
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)

	ps.failing.Store(true)
	clock.Advance(policy.HealthInterval)
	waitStatus(t, sub, reconnect.StatusReconnecting)
	require.Eventually(t, func() bool {
		return sub.Retries().Attempts() == 1 && sub.Retries().Pending()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, mem.SubscriberCount(room.ID))

	ps.failing.Store(false)
	clock.Advance(policy.Delay(1))
	waitStatus(t, sub, reconnect.StatusConnected)
	assert.Equal(t, EventResynced, nextEvent(t, sub).Kind)
}
