package sidechannel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/reconnect"
)

const waitFor = 2 * time.Second

func newPair(t *testing.T) (*Loopback, *clockwork.FakeClock, *Broadcaster, *Broadcaster) {
	t.Helper()
	bus := NewLoopback()
	clock := clockwork.NewFakeClock()
	host := NewBroadcaster(bus, reconnect.DefaultPolicy(), 10*time.Second, clock)
	player := NewBroadcaster(bus, reconnect.DefaultPolicy(), 10*time.Second, clock)
	t.Cleanup(host.Leave)
	t.Cleanup(player.Leave)

	ctx := context.Background()
	host.Join(ctx, "room-1", "host")
	player.Join(ctx, "room-1", "player")
	requireStatus(t, host, reconnect.StatusConnected)
	requireStatus(t, player, reconnect.StatusConnected)
	return bus, clock, host, player
}

func requireStatus(t *testing.T, b *Broadcaster, want reconnect.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Status() == want }, waitFor, 5*time.Millisecond,
		"status %s, want %s", b.Status(), want)
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env := <-sub.C():
		return env
	case <-time.After(waitFor):
		t.Fatalf("no %s message", sub.Type())
		return Envelope{}
	}
}

func expectNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case env := <-sub.C():
		t.Fatalf("unexpected %s from %s", env.Type, env.SenderID)
	case <-time.After(30 * time.Millisecond):
	}
}

// inject writes a raw frame onto the bus as a foreign peer would.
func inject(t *testing.T, bus *Loopback, roomID string, env Envelope) {
	t.Helper()
	conn, err := bus.Connect(context.Background(), roomID)
	require.NoError(t, err)
	defer conn.Close()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), data))
}

func TestBroadcasterDeliversToPeersNotSelf(t *testing.T) {
	_, _, host, player := newPair(t)
	hostCmds := host.Subscribe(TypeAudioCommand)
	playerCmds := player.Subscribe(TypeAudioCommand)
	playerSongs := player.Subscribe(TypeSongSet)

	song := models.Song{ID: "s1", Title: "One", Year: 1999}
	require.NoError(t, player.Publish(context.Background(), TypeAudioCommand, AudioCommand{Action: AudioPlay, Song: &song}))

	env := receive(t, hostCmds)
	assert.Equal(t, "player", env.SenderID)
	var cmd AudioCommand
	require.NoError(t, env.Decode(&cmd))
	assert.Equal(t, AudioPlay, cmd.Action)
	assert.Equal(t, "s1", cmd.Song.ID)

	expectNothing(t, playerCmds)
	expectNothing(t, playerSongs)
}

func TestBroadcasterDropsDuplicatesStaleAndForeign(t *testing.T) {
	bus, clock, host, _ := newPair(t)
	sub := host.Subscribe(TypeCardPlaced)

	env := Envelope{
		Type:            TypeCardPlaced,
		RoomID:          "room-1",
		SenderID:        "peer",
		TimestampMillis: clock.Now().UnixMilli(),
		Payload:         json.RawMessage(`{"position":1}`),
	}
	inject(t, bus, "room-1", env)
	inject(t, bus, "room-1", env)
	receive(t, sub)
	expectNothing(t, sub)

	stale := env
	stale.Payload = json.RawMessage(`{"position":2}`)
	stale.TimestampMillis = clock.Now().Add(-11 * time.Second).UnixMilli()
	inject(t, bus, "room-1", stale)
	expectNothing(t, sub)

	wrongRoom := env
	wrongRoom.RoomID = "room-2"
	wrongRoom.Payload = json.RawMessage(`{"position":3}`)
	inject(t, bus, "room-1", wrongRoom)
	expectNothing(t, sub)

	conn, err := bus.Connect(context.Background(), "room-1")
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), []byte("not json")))
	conn.Close()
	expectNothing(t, sub)
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	_, _, host, player := newPair(t)
	sub := host.Subscribe(TypeSongSet)
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.C()
	assert.False(t, open)

	// publishing after a subscriber left must not panic
	require.NoError(t, player.Publish(context.Background(), TypeSongSet, SongSet{}))
}

func TestPublishWithoutRoom(t *testing.T) {
	b := NewBroadcaster(NewLoopback(), reconnect.DefaultPolicy(), 0, clockwork.NewFakeClock())
	assert.ErrorIs(t, b.Publish(context.Background(), TypeSongSet, SongSet{}), ErrNotJoined)
	assert.Error(t, b.Publish(context.Background(), MessageType("NOPE"), nil))
}

func TestBroadcasterReconnectsWithBackoff(t *testing.T) {
	bus, clock, host, _ := newPair(t)

	bus.SetDown(true)
	requireStatus(t, host, reconnect.StatusReconnecting)
	require.Eventually(t, func() bool {
		return host.Retries().Attempts() == 1 && host.Retries().Pending()
	}, waitFor, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return host.Retries().Attempts() == 2 && host.Retries().Pending()
	}, waitFor, 5*time.Millisecond)

	bus.SetDown(false)
	clock.Advance(2 * time.Second)
	requireStatus(t, host, reconnect.StatusConnected)
	assert.Equal(t, 0, host.Retries().Attempts())
}

func TestLeaveIsIdempotent(t *testing.T) {
	bus, _, host, _ := newPair(t)
	host.Leave()
	host.Leave()
	assert.Equal(t, reconnect.StatusDisconnected, host.Status())
	assert.Equal(t, 1, bus.Connections("room-1"))

	host.ForceReconnect()
	assert.Equal(t, reconnect.StatusDisconnected, host.Status())
}

func TestJoinReplacesRoom(t *testing.T) {
	bus, _, host, _ := newPair(t)
	host.Join(context.Background(), "room-2", "host")
	requireStatus(t, host, reconnect.StatusConnected)
	assert.Equal(t, 1, bus.Connections("room-1"))
	assert.Equal(t, 1, bus.Connections("room-2"))
}

func TestForceReconnectSkipsBackoff(t *testing.T) {
	bus, clock, host, _ := newPair(t)

	bus.SetDown(true)
	requireStatus(t, host, reconnect.StatusReconnecting)
	require.Eventually(t, host.Retries().Pending, waitFor, 5*time.Millisecond)

	bus.SetDown(false)
	host.ForceReconnect()
	requireStatus(t, host, reconnect.StatusConnected)
	assert.False(t, host.Retries().Pending())
	assert.Equal(t, 0, host.Retries().Attempts())

	clock.Advance(time.Minute)
	assert.Equal(t, 2, bus.Connections("room-1"))
}

func TestLeaveDropsQueuedMessages(t *testing.T) {
	_, _, host, player := newPair(t)
	songs := player.Subscribe(TypeSongSet)

	require.NoError(t, host.Publish(context.Background(), TypeSongSet, SongSet{}))
	require.Eventually(t, func() bool { return len(songs.ch) == 1 }, waitFor, 5*time.Millisecond)

	player.Leave()
	expectNothing(t, songs)

	player.Join(context.Background(), "room-1", "player")
	requireStatus(t, player, reconnect.StatusConnected)
	expectNothing(t, songs)
}
