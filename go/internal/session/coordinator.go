// Package session coordinates one device's participation in a room: it binds
// the device to a room, keeps a local snapshot in sync from the change feed
// and the side channel, and runs the lobby and game operations against the
// durable store.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/changefeed"
	"github.com/mcdev12/hitster/go/internal/config"
	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/reconnect"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store"
	"github.com/mcdev12/hitster/go/internal/turn"
)

const resyncTimeout = 10 * time.Second

// Deps are the collaborators a Coordinator drives. Previews and Audio are
// optional.
type Deps struct {
	Store     store.Store
	Transport sidechannel.Transport
	Songs     songpool.Provider
	Previews  songpool.PreviewProvider
	Audio     AudioController
	Clock     clockwork.Clock
	Rand      *rand.Rand
	// NewCode overrides lobby code generation.
	NewCode func() string
}

// Options tune game rules and connection behaviour.
type Options struct {
	TargetTimelineLength int
	DefaultMode          models.GameMode
	LobbyCodeLength      int
	Reconnect            reconnect.Policy
	StalenessWindow      time.Duration
	PreviewTimeout       time.Duration
}

// OptionsFromConfig picks the coordinator options out of the loaded config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TargetTimelineLength: cfg.Game.TargetTimelineLength,
		DefaultMode:          cfg.Game.DefaultMode,
		LobbyCodeLength:      cfg.Game.LobbyCodeLength,
		Reconnect:            cfg.Reconnect,
		StalenessWindow:      cfg.SideChannel.StalenessWindow,
		PreviewTimeout:       cfg.Songs.PreviewTimeout,
	}
}

// DefaultOptions returns the options of the built-in config.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// Snapshot is a copy of the local view of the bound room.
type Snapshot struct {
	Identity    Identity
	Room        *models.Room
	Players     []models.Player
	Feed        reconnect.Status
	SideChannel reconnect.Status
	// Kicked is set when the local player was removed by the host.
	Kicked bool
	// NextRoomCode is the lobby code of the follow-up room once the host
	// starts another round.
	NextRoomCode string
}

// Roster returns the players that take turns, in turn order.
func (s Snapshot) Roster() []models.Player {
	return models.ActiveRoster(s.Players)
}

// Player looks a player up by id.
func (s Snapshot) Player(id uuid.UUID) (models.Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

// Connectivity is the status of both channels.
type Connectivity struct {
	Feed        reconnect.Status
	SideChannel reconnect.Status
}

// Err returns a fatal error once either channel has given up retrying.
func (c Connectivity) Err() error {
	if c.Feed == reconnect.StatusFailed || c.SideChannel == reconnect.StatusFailed {
		return newError(KindFatal, "connectivity", ErrConnectionFailed)
	}
	return nil
}

type mirrors struct {
	room        *sidechannel.Subscription
	player      *sidechannel.Subscription
	gameStart   *sidechannel.Subscription
	gameStarted *sidechannel.Subscription
	cardPlaced  *sidechannel.Subscription
	songSet     *sidechannel.Subscription
	audio       *sidechannel.Subscription
}

func (m mirrors) all() []*sidechannel.Subscription {
	return []*sidechannel.Subscription{m.room, m.player, m.gameStart, m.gameStarted, m.cardPlaced, m.songSet, m.audio}
}

type resyncResult struct {
	seq     uint64
	roomID  uuid.UUID
	room    *models.Room
	players []models.Player
	err     error
}

// Coordinator is the single entry point the presentation layer talks to.
// Operations run on the caller's goroutine; feed and side-channel input is
// applied by one internal event loop.
type Coordinator struct {
	store    store.Store
	songs    songpool.Provider
	previews songpool.PreviewProvider
	audio    AudioController
	clock    clockwork.Clock
	opts     Options
	newCode  func() string
	logger   zerolog.Logger

	feed    *changefeed.Subscriber
	side    *sidechannel.Broadcaster
	turns   *turn.Controller
	mirrors mirrors

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu       sync.Mutex
	identity Identity
	room     *models.Room
	players  map[uuid.UUID]models.Player
	inFlight map[uuid.UUID]bool
	kicked   bool
	nextCode string

	// owned by the event loop
	resyncSeq     uint64
	resyncPending bool
	queued        []changefeed.Event

	updates   chan struct{}
	resyncCh  chan resyncResult
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a coordinator for the device identified by sessionID and
// starts its event loop. An empty sessionID gets a random one.
func New(deps Deps, opts Options, sessionID string) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session: store is required")
	case deps.Transport == nil:
		return nil, errors.New("session: side-channel transport is required")
	case deps.Songs == nil:
		return nil, errors.New("session: song provider is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = models.GameModeClassic
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:    deps.Store,
		songs:    deps.Songs,
		previews: deps.Previews,
		audio:    deps.Audio,
		clock:    deps.Clock,
		opts:     opts,
		newCode:  deps.NewCode,
		logger:   log.With().Str("component", "session").Str("session_id", sessionID).Logger(),
		feed:     changefeed.NewSubscriber(deps.Store, opts.Reconnect, deps.Clock),
		side:     sidechannel.NewBroadcaster(deps.Transport, opts.Reconnect, opts.StalenessWindow, deps.Clock),
		turns:    turn.NewController(),
		rnd:      deps.Rand,
		identity: Identity{SessionID: sessionID},
		inFlight: make(map[uuid.UUID]bool),
		updates:  make(chan struct{}, 1),
		resyncCh: make(chan resyncResult, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if c.newCode == nil {
		c.newCode = c.randomCode
	}
	c.mirrors = mirrors{
		room:        c.side.Subscribe(sidechannel.TypeRoomUpdate),
		player:      c.side.Subscribe(sidechannel.TypePlayerUpdate),
		gameStart:   c.side.Subscribe(sidechannel.TypeGameStart),
		gameStarted: c.side.Subscribe(sidechannel.TypeGameStarted),
		cardPlaced:  c.side.Subscribe(sidechannel.TypeCardPlaced),
		songSet:     c.side.Subscribe(sidechannel.TypeSongSet),
		audio:       c.side.Subscribe(sidechannel.TypeAudioCommand),
	}

	go c.run()
	return c, nil
}

// Close leaves the room and stops the event loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.unbind()
		c.cancel()
		<-c.done
		for _, s := range c.mirrors.all() {
			s.Unsubscribe()
		}
	})
}

// Identity returns the current room binding.
func (c *Coordinator) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Snapshot returns a copy of the local view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Identity:     c.identity,
		Feed:         c.feed.Status(),
		SideChannel:  c.side.Status(),
		Kicked:       c.kicked,
		NextRoomCode: c.nextCode,
	}
	if c.room != nil {
		r := c.room.Clone()
		snap.Room = &r
	}
	snap.Players = make([]models.Player, 0, len(c.players))
	for _, p := range c.players {
		snap.Players = append(snap.Players, p.Clone())
	}
	store.SortPlayers(snap.Players)
	return snap
}

// Updates signals that the snapshot or connectivity changed. Signals are
// coalesced; read Snapshot after each one.
func (c *Coordinator) Updates() <-chan struct{} {
	return c.updates
}

// Connectivity reports the status of the change feed and the side channel.
func (c *Coordinator) Connectivity() Connectivity {
	return Connectivity{Feed: c.feed.Status(), SideChannel: c.side.Status()}
}

// Reconnect is the explicit user retry after connectivity failed.
func (c *Coordinator) Reconnect() {
	c.feed.Reconnect()
	c.side.Reconnect()
}

// OnForeground re-establishes dropped connections when the app returns to
// the foreground.
func (c *Coordinator) OnForeground() {
	c.logger.Debug().Msg("foreground, checking connections")
	c.feed.ForceReconnect()
	c.side.ForceReconnect()
}

// OnNetworkOnline re-establishes dropped connections when the network
// comes back.
func (c *Coordinator) OnNetworkOnline() {
	c.logger.Debug().Msg("network online, checking connections")
	c.feed.ForceReconnect()
	c.side.ForceReconnect()
}

func (c *Coordinator) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// bind points the device at a room and opens both channels on it.
func (c *Coordinator) bind(room models.Room, players []models.Player, self models.Player) {
	c.mu.Lock()
	c.identity.RoomID = room.ID
	c.identity.PlayerID = self.ID
	c.identity.IsHost = self.IsHost
	c.identity.PendingProfileUpdate = false
	r := room.Clone()
	c.room = &r
	c.players = make(map[uuid.UUID]models.Player, len(players)+1)
	for _, p := range players {
		c.players[p.ID] = p.Clone()
	}
	c.players[self.ID] = self.Clone()
	c.kicked = false
	c.nextCode = ""
	sessionID := c.identity.SessionID
	c.mu.Unlock()

	c.logger.Info().
		Str("room_id", room.ID.String()).
		Str("player_id", self.ID.String()).
		Bool("host", self.IsHost).
		Msg("bound to room")
	c.feed.Start(c.ctx, room.ID)
	c.side.Join(c.ctx, room.ID.String(), sessionID)
	c.notify()
}

// unbind clears the room binding and closes both channels. It returns the
// binding that was cleared.
func (c *Coordinator) unbind() Identity {
	c.mu.Lock()
	prev := c.identity
	c.identity.clear()
	c.room = nil
	c.players = nil
	c.inFlight = make(map[uuid.UUID]bool)
	c.mu.Unlock()

	c.feed.Stop()
	c.side.Leave()
	c.turns.Cancel()
	if prev.InRoom() {
		c.logger.Info().Str("room_id", prev.RoomID.String()).Msg("left room")
	}
	c.notify()
	return prev
}

// bound returns the current binding or a validation error when unbound.
func (c *Coordinator) bound(op string) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.identity.InRoom() {
		return Identity{}, validation(op, ErrNotInRoom)
	}
	return c.identity, nil
}

func (c *Coordinator) boundHost(op string) (Identity, error) {
	id, err := c.bound(op)
	if err != nil {
		return id, err
	}
	if !id.IsHost {
		return id, validation(op, ErrNotHost)
	}
	return id, nil
}

func (c *Coordinator) applyRoomLocked(room models.Room) bool {
	if c.room == nil || room.ID != c.room.ID {
		return false
	}
	if room.UpdatedAt.Before(c.room.UpdatedAt) {
		return false
	}
	r := room.Clone()
	c.room = &r
	return true
}

func (c *Coordinator) applyPlayerLocked(p models.Player) bool {
	if c.players == nil || p.RoomID != c.identity.RoomID {
		return false
	}
	c.players[p.ID] = p.Clone()
	return true
}

// applyRoom and applyPlayer fold rows written by this device into the
// snapshot ahead of the feed echo.
func (c *Coordinator) applyRoom(room *models.Room) {
	if room == nil {
		return
	}
	c.mu.Lock()
	changed := c.applyRoomLocked(*room)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Coordinator) applyPlayer(p *models.Player) {
	if p == nil {
		return
	}
	c.mu.Lock()
	changed := c.applyPlayerLocked(*p)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// publish sends a mirror message. Failures are logged only; the durable
// write already happened.
func (c *Coordinator) publish(ctx context.Context, t sidechannel.MessageType, payload any) {
	if err := c.side.Publish(ctx, t, payload); err != nil {
		c.logger.Debug().Err(err).Str("type", string(t)).Msg("mirror message not sent")
	}
}
