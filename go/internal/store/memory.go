package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/models"
)

const memorySubscriptionBuffer = 256

// Memory is an in-process Store with a per-room change feed. It backs tests
// and single-process games.
type Memory struct {
	clock clockwork.Clock

	mu          sync.RWMutex
	rooms       map[uuid.UUID]models.Room
	codes       map[string]uuid.UUID
	players     map[uuid.UUID]models.Player
	subs        map[uuid.UUID]map[*memorySubscription]struct{}
	unavailable bool
}

// NewMemory creates an empty store. A nil clock uses the real clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:   clock,
		rooms:   make(map[uuid.UUID]models.Room),
		codes:   make(map[string]uuid.UUID),
		players: make(map[uuid.UUID]models.Player),
		subs:    make(map[uuid.UUID]map[*memorySubscription]struct{}),
	}
}

// SetUnavailable simulates an outage. While set every call fails with
// ErrUnavailable and open subscriptions are severed.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
	if down {
		for roomID := range m.subs {
			m.severLocked(roomID, fmt.Errorf("%w: store offline", ErrUnavailable))
		}
	}
}

// Sever ends every subscription on a room as if the feed connection dropped.
func (m *Memory) Sever(roomID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.severLocked(roomID, ErrSubscriptionClosed)
}

// SubscriberCount returns the number of open subscriptions on a room.
func (m *Memory) SubscriberCount(roomID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[roomID])
}

func (m *Memory) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}

	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if _, taken := m.codes[room.LobbyCode]; taken {
		return nil, fmt.Errorf("%w: lobby code %s", ErrConflict, room.LobbyCode)
	}
	if _, exists := m.rooms[room.ID]; exists {
		return nil, fmt.Errorf("%w: room %s", ErrConflict, room.ID)
	}
	now := m.clock.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	if err := ValidateRoom(room); err != nil {
		return nil, fmt.Errorf("invalid room: %w", err)
	}

	room = room.Clone()
	m.rooms[room.ID] = room
	m.codes[room.LobbyCode] = room.ID
	m.publishLocked(room.ID, TableRooms, OpInsert, room.ID, room)

	out := room.Clone()
	return &out, nil
}

func (m *Memory) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, id)
	}
	out := room.Clone()
	return &out, nil
}

func (m *Memory) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	id, ok := m.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: lobby code %s", ErrNotFound, code)
	}
	out := m.rooms[id].Clone()
	return &out, nil
}

func (m *Memory) UpdateRoom(ctx context.Context, id uuid.UUID, patch models.RoomPatch) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, id)
	}
	room = patch.Apply(room)
	room.UpdatedAt = m.clock.Now().UTC()
	m.rooms[id] = room
	m.publishLocked(id, TableRooms, OpUpdate, id, room)

	out := room.Clone()
	return &out, nil
}

func (m *Memory) CreatePlayer(ctx context.Context, player models.Player) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	if _, ok := m.rooms[player.RoomID]; !ok {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, player.RoomID)
	}
	if player.ID == uuid.Nil {
		player.ID = uuid.New()
	}
	if _, exists := m.players[player.ID]; exists {
		return nil, fmt.Errorf("%w: player %s", ErrConflict, player.ID)
	}
	for _, existing := range m.players {
		if existing.RoomID == player.RoomID && existing.SessionID == player.SessionID {
			return nil, fmt.Errorf("%w: session %s already in room", ErrConflict, player.SessionID)
		}
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = m.clock.Now().UTC()
	}
	if err := ValidatePlayer(player); err != nil {
		return nil, fmt.Errorf("invalid player: %w", err)
	}

	player = player.Clone()
	m.players[player.ID] = player
	m.publishLocked(player.RoomID, TablePlayers, OpInsert, player.ID, player)

	out := player.Clone()
	return &out, nil
}

func (m *Memory) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	var out []models.Player
	for _, p := range m.players {
		if p.RoomID == roomID {
			out = append(out, p.Clone())
		}
	}
	SortPlayers(out)
	return out, nil
}

func (m *Memory) UpdatePlayer(ctx context.Context, id uuid.UUID, patch models.PlayerPatch) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	player, ok := m.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	player = patch.Apply(player)
	m.players[id] = player
	m.publishLocked(player.RoomID, TablePlayers, OpUpdate, id, player)

	out := player.Clone()
	return &out, nil
}

func (m *Memory) DeletePlayer(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return err
	}
	player, ok := m.players[id]
	if !ok {
		return fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	delete(m.players, id)
	m.publishLocked(player.RoomID, TablePlayers, OpDelete, id, nil)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, roomID uuid.UUID) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.availableLocked(ctx); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		store:   m,
		roomID:  roomID,
		changes: make(chan Change, memorySubscriptionBuffer),
		done:    make(chan struct{}),
	}
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[*memorySubscription]struct{})
	}
	m.subs[roomID][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) availableLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.unavailable {
		return fmt.Errorf("%w: store offline", ErrUnavailable)
	}
	return nil
}

// publishLocked fans a change out to the room's subscribers. A subscriber
// whose buffer is full is severed rather than silently skipped, so it
// resubscribes and resyncs instead of missing a durable change.
func (m *Memory) publishLocked(roomID uuid.UUID, table Table, op Op, id uuid.UUID, row any) {
	subs := m.subs[roomID]
	if len(subs) == 0 {
		return
	}
	change := Change{Table: table, Op: op, ID: id, RoomID: roomID}
	if row != nil {
		raw, err := json.Marshal(row)
		if err != nil {
			log.Error().Err(err).Str("table", string(table)).Msg("failed to encode change row")
			return
		}
		change.Row = raw
	}
	for sub := range subs {
		select {
		case sub.changes <- change:
		default:
			log.Warn().Str("room_id", roomID.String()).Msg("subscriber too slow, severing")
			delete(subs, sub)
			sub.end(ErrSubscriptionClosed)
		}
	}
}

func (m *Memory) severLocked(roomID uuid.UUID, reason error) {
	for sub := range m.subs[roomID] {
		sub.end(reason)
	}
	delete(m.subs, roomID)
}

func (m *Memory) removeSubscription(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subs[sub.roomID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.subs, sub.roomID)
		}
	}
}

type memorySubscription struct {
	store   *Memory
	roomID  uuid.UUID
	changes chan Change
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *memorySubscription) Changes() <-chan Change { return s.changes }

func (s *memorySubscription) Done() <-chan struct{} { return s.done }

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Ping(ctx context.Context) error {
	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrSubscriptionClosed
	default:
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.store.availableLocked(ctx)
}

func (s *memorySubscription) Close() error {
	s.store.removeSubscription(s)
	s.end(nil)
	return nil
}

func (s *memorySubscription) end(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}
