// Package store defines the durable state contract for rooms and players and
// the change feed the clients synchronize from. Writes are last-write-wins at
// row granularity; there are no multi-row transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/models"
)

var (
	// ErrNotFound is returned when a room or player row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint (lobby code) is violated.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable wraps every transport or driver failure at the adapter
	// boundary. Callers treat it as a transient connection error.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrMalformedRow is returned by the decoding boundary for rows that do
	// not match the schema.
	ErrMalformedRow = errors.New("store: malformed row")
	// ErrSubscriptionClosed ends a subscription whose feed was lost.
	ErrSubscriptionClosed = errors.New("store: subscription closed")
)

// Table names a change-feed source.
type Table string

const (
	TableRooms   Table = "rooms"
	TablePlayers Table = "players"
)

// Op is the row operation carried by a change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is one row-scoped notification. Row holds the full new row as JSON
// for inserts and updates and is empty for deletes.
type Change struct {
	Table  Table           `json:"table"`
	Op     Op              `json:"op"`
	ID     uuid.UUID       `json:"id"`
	RoomID uuid.UUID       `json:"room_id"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// Subscription delivers changes for one room, covering the room row and all
// of its player rows.
type Subscription interface {
	// Changes delivers changes in commit order.
	Changes() <-chan Change
	// Done is closed when the subscription ends, either through Close or
	// because the underlying feed failed.
	Done() <-chan struct{}
	// Err reports why the subscription ended. Nil after a plain Close.
	Err() error
	// Ping verifies the feed connection is still alive.
	Ping(ctx context.Context) error
	// Close tears the subscription down. Safe to call more than once.
	Close() error
}

// Store is the durable state collaborator.
type Store interface {
	CreateRoom(ctx context.Context, room models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	UpdateRoom(ctx context.Context, id uuid.UUID, patch models.RoomPatch) (*models.Room, error)

	CreatePlayer(ctx context.Context, player models.Player) (*models.Player, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	UpdatePlayer(ctx context.Context, id uuid.UUID, patch models.PlayerPatch) (*models.Player, error)
	DeletePlayer(ctx context.Context, id uuid.UUID) error

	Subscribe(ctx context.Context, roomID uuid.UUID) (Subscription, error)
}
