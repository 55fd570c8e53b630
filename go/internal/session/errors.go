package session

import (
	"errors"
	"fmt"

	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store"
)

// Kind classifies coordinator failures for the presentation layer.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection covers store or transport failures. Retrying may help.
	KindConnection
	// KindValidation is a rejected request. Retrying the same call will not help.
	KindValidation
	KindNotFound
	KindConflict
	// KindFatal means reconnection gave up and only an explicit Reconnect helps.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	ErrNotInRoom          = errors.New("not in a room")
	ErrAlreadyInRoom      = errors.New("session already has a player in this room")
	ErrNotHost            = errors.New("only the host can do this")
	ErrNotLobby           = errors.New("room is not accepting players")
	ErrNotPlaying         = errors.New("game is not in progress")
	ErrNotFinished        = errors.New("game has not finished")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrStaleSong          = errors.New("song is not the current song")
	ErrInvalidPosition    = errors.New("position outside the timeline")
	ErrPlacementInFlight  = errors.New("placement already in flight")
	ErrNoPlayers          = errors.New("no players have joined")
	ErrNotEnoughSongs     = errors.New("song pool too small for the roster")
	ErrInvalidName        = errors.New("name must not be empty")
	ErrProfileOnly        = errors.New("score and timeline change only through placement")
	ErrInvalidAudioAction = errors.New("unknown audio action")
	ErrCannotKickHost     = errors.New("the host cannot be kicked")
	ErrCodeExhausted      = errors.New("could not allocate a free lobby code")
	ErrConnectionFailed   = errors.New("connection retries exhausted")
)

// Error carries the failure kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors that did not come from the
// coordinator are reported as connection errors; nil is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindConnection
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func validation(op string, err error) error {
	return newError(KindValidation, op, err)
}

// storeError maps a store or song pool failure onto a kind. Anything not
// recognised is treated as a connection failure.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, op, err)
	case errors.Is(err, store.ErrConflict):
		return newError(KindConflict, op, err)
	case errors.Is(err, songpool.ErrEmptyPool):
		return newError(KindValidation, op, err)
	}
	return newError(KindConnection, op, err)
}
