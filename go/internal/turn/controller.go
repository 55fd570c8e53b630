// Package turn owns turn rotation and song drawing, and gates placement
// attempts so a turn only advances once per resolved attempt.
package turn

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/models"
)

var (
	// ErrAttemptInFlight is returned by Begin while a previous attempt is unresolved.
	ErrAttemptInFlight = errors.New("turn: placement attempt already in flight")
	// ErrNoAttempt is returned by Resolve without a matching Begin.
	ErrNoAttempt = errors.New("turn: no placement attempt in flight")
	// ErrUnresolved is returned by Resolve when the outcome is still pending.
	ErrUnresolved = errors.New("turn: attempt outcome unresolved")
)

// Outcome is the result of a placement attempt.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCorrect
	OutcomeIncorrect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCorrect:
		return "correct"
	case OutcomeIncorrect:
		return "incorrect"
	}
	return "pending"
}

// State is the turn-related slice of a room.
type State struct {
	CurrentTurn     *int
	CurrentSong     *models.Song
	CurrentPlayerID *uuid.UUID
}

// FromRoom extracts the turn state of a room.
func FromRoom(r models.Room) State {
	c := r.Clone()
	return State{
		CurrentTurn:     c.CurrentTurn,
		CurrentSong:     c.CurrentSong,
		CurrentPlayerID: c.CurrentPlayerID,
	}
}

// Patch converts the state into a room patch. Nil fields clear the column.
func (s State) Patch() models.RoomPatch {
	var p models.RoomPatch
	if s.CurrentTurn != nil {
		t := *s.CurrentTurn
		p.CurrentTurn = &t
	} else {
		p.ClearCurrentTurn = true
	}
	if s.CurrentSong != nil {
		song := *s.CurrentSong
		p.CurrentSong = &song
	} else {
		p.ClearCurrentSong = true
	}
	if s.CurrentPlayerID != nil {
		id := *s.CurrentPlayerID
		p.CurrentPlayerID = &id
	} else {
		p.ClearCurrentPlayer = true
	}
	return p
}

// ActiveRoster returns the players that take turns, in turn order.
func ActiveRoster(players []models.Player) []models.Player {
	return models.ActiveRoster(players)
}

// UsedSongs collects the ids of every song already in play: all timeline
// cards plus the room's current song.
func UsedSongs(room models.Room, players []models.Player) map[string]struct{} {
	used := make(map[string]struct{})
	for _, p := range players {
		for _, s := range p.Timeline {
			used[s.ID] = struct{}{}
		}
	}
	if room.CurrentSong != nil {
		used[room.CurrentSong.ID] = struct{}{}
	}
	return used
}

// Draw returns the first pool song not yet used, or nil when the pool is
// exhausted.
func Draw(pool []models.Song, used map[string]struct{}) *models.Song {
	for _, s := range pool {
		if _, ok := used[s.ID]; ok {
			continue
		}
		song := s
		return &song
	}
	return nil
}

// DrawAfter continues the draw past current. The pool order is fixed when
// the game starts, so every song before current has been dealt, placed or
// discarded. Songs in used are skipped. Without a current song, or when it is
// not in the pool, the draw starts from the front.
func DrawAfter(pool []models.Song, current *models.Song, used map[string]struct{}) *models.Song {
	start := 0
	if current != nil {
		for i, s := range pool {
			if s.ID == current.ID {
				start = i + 1
				break
			}
		}
	}
	return Draw(pool[start:], used)
}

// Controller computes turn transitions. It holds only the attempt gate;
// room state is passed in and returned.
type Controller struct {
	mu      sync.Mutex
	pending bool
}

func NewController() *Controller {
	return &Controller{}
}

// Start returns the opening state: first roster player, first drawn song.
// An empty roster yields the zero state.
func (c *Controller) Start(roster []models.Player, pool []models.Song, used map[string]struct{}) State {
	if len(roster) == 0 {
		return State{}
	}
	idx := 0
	id := roster[0].ID
	return State{
		CurrentTurn:     &idx,
		CurrentSong:     Draw(pool, used),
		CurrentPlayerID: &id,
	}
}

// Advance moves to the next roster player modulo the roster size and draws
// the next song after the current one. With an empty roster the state is
// returned unchanged.
func (c *Controller) Advance(state State, roster []models.Player, pool []models.Song, used map[string]struct{}) State {
	if len(roster) == 0 {
		return state
	}
	cur := -1
	if state.CurrentTurn != nil {
		cur = *state.CurrentTurn
	}
	next := (cur + 1) % len(roster)
	if next < 0 {
		next = 0
	}
	id := roster[next].ID
	return State{
		CurrentTurn:     &next,
		CurrentSong:     DrawAfter(pool, state.CurrentSong, used),
		CurrentPlayerID: &id,
	}
}

// Rebase re-points the state at an updated roster after players left. The
// current player keeps the turn if still present; otherwise the player who
// moved into the vacated slot takes it with the same song. An empty roster
// clears the turn.
func (c *Controller) Rebase(state State, roster []models.Player) State {
	if len(roster) == 0 {
		return State{CurrentSong: state.CurrentSong}
	}
	if state.CurrentPlayerID != nil {
		for i, p := range roster {
			if p.ID == *state.CurrentPlayerID {
				idx := i
				id := p.ID
				return State{CurrentTurn: &idx, CurrentSong: state.CurrentSong, CurrentPlayerID: &id}
			}
		}
	}
	idx := 0
	if state.CurrentTurn != nil {
		idx = *state.CurrentTurn % len(roster)
	}
	id := roster[idx].ID
	return State{CurrentTurn: &idx, CurrentSong: state.CurrentSong, CurrentPlayerID: &id}
}

// Begin opens an attempt.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrAttemptInFlight
	}
	c.pending = true
	return nil
}

// Cancel abandons the open attempt without advancing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

// Resolve closes the open attempt and advances the turn for a correct or
// incorrect outcome. A pending outcome leaves the attempt open.
func (c *Controller) Resolve(outcome Outcome, state State, roster []models.Player, pool []models.Song, used map[string]struct{}) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return state, ErrNoAttempt
	}
	if outcome != OutcomeCorrect && outcome != OutcomeIncorrect {
		return state, ErrUnresolved
	}
	c.pending = false
	return c.Advance(state, roster, pool, used), nil
}
