package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase defines where a room is in its lifecycle.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhasePlaying, PhaseFinished:
		return true
	}
	return false
}

func (p Phase) rank() int {
	switch p {
	case PhaseLobby:
		return 0
	case PhasePlaying:
		return 1
	case PhaseFinished:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from p to next keeps phases monotonic.
// Staying in the same phase is allowed.
func (p Phase) CanTransitionTo(next Phase) bool {
	if !p.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= p.rank()
}

// GameMode selects rule variations. Settings stay opaque key/value pairs.
type GameMode string

const (
	GameModeClassic GameMode = "classic"
	GameModeDecades GameMode = "decades"
	GameModeGenre   GameMode = "genre"
)

// SettingTargetTimelineLength overrides the configured win length for a room.
const SettingTargetTimelineLength = "target_timeline_length"

// Room represents one generation of a game session.
type Room struct {
	ID               uuid.UUID         `json:"id"`
	LobbyCode        string            `json:"lobby_code"`
	HostID           string            `json:"host_id"`
	HostName         string            `json:"host_name"`
	Phase            Phase             `json:"phase"`
	GameMode         GameMode          `json:"gamemode"`
	GameModeSettings map[string]string `json:"gamemode_settings"`
	Songs            []Song            `json:"songs"`
	CurrentTurn      *int              `json:"current_turn"`
	CurrentSong      *Song             `json:"current_song"`
	CurrentPlayerID  *uuid.UUID        `json:"current_player_id"`
	Generation       int               `json:"generation"`
	PreviousRoomID   *uuid.UUID        `json:"previous_room_id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so snapshots can be handed out safely.
func (r Room) Clone() Room {
	out := r
	if r.GameModeSettings != nil {
		out.GameModeSettings = make(map[string]string, len(r.GameModeSettings))
		for k, v := range r.GameModeSettings {
			out.GameModeSettings[k] = v
		}
	}
	out.Songs = CloneSongs(r.Songs)
	if r.CurrentTurn != nil {
		t := *r.CurrentTurn
		out.CurrentTurn = &t
	}
	if r.CurrentSong != nil {
		s := *r.CurrentSong
		out.CurrentSong = &s
	}
	if r.CurrentPlayerID != nil {
		id := *r.CurrentPlayerID
		out.CurrentPlayerID = &id
	}
	if r.PreviousRoomID != nil {
		id := *r.PreviousRoomID
		out.PreviousRoomID = &id
	}
	return out
}

// RoomPatch is a partial room update. Nil fields are left untouched.
// ClearCurrent* flags null the matching nullable column.
type RoomPatch struct {
	Phase              *Phase
	GameMode           *GameMode
	GameModeSettings   map[string]string
	Songs              []Song
	CurrentTurn        *int
	ClearCurrentTurn   bool
	CurrentSong        *Song
	ClearCurrentSong   bool
	CurrentPlayerID    *uuid.UUID
	ClearCurrentPlayer bool
}

// Apply returns r with the patch applied. UpdatedAt is left to the caller.
func (p RoomPatch) Apply(r Room) Room {
	out := r.Clone()
	if p.Phase != nil {
		out.Phase = *p.Phase
	}
	if p.GameMode != nil {
		out.GameMode = *p.GameMode
	}
	if p.GameModeSettings != nil {
		out.GameModeSettings = p.GameModeSettings
	}
	if p.Songs != nil {
		out.Songs = CloneSongs(p.Songs)
	}
	switch {
	case p.ClearCurrentTurn:
		out.CurrentTurn = nil
	case p.CurrentTurn != nil:
		t := *p.CurrentTurn
		out.CurrentTurn = &t
	}
	switch {
	case p.ClearCurrentSong:
		out.CurrentSong = nil
	case p.CurrentSong != nil:
		s := *p.CurrentSong
		out.CurrentSong = &s
	}
	switch {
	case p.ClearCurrentPlayer:
		out.CurrentPlayerID = nil
	case p.CurrentPlayerID != nil:
		id := *p.CurrentPlayerID
		out.CurrentPlayerID = &id
	}
	return out
}
