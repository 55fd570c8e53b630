package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/models"
)

var roomColumns = []string{
	"id", "lobby_code", "host_id", "host_name", "phase", "gamemode",
	"gamemode_settings", "songs", "current_turn", "current_song",
	"current_player_id", "created_at", "updated_at",
}

var playerColumns = []string{
	"id", "room_id", "session_id", "name", "color", "timeline_color",
	"score", "timeline", "character", "is_host", "joined_at",
}

// DecodeRoom turns a raw room row into a Room, rejecting rows with missing
// columns or values that break the room invariants.
func DecodeRoom(raw []byte) (models.Room, error) {
	if err := requireColumns(raw, roomColumns); err != nil {
		return models.Room{}, fmt.Errorf("%w: room: %v", ErrMalformedRow, err)
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return models.Room{}, fmt.Errorf("%w: room: %v", ErrMalformedRow, err)
	}
	if err := ValidateRoom(room); err != nil {
		return models.Room{}, fmt.Errorf("%w: room %s: %v", ErrMalformedRow, room.ID, err)
	}
	return room, nil
}

// DecodePlayer turns a raw player row into a Player.
func DecodePlayer(raw []byte) (models.Player, error) {
	if err := requireColumns(raw, playerColumns); err != nil {
		return models.Player{}, fmt.Errorf("%w: player: %v", ErrMalformedRow, err)
	}
	var player models.Player
	if err := json.Unmarshal(raw, &player); err != nil {
		return models.Player{}, fmt.Errorf("%w: player: %v", ErrMalformedRow, err)
	}
	if err := ValidatePlayer(player); err != nil {
		return models.Player{}, fmt.Errorf("%w: player %s: %v", ErrMalformedRow, player.ID, err)
	}
	return player, nil
}

// ValidateRoom checks the invariants a stored room must hold.
func ValidateRoom(r models.Room) error {
	switch {
	case r.ID == uuid.Nil:
		return fmt.Errorf("missing id")
	case r.LobbyCode == "":
		return fmt.Errorf("missing lobby_code")
	case r.HostID == "":
		return fmt.Errorf("missing host_id")
	case !r.Phase.Valid():
		return fmt.Errorf("unknown phase %q", r.Phase)
	case r.CurrentTurn != nil && *r.CurrentTurn < 0:
		return fmt.Errorf("negative current_turn %d", *r.CurrentTurn)
	case r.Generation < 0:
		return fmt.Errorf("negative generation %d", r.Generation)
	}
	return nil
}

// ValidatePlayer checks the invariants a stored player must hold.
func ValidatePlayer(p models.Player) error {
	switch {
	case p.ID == uuid.Nil:
		return fmt.Errorf("missing id")
	case p.RoomID == uuid.Nil:
		return fmt.Errorf("missing room_id")
	case p.SessionID == "":
		return fmt.Errorf("missing session_id")
	case p.Score < 0:
		return fmt.Errorf("negative score %d", p.Score)
	}
	for i := 1; i < len(p.Timeline); i++ {
		if p.Timeline[i].Year < p.Timeline[i-1].Year {
			return fmt.Errorf("timeline out of order at %d", i)
		}
	}
	return nil
}

func requireColumns(raw []byte, columns []string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("row is null")
	}
	for _, c := range columns {
		if _, ok := fields[c]; !ok {
			return fmt.Errorf("missing column %q", c)
		}
	}
	return nil
}
