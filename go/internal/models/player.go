package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Player is a device's seat in a room. SessionID survives reconnects and is
// independent of the row ID.
type Player struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	SessionID     string    `json:"session_id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	TimelineColor string    `json:"timeline_color"`
	Score         int       `json:"score"`
	Timeline      []Song    `json:"timeline"`
	Character     string    `json:"character"`
	IsHost        bool      `json:"is_host"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Clone returns a deep copy of the player.
func (p Player) Clone() Player {
	out := p
	out.Timeline = CloneSongs(p.Timeline)
	return out
}

// PlayerPatch is a partial player update. Nil fields are left untouched.
type PlayerPatch struct {
	Name          *string
	Color         *string
	TimelineColor *string
	Character     *string
	Score         *int
	Timeline      []Song
}

// IsProfileOnly reports whether the patch touches only cosmetic fields.
func (p PlayerPatch) IsProfileOnly() bool {
	return p.Score == nil && p.Timeline == nil
}

// Empty reports whether the patch changes nothing.
func (p PlayerPatch) Empty() bool {
	return p.Name == nil && p.Color == nil && p.TimelineColor == nil &&
		p.Character == nil && p.Score == nil && p.Timeline == nil
}

// Apply returns pl with the patch applied.
func (p PlayerPatch) Apply(pl Player) Player {
	out := pl.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Color != nil {
		out.Color = *p.Color
	}
	if p.TimelineColor != nil {
		out.TimelineColor = *p.TimelineColor
	}
	if p.Character != nil {
		out.Character = *p.Character
	}
	if p.Score != nil {
		out.Score = *p.Score
	}
	if p.Timeline != nil {
		out.Timeline = CloneSongs(p.Timeline)
	}
	return out
}

// ActiveRoster returns the non-host players in turn order: join time, then id.
func ActiveRoster(players []Player) []Player {
	roster := make([]Player, 0, len(players))
	for _, p := range players {
		if p.IsHost {
			continue
		}
		roster = append(roster, p)
	}
	sort.SliceStable(roster, func(i, j int) bool {
		if !roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].JoinedAt.Before(roster[j].JoinedAt)
		}
		return roster[i].ID.String() < roster[j].ID.String()
	})
	return roster
}
