package store

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
)

func TestDecodeRoomRoundTripsModel(t *testing.T) {
	turn := 1
	room := newRoom("MUSIC7")
	room.ID = uuid.New()
	room.CurrentTurn = &turn
	room.Songs = []models.Song{{ID: "s1", Title: "Heroes", Year: 1977}}

	raw, err := json.Marshal(room)
	require.NoError(t, err)

	decoded, err := DecodeRoom(raw)
	require.NoError(t, err)
	assert.Equal(t, room.ID, decoded.ID)
	assert.Equal(t, 1, *decoded.CurrentTurn)
	assert.Len(t, decoded.Songs, 1)
}

func TestDecodeRoomRejectsMalformedRows(t *testing.T) {
	valid := map[string]any{
		"id": uuid.NewString(), "lobby_code": "MUSIC7", "host_id": "h", "host_name": "Host",
		"phase": "lobby", "gamemode": "classic", "gamemode_settings": nil, "songs": nil,
		"current_turn": nil, "current_song": nil, "current_player_id": nil,
		"created_at": "2024-01-01T10:00:00Z", "updated_at": "2024-01-01T10:00:00Z",
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing column", func(r map[string]any) { delete(r, "current_turn") }},
		{"unknown phase", func(r map[string]any) { r["phase"] = "paused" }},
		{"negative turn", func(r map[string]any) { r["current_turn"] = -1 }},
		{"wrong type", func(r map[string]any) { r["songs"] = "not a list" }},
		{"empty code", func(r map[string]any) { r["lobby_code"] = "" }},
		{"nil id", func(r map[string]any) { r["id"] = uuid.Nil.String() }},
	}

	raw, err := json.Marshal(valid)
	require.NoError(t, err)
	_, err = DecodeRoom(raw)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := make(map[string]any, len(valid))
			for k, v := range valid {
				row[k] = v
			}
			tt.mutate(row)
			raw, err := json.Marshal(row)
			require.NoError(t, err)

			_, err = DecodeRoom(raw)
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}

	_, err = DecodeRoom([]byte("null"))
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestDecodePlayerRejectsUnsortedTimeline(t *testing.T) {
	p := models.Player{
		ID: uuid.New(), RoomID: uuid.New(), SessionID: "s",
		Timeline: []models.Song{{ID: "a", Year: 1990}, {ID: "b", Year: 1980}},
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	_, err = DecodePlayer(raw)
	assert.ErrorIs(t, err, ErrMalformedRow)

	p.Timeline[0].Year = 1970
	raw, err = json.Marshal(p)
	require.NoError(t, err)
	decoded, err := DecodePlayer(raw)
	require.NoError(t, err)
	assert.Equal(t, p.ID, decoded.ID)
}
