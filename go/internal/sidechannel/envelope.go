// Package sidechannel is the best-effort, low-latency broadcast path between
// devices in a room. It only mirrors state the durable store already holds,
// so every message may be lost, delayed or duplicated without harm.
package sidechannel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/models"
)

// MessageType names a side-channel message.
type MessageType string

const (
	TypeRoomUpdate   MessageType = "ROOM_UPDATE"
	TypePlayerUpdate MessageType = "PLAYER_UPDATE"
	TypeGameStart    MessageType = "GAME_START"
	TypeCardPlaced   MessageType = "CARD_PLACED"
	TypeSongSet      MessageType = "SONG_SET"
	TypeGameStarted  MessageType = "GAME_STARTED"
	TypeAudioCommand MessageType = "AUDIO_COMMAND"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRoomUpdate, TypePlayerUpdate, TypeGameStart, TypeCardPlaced,
		TypeSongSet, TypeGameStarted, TypeAudioCommand:
		return true
	}
	return false
}

var ErrMalformedEnvelope = errors.New("sidechannel: malformed envelope")

// Envelope is the wire format of every side-channel message.
type Envelope struct {
	Type            MessageType     `json:"type"`
	RoomID          string          `json:"roomId"`
	SenderID        string          `json:"senderId"`
	TimestampMillis int64           `json:"timestampMillis"`
	Payload         json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses and validates a raw frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case !env.Type.Valid():
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	case env.RoomID == "":
		return Envelope{}, fmt.Errorf("%w: missing roomId", ErrMalformedEnvelope)
	case env.SenderID == "":
		return Envelope{}, fmt.Errorf("%w: missing senderId", ErrMalformedEnvelope)
	case env.TimestampMillis <= 0:
		return Envelope{}, fmt.Errorf("%w: missing timestampMillis", ErrMalformedEnvelope)
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

// AudioAction is what an AUDIO_COMMAND asks the host to do.
type AudioAction string

const (
	AudioPlay   AudioAction = "play"
	AudioPause  AudioAction = "pause"
	AudioToggle AudioAction = "toggle"
)

func (a AudioAction) Valid() bool {
	switch a {
	case AudioPlay, AudioPause, AudioToggle:
		return true
	}
	return false
}

// AudioCommand is the AUDIO_COMMAND payload.
type AudioCommand struct {
	Action AudioAction  `json:"action"`
	Song   *models.Song `json:"song,omitempty"`
}

// RoomUpdate is the ROOM_UPDATE payload: the sender's view of the room row.
type RoomUpdate struct {
	Room models.Room `json:"room"`
}

// PlayerUpdate is the PLAYER_UPDATE payload.
type PlayerUpdate struct {
	Player models.Player `json:"player"`
}

// GameStart is the GAME_START payload sent by the host before it writes
// the opening state.
type GameStart struct {
	RoomID uuid.UUID `json:"roomId"`
}

// GameStarted is the GAME_STARTED payload sent once the opening state is
// durable.
type GameStarted struct {
	RoomID          uuid.UUID    `json:"roomId"`
	CurrentTurn     int          `json:"currentTurn"`
	CurrentPlayerID uuid.UUID    `json:"currentPlayerId"`
	CurrentSong     *models.Song `json:"currentSong,omitempty"`
}

// CardPlaced is the CARD_PLACED payload.
type CardPlaced struct {
	PlayerID uuid.UUID   `json:"playerId"`
	Song     models.Song `json:"song"`
	Position int         `json:"position"`
	Correct  bool        `json:"correct"`
	Score    int         `json:"score"`
	// Timeline is the player's timeline after the placement.
	Timeline []models.Song `json:"timeline"`
}

// SongSet is the SONG_SET payload announcing the next turn.
type SongSet struct {
	CurrentTurn     *int         `json:"currentTurn"`
	CurrentPlayerID *uuid.UUID   `json:"currentPlayerId"`
	Song            *models.Song `json:"song"`
	GameEnded       bool         `json:"gameEnded,omitempty"`
	WinnerID        *uuid.UUID   `json:"winnerId,omitempty"`
}
