package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
	"github.com/mcdev12/hitster/go/internal/store"
	"github.com/mcdev12/hitster/go/internal/turn"
)

const (
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts  = 5
	defaultCodeWidth = 6
)

// Seat colours handed out in join order.
var (
	playerColors   = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#46f0f0", "#f032e6", "#bcf60c"}
	timelineColors = []string{"#fabebe", "#aaffc3", "#a6cee3", "#ffd8b1", "#e6beff", "#b3f0f0", "#ffb3f5", "#e0f5a0"}
)

func (c *Coordinator) randomCode() string {
	n := c.opts.LobbyCodeLength
	if n <= 0 {
		n = defaultCodeWidth
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[c.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// pickColor returns the first palette entry no player uses yet, cycling
// once the palette runs out.
func pickColor(palette []string, players []models.Player, used func(models.Player) string) string {
	taken := make(map[string]bool, len(players))
	for _, p := range players {
		taken[used(p)] = true
	}
	for _, col := range palette {
		if !taken[col] {
			return col
		}
	}
	return palette[len(players)%len(palette)]
}

// CreateRoom creates a lobby hosted by this device and binds to it. It
// returns the lobby code.
func (c *Coordinator) CreateRoom(ctx context.Context, hostName string) (string, error) {
	const op = "create room"
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return "", validation(op, ErrInvalidName)
	}
	if c.Identity().InRoom() {
		c.unbind()
	}
	sessionID := c.Identity().SessionID

	var room *models.Room
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		created, err := c.store.CreateRoom(ctx, models.Room{
			LobbyCode:        c.newCode(),
			HostID:           sessionID,
			HostName:         hostName,
			Phase:            models.PhaseLobby,
			GameMode:         c.opts.DefaultMode,
			GameModeSettings: map[string]string{},
		})
		if errors.Is(err, store.ErrConflict) {
			c.logger.Debug().Int("attempt", attempt).Msg("lobby code taken, retrying")
			continue
		}
		if err != nil {
			return "", storeError(op, err)
		}
		room = created
		break
	}
	if room == nil {
		return "", newError(KindConflict, op, ErrCodeExhausted)
	}

	host, err := c.store.CreatePlayer(ctx, models.Player{
		RoomID:        room.ID,
		SessionID:     sessionID,
		Name:          hostName,
		Color:         playerColors[0],
		TimelineColor: timelineColors[0],
		IsHost:        true,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", room.ID.String()).Msg("room created without host seat")
		return "", storeError(op, err)
	}

	c.bind(*room, nil, *host)
	c.logger.Info().Str("lobby_code", room.LobbyCode).Msg("room created")
	return room.LobbyCode, nil
}

// JoinRoom adds this device as a player to the lobby with the given code.
func (c *Coordinator) JoinRoom(ctx context.Context, code, name string) error {
	const op = "join room"
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if name == "" {
		return validation(op, ErrInvalidName)
	}

	room, err := c.store.GetRoomByCode(ctx, code)
	if err != nil {
		return storeError(op, err)
	}
	id := c.Identity()
	if id.RoomID == room.ID {
		return validation(op, ErrAlreadyInRoom)
	}
	if room.Phase != models.PhaseLobby {
		return validation(op, fmt.Errorf("%w: room is %s", ErrNotLobby, room.Phase))
	}

	players, err := c.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return storeError(op, err)
	}
	for _, p := range players {
		if p.SessionID == id.SessionID {
			return validation(op, ErrAlreadyInRoom)
		}
	}

	self, err := c.store.CreatePlayer(ctx, models.Player{
		RoomID:        room.ID,
		SessionID:     id.SessionID,
		Name:          name,
		Color:         pickColor(playerColors, players, func(p models.Player) string { return p.Color }),
		TimelineColor: pickColor(timelineColors, players, func(p models.Player) string { return p.TimelineColor }),
	})
	if errors.Is(err, store.ErrConflict) {
		return validation(op, ErrAlreadyInRoom)
	}
	if err != nil {
		return storeError(op, err)
	}

	if id.InRoom() {
		c.unbind()
	}
	c.bind(*room, players, *self)
	c.publish(ctx, sidechannel.TypePlayerUpdate, sidechannel.PlayerUpdate{Player: *self})
	return nil
}

// UpdatePlayer changes the local player's profile. Score and timeline are
// rejected; they only change through placement.
func (c *Coordinator) UpdatePlayer(ctx context.Context, patch models.PlayerPatch) error {
	const op = "update player"
	id, err := c.bound(op)
	if err != nil {
		return err
	}
	if !patch.IsProfileOnly() {
		return validation(op, ErrProfileOnly)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return validation(op, ErrInvalidName)
		}
		patch.Name = &name
	}
	if patch.Empty() {
		return nil
	}

	c.setPendingProfile(true)
	updated, err := c.store.UpdatePlayer(ctx, id.PlayerID, patch)
	c.setPendingProfile(false)
	if err != nil {
		return storeError(op, err)
	}
	c.applyPlayer(updated)
	c.publish(ctx, sidechannel.TypePlayerUpdate, sidechannel.PlayerUpdate{Player: *updated})
	return nil
}

func (c *Coordinator) setPendingProfile(pending bool) {
	c.mu.Lock()
	c.identity.PendingProfileUpdate = pending
	c.mu.Unlock()
	c.notify()
}

// LeaveRoom tears down both channels and clears the binding. A player who
// leaves a lobby gives up the seat; during a game the row stays so the
// timeline survives. Leaving while unbound is a no-op.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	id := c.identity
	inLobby := c.room != nil && c.room.Phase == models.PhaseLobby
	c.mu.Unlock()
	if !id.InRoom() {
		return nil
	}

	c.unbind()
	if inLobby && !id.IsHost {
		if err := c.store.DeletePlayer(ctx, id.PlayerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn().Err(err).Str("player_id", id.PlayerID.String()).Msg("failed to release lobby seat")
		}
	}
	return nil
}

// KickPlayer removes another player from the room. During a game the turn
// is re-pointed so it stays on a valid roster entry.
func (c *Coordinator) KickPlayer(ctx context.Context, playerID uuid.UUID) error {
	const op = "kick player"
	id, err := c.boundHost(op)
	if err != nil {
		return err
	}
	if playerID == id.PlayerID {
		return validation(op, ErrCannotKickHost)
	}

	room, err := c.store.GetRoom(ctx, id.RoomID)
	if err != nil {
		return storeError(op, err)
	}
	players, err := c.store.ListPlayers(ctx, id.RoomID)
	if err != nil {
		return storeError(op, err)
	}
	var remaining []models.Player
	found := false
	for _, p := range players {
		if p.ID == playerID {
			if p.IsHost {
				return validation(op, ErrCannotKickHost)
			}
			found = true
			continue
		}
		remaining = append(remaining, p)
	}
	if !found {
		return newError(KindNotFound, op, fmt.Errorf("player %s", playerID))
	}

	if err := c.store.DeletePlayer(ctx, playerID); err != nil {
		return storeError(op, err)
	}
	c.mu.Lock()
	delete(c.players, playerID)
	c.mu.Unlock()
	c.notify()
	c.logger.Info().Str("player_id", playerID.String()).Msg("player kicked")

	if room.Phase != models.PhasePlaying {
		return nil
	}
	state := c.turns.Rebase(turn.FromRoom(*room), turn.ActiveRoster(remaining))
	updated, err := c.store.UpdateRoom(ctx, room.ID, state.Patch())
	if err != nil {
		return storeError(op, err)
	}
	c.applyRoom(updated)
	c.publish(ctx, sidechannel.TypeSongSet, sidechannel.SongSet{
		CurrentTurn:     state.CurrentTurn,
		CurrentPlayerID: state.CurrentPlayerID,
		Song:            state.CurrentSong,
	})
	return nil
}

// PlayAgain opens the next generation of a finished room with the same
// settings, rebinds the host to it and announces the new lobby code. It
// returns the new code.
func (c *Coordinator) PlayAgain(ctx context.Context) (string, error) {
	const op = "play again"
	id, err := c.boundHost(op)
	if err != nil {
		return "", err
	}
	prev, err := c.store.GetRoom(ctx, id.RoomID)
	if err != nil {
		return "", storeError(op, err)
	}
	if prev.Phase != models.PhaseFinished {
		return "", validation(op, ErrNotFinished)
	}
	players, err := c.store.ListPlayers(ctx, prev.ID)
	if err != nil {
		return "", storeError(op, err)
	}
	var host models.Player
	for _, p := range players {
		if p.ID == id.PlayerID {
			host = p
		}
	}

	settings := make(map[string]string, len(prev.GameModeSettings))
	for k, v := range prev.GameModeSettings {
		settings[k] = v
	}
	prevID := prev.ID

	var room *models.Room
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		created, err := c.store.CreateRoom(ctx, models.Room{
			LobbyCode:        c.newCode(),
			HostID:           prev.HostID,
			HostName:         prev.HostName,
			Phase:            models.PhaseLobby,
			GameMode:         prev.GameMode,
			GameModeSettings: settings,
			Generation:       prev.Generation + 1,
			PreviousRoomID:   &prevID,
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return "", storeError(op, err)
		}
		room = created
		break
	}
	if room == nil {
		return "", newError(KindConflict, op, ErrCodeExhausted)
	}

	seat, err := c.store.CreatePlayer(ctx, models.Player{
		RoomID:        room.ID,
		SessionID:     id.SessionID,
		Name:          prev.HostName,
		Color:         firstNonEmpty(host.Color, playerColors[0]),
		TimelineColor: firstNonEmpty(host.TimelineColor, timelineColors[0]),
		Character:     host.Character,
		IsHost:        true,
	})
	if err != nil {
		return "", storeError(op, err)
	}

	// Announce on the old room before leaving it.
	c.publish(ctx, sidechannel.TypeRoomUpdate, sidechannel.RoomUpdate{Room: *room})
	c.unbind()
	c.bind(*room, nil, *seat)
	c.logger.Info().
		Str("lobby_code", room.LobbyCode).
		Int("generation", room.Generation).
		Msg("next round opened")
	return room.LobbyCode, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
