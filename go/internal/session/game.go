package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/placement"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/turn"
)

const defaultTargetTimelineLength = 10

// PlacementResult is the outcome of PlaceCard. Success is false when the
// placement was rejected before it touched the store. After a miss,
// CorrectPositions lists the slots that would have been right.
type PlacementResult struct {
	Success          bool
	Correct          bool
	CorrectPositions []int
	GameEnded        bool
	Winner           *models.Player
	Reason           string
}

func rejected(err error) PlacementResult {
	var e *Error
	if errors.As(err, &e) {
		return PlacementResult{Reason: e.Err.Error()}
	}
	return PlacementResult{Reason: err.Error()}
}

// targetLength is the timeline length that wins the game in room.
func (c *Coordinator) targetLength(room models.Room) int {
	if v, ok := room.GameModeSettings[models.SettingTargetTimelineLength]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if c.opts.TargetTimelineLength > 0 {
		return c.opts.TargetTimelineLength
	}
	return defaultTargetTimelineLength
}

// withPreview fills in the preview URL of song when a provider is set.
// Failures leave the song without audio.
func (c *Coordinator) withPreview(ctx context.Context, song *models.Song) *models.Song {
	if song == nil || song.PreviewURL != "" || c.previews == nil {
		return song
	}
	if c.opts.PreviewTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PreviewTimeout)
		defer cancel()
	}
	url, err := c.previews.PreviewURL(ctx, *song)
	if err != nil {
		lvl := c.logger.Warn()
		if errors.Is(err, songpool.ErrNoPreview) {
			lvl = c.logger.Debug()
		}
		lvl.Err(err).Str("song_id", song.ID).Msg("no preview for song")
		return song
	}
	out := *song
	out.PreviewURL = url
	return &out
}

// StartGame deals a starting card to every active player and opens the
// first turn.
func (c *Coordinator) StartGame(ctx context.Context) error {
	const op = "start game"
	id, err := c.boundHost(op)
	if err != nil {
		return err
	}
	room, err := c.store.GetRoom(ctx, id.RoomID)
	if err != nil {
		return storeError(op, err)
	}
	if room.Phase != models.PhaseLobby {
		return validation(op, fmt.Errorf("%w: room is %s", ErrNotLobby, room.Phase))
	}
	players, err := c.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return storeError(op, err)
	}
	roster := turn.ActiveRoster(players)
	if len(roster) == 0 {
		return validation(op, ErrNoPlayers)
	}

	pool := room.Songs
	if len(pool) == 0 {
		pool, err = c.songs.Pool(ctx, room.GameMode, room.GameModeSettings)
		if err != nil {
			return storeError(op, err)
		}
	}
	// Draws are tracked by id, so a repeated id would count twice.
	pool = songpool.Dedupe(pool)
	if len(pool) < len(roster)+1 {
		return validation(op, fmt.Errorf("%w: %d songs for %d players", ErrNotEnoughSongs, len(pool), len(roster)))
	}

	c.publish(ctx, sidechannel.TypeGameStart, sidechannel.GameStart{RoomID: room.ID})

	used := make(map[string]struct{}, len(roster)+1)
	cards := make([]models.Song, len(roster))
	for i := range roster {
		card := turn.Draw(pool, used)
		if card == nil {
			return validation(op, ErrNotEnoughSongs)
		}
		cards[i] = *card
		used[card.ID] = struct{}{}
	}

	dealt := make([]*models.Player, len(roster))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range roster {
		g.Go(func() error {
			timeline := placement.Insert(nil, cards[i], 0)
			updated, err := c.store.UpdatePlayer(gctx, p.ID, models.PlayerPatch{Timeline: timeline})
			if err != nil {
				return fmt.Errorf("deal to %s: %w", p.ID, err)
			}
			dealt[i] = updated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storeError(op, err)
	}
	for _, p := range dealt {
		c.applyPlayer(p)
	}

	state := c.turns.Start(roster, pool, used)
	if state.CurrentSong == nil {
		return validation(op, ErrNotEnoughSongs)
	}
	state.CurrentSong = c.withPreview(ctx, state.CurrentSong)
	patch := state.Patch()
	phase := models.PhasePlaying
	patch.Phase = &phase
	patch.Songs = pool
	updated, err := c.store.UpdateRoom(ctx, room.ID, patch)
	if err != nil {
		return storeError(op, err)
	}
	c.applyRoom(updated)

	c.publish(ctx, sidechannel.TypeGameStarted, sidechannel.GameStarted{
		RoomID:          room.ID,
		CurrentTurn:     *state.CurrentTurn,
		CurrentPlayerID: *state.CurrentPlayerID,
		CurrentSong:     state.CurrentSong,
	})
	c.publish(ctx, sidechannel.TypeSongSet, sidechannel.SongSet{
		CurrentTurn:     state.CurrentTurn,
		CurrentPlayerID: state.CurrentPlayerID,
		Song:            state.CurrentSong,
	})
	c.logger.Info().
		Str("room_id", room.ID.String()).
		Int("players", len(roster)).
		Int("pool", len(pool)).
		Msg("game started")
	return nil
}

// PlaceCard places song at position in the local player's timeline. A
// second call while one is in flight is rejected without touching state.
func (c *Coordinator) PlaceCard(ctx context.Context, song models.Song, position int) (PlacementResult, error) {
	const op = "place card"
	id, err := c.bound(op)
	if err != nil {
		return rejected(err), err
	}

	c.mu.Lock()
	if c.inFlight[id.PlayerID] {
		c.mu.Unlock()
		err := validation(op, ErrPlacementInFlight)
		return rejected(err), err
	}
	c.inFlight[id.PlayerID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, id.PlayerID)
		c.mu.Unlock()
	}()

	if err := c.turns.Begin(); err != nil {
		err = validation(op, ErrPlacementInFlight)
		return rejected(err), err
	}
	resolved := false
	defer func() {
		if !resolved {
			c.turns.Cancel()
		}
	}()

	room, err := c.store.GetRoom(ctx, id.RoomID)
	if err != nil {
		err = storeError(op, err)
		return rejected(err), err
	}
	switch {
	case room.Phase != models.PhasePlaying:
		err = validation(op, ErrNotPlaying)
	case room.CurrentPlayerID == nil || *room.CurrentPlayerID != id.PlayerID:
		err = validation(op, ErrNotYourTurn)
	case room.CurrentSong == nil || room.CurrentSong.ID != song.ID:
		err = validation(op, ErrStaleSong)
	}
	if err != nil {
		return rejected(err), err
	}

	players, err := c.store.ListPlayers(ctx, room.ID)
	if err != nil {
		err = storeError(op, err)
		return rejected(err), err
	}
	var me *models.Player
	for i := range players {
		if players[i].ID == id.PlayerID {
			me = &players[i]
		}
	}
	if me == nil {
		err = newError(KindNotFound, op, fmt.Errorf("player %s", id.PlayerID))
		return rejected(err), err
	}
	if position < 0 || position > len(me.Timeline) {
		err = validation(op, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidPosition, position, len(me.Timeline)))
		return rejected(err), err
	}

	// The room's copy is authoritative for the year.
	card := *room.CurrentSong
	correct := placement.Validate(me.Timeline, card, position)
	if correct {
		score := me.Score + 1
		updated, err := c.store.UpdatePlayer(ctx, me.ID, models.PlayerPatch{
			Score:    &score,
			Timeline: placement.Insert(me.Timeline, card, position),
		})
		if err != nil {
			err = storeError(op, err)
			return rejected(err), err
		}
		*me = *updated
		c.applyPlayer(updated)
	}
	c.publish(ctx, sidechannel.TypeCardPlaced, sidechannel.CardPlaced{
		PlayerID: me.ID,
		Song:     card,
		Position: position,
		Correct:  correct,
		Score:    me.Score,
		Timeline: me.Timeline,
	})

	result := PlacementResult{Success: true, Correct: correct}
	if !correct {
		result.CorrectPositions = placement.CorrectPositions(me.Timeline, card)
	}
	outcome := turn.OutcomeIncorrect
	if correct {
		outcome = turn.OutcomeCorrect
	}

	var patch models.RoomPatch
	var next turn.State
	if correct && len(me.Timeline) >= c.targetLength(*room) {
		resolved = true
		c.turns.Cancel()
		result.GameEnded = true
		result.Winner = me
	} else {
		next, err = c.turns.Resolve(outcome, turn.FromRoom(*room), turn.ActiveRoster(players), room.Songs, turn.UsedSongs(*room, players))
		if err != nil {
			err = newError(KindConnection, op, err)
			return rejected(err), err
		}
		resolved = true
		if next.CurrentSong == nil {
			result.GameEnded = true
			result.Winner = leader(turn.ActiveRoster(players))
		}
	}

	if result.GameEnded {
		phase := models.PhaseFinished
		patch = models.RoomPatch{Phase: &phase, ClearCurrentTurn: true, ClearCurrentSong: true, ClearCurrentPlayer: true}
	} else {
		next.CurrentSong = c.withPreview(ctx, next.CurrentSong)
		patch = next.Patch()
	}
	updatedRoom, err := c.store.UpdateRoom(ctx, room.ID, patch)
	if err != nil {
		// The placement is durable; only the turn handover failed.
		result.Reason = "turn not advanced"
		return result, storeError(op, err)
	}
	c.applyRoom(updatedRoom)

	songSet := sidechannel.SongSet{
		CurrentTurn:     next.CurrentTurn,
		CurrentPlayerID: next.CurrentPlayerID,
		Song:            next.CurrentSong,
		GameEnded:       result.GameEnded,
	}
	if result.Winner != nil {
		winnerID := result.Winner.ID
		songSet.WinnerID = &winnerID
	}
	c.publish(ctx, sidechannel.TypeSongSet, songSet)

	ev := c.logger.Info().
		Str("player_id", me.ID.String()).
		Str("song_id", card.ID).
		Bool("correct", correct).
		Int("score", me.Score)
	if result.Winner != nil {
		ev = ev.Str("winner_id", result.Winner.ID.String())
	}
	ev.Msg("card placed")
	return result, nil
}

// leader picks the winner when the pool runs dry: longest timeline, then
// highest score, then turn order.
func leader(roster []models.Player) *models.Player {
	var best *models.Player
	for i := range roster {
		p := &roster[i]
		if best == nil ||
			len(p.Timeline) > len(best.Timeline) ||
			(len(p.Timeline) == len(best.Timeline) && p.Score > best.Score) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	out := best.Clone()
	return &out
}

// SendAudioCommand asks the host to play, pause or toggle the current
// song's preview. On the host it runs locally.
func (c *Coordinator) SendAudioCommand(ctx context.Context, action sidechannel.AudioAction) error {
	const op = "audio command"
	id, err := c.bound(op)
	if err != nil {
		return err
	}
	if !action.Valid() {
		return validation(op, fmt.Errorf("%w: %q", ErrInvalidAudioAction, action))
	}

	c.mu.Lock()
	var song *models.Song
	if c.room != nil && c.room.CurrentSong != nil {
		s := *c.room.CurrentSong
		song = &s
	}
	c.mu.Unlock()

	if id.IsHost {
		if c.audio == nil {
			return nil
		}
		if err := c.runAudio(ctx, action, song); err != nil {
			return newError(KindConnection, op, err)
		}
		return nil
	}
	if err := c.side.Publish(ctx, sidechannel.TypeAudioCommand, sidechannel.AudioCommand{Action: action, Song: song}); err != nil {
		return newError(KindConnection, op, err)
	}
	return nil
}

// CurrentPlayer returns the id of the player whose turn it is, if any.
func (c *Coordinator) CurrentPlayer() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil || c.room.CurrentPlayerID == nil {
		return uuid.Nil, false
	}
	return *c.room.CurrentPlayerID, true
}
