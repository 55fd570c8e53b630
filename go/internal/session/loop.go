package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcdev12/hitster/go/internal/changefeed"
	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
)

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.feed.Events():
			c.handleFeedEvent(ev)
		case res := <-c.resyncCh:
			c.handleResync(res)
		case st := <-c.feed.StatusChanges():
			c.logger.Debug().Str("status", string(st)).Msg("change feed status")
			c.notify()
		case st := <-c.side.StatusChanges():
			c.logger.Debug().Str("status", string(st)).Msg("side channel status")
			c.notify()
		case env := <-c.mirrors.room.C():
			c.handleMirror(env)
		case env := <-c.mirrors.player.C():
			c.handleMirror(env)
		case env := <-c.mirrors.gameStart.C():
			c.handleMirror(env)
		case env := <-c.mirrors.gameStarted.C():
			c.handleMirror(env)
		case env := <-c.mirrors.cardPlaced.C():
			c.handleMirror(env)
		case env := <-c.mirrors.songSet.C():
			c.handleMirror(env)
		case env := <-c.mirrors.audio.C():
			c.handleAudio(env)
		}
	}
}

func (c *Coordinator) handleFeedEvent(ev changefeed.Event) {
	c.mu.Lock()
	roomID := c.identity.RoomID
	c.mu.Unlock()
	if ev.RoomID != roomID {
		return
	}

	if ev.Kind == changefeed.EventResynced {
		c.resyncSeq++
		c.resyncPending = true
		c.queued = c.queued[:0]
		go c.reload(c.resyncSeq, roomID)
		return
	}
	if c.resyncPending {
		c.queued = append(c.queued, ev)
		return
	}
	c.applyEvent(ev)
}

// reload fetches a full snapshot after the feed (re)connected. Events that
// arrive meanwhile are queued and replayed on top of it.
func (c *Coordinator) reload(seq uint64, roomID uuid.UUID) {
	ctx, cancel := context.WithTimeout(c.ctx, resyncTimeout)
	defer cancel()

	res := resyncResult{seq: seq, roomID: roomID}
	res.room, res.err = c.store.GetRoom(ctx, roomID)
	if res.err == nil {
		res.players, res.err = c.store.ListPlayers(ctx, roomID)
	}
	select {
	case c.resyncCh <- res:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) handleResync(res resyncResult) {
	if res.seq != c.resyncSeq {
		return
	}
	queued := c.queued
	c.queued = nil
	c.resyncPending = false

	c.mu.Lock()
	if res.roomID != c.identity.RoomID {
		c.mu.Unlock()
		return
	}
	if res.err != nil {
		c.mu.Unlock()
		c.logger.Warn().Err(res.err).Str("room_id", res.roomID.String()).Msg("snapshot reload failed, applying queued changes only")
	} else {
		r := res.room.Clone()
		c.room = &r
		c.players = make(map[uuid.UUID]models.Player, len(res.players))
		for _, p := range res.players {
			c.players[p.ID] = p.Clone()
		}
		selfID := c.identity.PlayerID
		_, present := c.players[selfID]
		c.mu.Unlock()
		c.logger.Debug().Int("players", len(res.players)).Msg("snapshot reloaded")
		if !present {
			c.kick()
			return
		}
	}

	for _, ev := range queued {
		c.applyEvent(ev)
	}
	c.notify()
}

func (c *Coordinator) applyEvent(ev changefeed.Event) {
	c.mu.Lock()
	var changed, kicked bool
	switch ev.Kind {
	case changefeed.EventRoomUpdated:
		if ev.Room != nil {
			changed = c.applyRoomLocked(*ev.Room)
		}
	case changefeed.EventPlayerUpserted:
		if ev.Player != nil {
			changed = c.applyPlayerLocked(*ev.Player)
		}
	case changefeed.EventPlayerDeleted:
		if _, ok := c.players[ev.PlayerID]; ok {
			delete(c.players, ev.PlayerID)
			changed = true
		}
		kicked = ev.PlayerID == c.identity.PlayerID
	}
	c.mu.Unlock()

	if kicked {
		c.kick()
		return
	}
	if changed {
		c.notify()
	}
}

// kick handles the local player's row disappearing.
func (c *Coordinator) kick() {
	prev := c.unbind()
	c.mu.Lock()
	c.kicked = true
	c.mu.Unlock()
	c.logger.Warn().Str("room_id", prev.RoomID.String()).Msg("removed from room")
	c.notify()
}

// handleMirror folds an advisory side-channel message into the snapshot.
// Durable rows arriving later always win.
func (c *Coordinator) handleMirror(env sidechannel.Envelope) {
	var changed bool
	switch env.Type {
	case sidechannel.TypeRoomUpdate:
		var msg sidechannel.RoomUpdate
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		if msg.Room.PreviousRoomID != nil && *msg.Room.PreviousRoomID == c.identity.RoomID {
			c.nextCode = msg.Room.LobbyCode
			changed = true
		} else {
			changed = c.applyRoomLocked(msg.Room)
		}
		c.mu.Unlock()

	case sidechannel.TypePlayerUpdate:
		var msg sidechannel.PlayerUpdate
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		if p, ok := c.players[msg.Player.ID]; ok {
			p.Name = msg.Player.Name
			p.Color = msg.Player.Color
			p.TimelineColor = msg.Player.TimelineColor
			p.Character = msg.Player.Character
			c.players[p.ID] = p
			changed = true
		}
		c.mu.Unlock()

	case sidechannel.TypeGameStart:
		c.logger.Debug().Str("sender", env.SenderID).Msg("host is starting the game")
		changed = true

	case sidechannel.TypeGameStarted:
		var msg sidechannel.GameStarted
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		if c.room != nil && c.room.ID == msg.RoomID && c.room.Phase == models.PhaseLobby {
			turnIdx := msg.CurrentTurn
			playerID := msg.CurrentPlayerID
			c.room.Phase = models.PhasePlaying
			c.room.CurrentTurn = &turnIdx
			c.room.CurrentPlayerID = &playerID
			c.room.CurrentSong = msg.CurrentSong
			changed = true
		}
		c.mu.Unlock()

	case sidechannel.TypeCardPlaced:
		var msg sidechannel.CardPlaced
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		if p, ok := c.players[msg.PlayerID]; ok && msg.Score >= p.Score && len(msg.Timeline) >= len(p.Timeline) {
			p.Score = msg.Score
			p.Timeline = models.CloneSongs(msg.Timeline)
			c.players[p.ID] = p
			changed = true
		}
		c.mu.Unlock()

	case sidechannel.TypeSongSet:
		var msg sidechannel.SongSet
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		if c.room != nil && c.room.Phase == models.PhasePlaying {
			if msg.GameEnded {
				c.room.Phase = models.PhaseFinished
			}
			c.room.CurrentTurn = msg.CurrentTurn
			c.room.CurrentPlayerID = msg.CurrentPlayerID
			c.room.CurrentSong = msg.Song
			changed = true
		}
		c.mu.Unlock()
	}
	if changed {
		c.notify()
	}
}

// handleAudio executes AUDIO_COMMAND on the host. Other devices ignore it.
func (c *Coordinator) handleAudio(env sidechannel.Envelope) {
	var cmd sidechannel.AudioCommand
	if !c.decode(env, &cmd) {
		return
	}
	c.mu.Lock()
	isHost := c.identity.IsHost
	song := cmd.Song
	if song == nil && c.room != nil {
		song = c.room.CurrentSong
	}
	c.mu.Unlock()
	if !isHost || c.audio == nil {
		return
	}
	if err := c.runAudio(c.ctx, cmd.Action, song); err != nil {
		c.logger.Warn().Err(err).Str("action", string(cmd.Action)).Msg("audio command failed")
	}
}

func (c *Coordinator) runAudio(ctx context.Context, action sidechannel.AudioAction, song *models.Song) error {
	switch action {
	case sidechannel.AudioPlay:
		return c.audio.Play(ctx, song)
	case sidechannel.AudioPause:
		return c.audio.Pause(ctx)
	case sidechannel.AudioToggle:
		return c.audio.Toggle(ctx, song)
	}
	return ErrInvalidAudioAction
}

func (c *Coordinator) decode(env sidechannel.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("dropping malformed mirror message")
		return false
	}
	return true
}
