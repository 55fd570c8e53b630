package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/models"
)

// AudioController plays previews on the host device. Only the host executes
// audio; other devices send AUDIO_COMMAND messages to it.
type AudioController interface {
	Play(ctx context.Context, song *models.Song) error
	Pause(ctx context.Context) error
	Toggle(ctx context.Context, song *models.Song) error
}

// LogAudio is an AudioController for headless hosts. It only logs.
type LogAudio struct{}

var _ AudioController = LogAudio{}

func (LogAudio) Play(_ context.Context, song *models.Song) error {
	ev := log.Info().Str("component", "audio")
	if song != nil {
		ev = ev.Str("song_id", song.ID).Str("preview_url", song.PreviewURL)
	}
	ev.Msg("play")
	return nil
}

func (LogAudio) Pause(context.Context) error {
	log.Info().Str("component", "audio").Msg("pause")
	return nil
}

func (LogAudio) Toggle(_ context.Context, song *models.Song) error {
	ev := log.Info().Str("component", "audio")
	if song != nil {
		ev = ev.Str("song_id", song.ID)
	}
	ev.Msg("toggle")
	return nil
}
