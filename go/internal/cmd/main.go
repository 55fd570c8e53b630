package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/config"
	"github.com/mcdev12/hitster/go/internal/logging"
	"github.com/mcdev12/hitster/go/internal/session"
)

func main() {
	logging.Setup("hitster")

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	st, songs, closeStore, err := setupStore(ctx, cfg, rnd)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up store")
	}
	defer closeStore()

	deps, err := setupDeps(cfg, st, songs, rnd)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up dependencies")
	}
	coord, err := session.New(deps, session.OptionsFromConfig(cfg), opts.session)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	defer coord.Close()

	if opts.host != "" {
		code, err := coord.CreateRoom(ctx, opts.host)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create room")
		}
		log.Info().Str("lobby_code", code).Msg("room open, share the code")
	} else if err := coord.JoinRoom(ctx, opts.join, opts.name); err != nil {
		log.Fatal().Err(err).Str("kind", session.KindOf(err).String()).Msg("failed to join room")
	}

	var server *http.Server
	if opts.statusPort != "" {
		server = setupServer(opts.statusPort, coord)
		go func() {
			log.Info().Str("addr", server.Addr).Msg("status server starting")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = server.Shutdown(shutdownCtx)
				cancel()
			}
			_ = coord.LeaveRoom(context.Background())
			return
		case <-coord.Updates():
			logSnapshot(coord.Snapshot())
		}
	}
}

func logSnapshot(snap session.Snapshot) {
	ev := log.Info().
		Str("feed", string(snap.Feed)).
		Str("side_channel", string(snap.SideChannel)).
		Int("players", len(snap.Players))
	if snap.Room != nil {
		ev = ev.Str("phase", string(snap.Room.Phase))
		if snap.Room.CurrentSong != nil {
			ev = ev.Str("current_song", snap.Room.CurrentSong.Title)
		}
	}
	if snap.Kicked {
		ev = ev.Bool("kicked", true)
	}
	if snap.NextRoomCode != "" {
		ev = ev.Str("next_room", snap.NextRoomCode)
	}
	ev.Msg("session updated")
}
