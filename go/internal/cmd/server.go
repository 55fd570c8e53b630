package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/session"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
)

// controller is the part of the coordinator the status server drives.
type controller interface {
	Snapshot() session.Snapshot
	Connectivity() session.Connectivity
	Reconnect()
	StartGame(ctx context.Context) error
	PlaceCard(ctx context.Context, song models.Song, position int) (session.PlacementResult, error)
	KickPlayer(ctx context.Context, playerID uuid.UUID) error
	PlayAgain(ctx context.Context) (string, error)
	SendAudioCommand(ctx context.Context, action sidechannel.AudioAction) error
}

type placeRequest struct {
	// SongID defaults to the current song.
	SongID   string `json:"song_id"`
	Position int    `json:"position"`
}

type kickRequest struct {
	PlayerID string `json:"player_id"`
}

type audioRequest struct {
	Action sidechannel.AudioAction `json:"action"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// setupServer exposes the local snapshot and the game actions to a
// presentation layer running on the same device.
func setupServer(port string, coord controller) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, coord.Snapshot())
	})
	mux.HandleFunc("/connectivity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, coord.Connectivity())
	})
	mux.HandleFunc("/reconnect", post(func(w http.ResponseWriter, r *http.Request) {
		coord.Reconnect()
		w.WriteHeader(http.StatusAccepted)
	}))
	mux.HandleFunc("/start", post(func(w http.ResponseWriter, r *http.Request) {
		if err := coord.StartGame(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/place", post(func(w http.ResponseWriter, r *http.Request) {
		var req placeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		song := models.Song{ID: req.SongID}
		if snap := coord.Snapshot(); req.SongID == "" && snap.Room != nil && snap.Room.CurrentSong != nil {
			song = *snap.Room.CurrentSong
		}
		res, err := coord.PlaceCard(r.Context(), song, req.Position)
		if err != nil && !res.Success {
			writeError(w, err)
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("reason", res.Reason).Msg("placement stored with errors")
		}
		writeJSON(w, res)
	}))
	mux.HandleFunc("/kick", post(func(w http.ResponseWriter, r *http.Request) {
		var req kickRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		id, err := uuid.Parse(req.PlayerID)
		if err != nil {
			http.Error(w, "invalid player_id", http.StatusBadRequest)
			return
		}
		if err := coord.KickPlayer(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/play-again", post(func(w http.ResponseWriter, r *http.Request) {
		code, err := coord.PlayAgain(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"lobby_code": code})
	}))
	mux.HandleFunc("/audio", post(func(w http.ResponseWriter, r *http.Request) {
		var req audioRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := coord.SendAudioCommand(r.Context(), req.Action); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	setupHealthCheck(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func statusFor(kind session.Kind) int {
	switch kind {
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindConflict:
		return http.StatusConflict
	}
	return http.StatusServiceUnavailable
}

func writeError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	if err := json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Kind: kind.String()}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
