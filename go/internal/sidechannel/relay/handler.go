package relay

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Handler serves /ws/room, /ws/stats and /health behind CORS.
func Handler(h *Hub, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/room", h.handleRoom)
	mux.HandleFunc("/ws/stats", h.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (h *Hub) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	if err := h.Upgrade(w, r, roomID); err != nil {
		// the upgrader has already replied to the client
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to upgrade relay connection")
	}
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode relay stats")
	}
}
