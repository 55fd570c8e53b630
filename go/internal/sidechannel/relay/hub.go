// Package relay is the WebSocket fan-out server behind the side channel's
// websocket transport. It is deliberately dumb: every text frame a client
// sends is forwarded to every connection in the same room, sender included.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub tracks room-scoped client connections.
type Hub struct {
	rooms map[string]map[*client]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   Config

	broadcastCh chan frame
}

type client struct {
	id          string
	roomID      string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	connectedAt time.Time
}

// Config holds WebSocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

type frame struct {
	roomID string
	data   []byte
}

// Stats is the /ws/stats response.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	Rooms            map[string]int `json:"rooms"`
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewHub(config Config) *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan frame, 1000),
	}
}

// Start fans queued frames out until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("relay hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("relay hub shutting down")
			return
		case f := <-h.broadcastCh:
			h.handleBroadcast(f)
		}
	}
}

// Upgrade upgrades an HTTP request into a room connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, roomID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &client{
		id:          uuid.NewString(),
		roomID:      roomID,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		connectedAt: time.Now(),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("room_id", roomID).
		Msg("relay connection established")
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*client]bool)
	}
	h.rooms[c.roomID][c] = true

	log.Debug().
		Str("connection_id", c.id).
		Str("room_id", c.roomID).
		Int("room_connections", len(h.rooms[c.roomID])).
		Msg("connection registered")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[c.roomID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.rooms, c.roomID)
	}
	log.Info().
		Str("connection_id", c.id).
		Str("room_id", c.roomID).
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("connection unregistered")
}

func (h *Hub) enqueue(f frame) {
	select {
	case h.broadcastCh <- f:
	default:
		log.Warn().Str("room_id", f.roomID).Msg("broadcast channel full, dropping frame")
	}
}

// handleBroadcast queues the frame on every connection in the room. Sends
// happen under the read lock so unregister cannot close a channel mid-send.
func (h *Hub) handleBroadcast(f frame) {
	var slow []*client
	h.mu.RLock()
	for c := range h.rooms[f.roomID] {
		select {
		case c.send <- f.data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().
			Str("connection_id", c.id).
			Str("room_id", c.roomID).
			Msg("connection send buffer full, closing connection")
		h.unregister(c)
		c.conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*client
	for _, conns := range h.rooms {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

// Stats reports open connections per room.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Rooms: make(map[string]int, len(h.rooms))}
	for roomID, conns := range h.rooms {
		s.Rooms[roomID] = len(conns)
		s.TotalConnections += len(conns)
	}
	s.ActiveRooms = len(h.rooms)
	return s
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to write frame")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		c.hub.enqueue(frame{roomID: c.roomID, data: message})
	}
}
