package sidechannel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

const loopbackBuffer = 64

// Loopback is an in-process broadcast bus. Every connection in a room,
// including the sender, receives each frame.
type Loopback struct {
	mu    sync.Mutex
	rooms map[string]map[*loopbackConn]struct{}
	down  bool
}

var _ Transport = (*Loopback)(nil)

func NewLoopback() *Loopback {
	return &Loopback{rooms: make(map[string]map[*loopbackConn]struct{})}
}

// SetDown simulates an outage: open connections end and new ones fail
// until the bus is brought back up.
func (b *Loopback) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	var dropped []*loopbackConn
	if down {
		for room, conns := range b.rooms {
			for c := range conns {
				dropped = append(dropped, c)
			}
			delete(b.rooms, room)
		}
	}
	b.mu.Unlock()

	for _, c := range dropped {
		c.end(fmt.Errorf("%w: bus down", ErrConnClosed))
	}
}

// Connections returns the number of open connections in a room.
func (b *Loopback) Connections(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[roomID])
}

func (b *Loopback) Connect(ctx context.Context, roomID string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("loopback connect: bus down")
	}
	c := &loopbackConn{
		lifecycle: newLifecycle(),
		bus:       b,
		roomID:    roomID,
		recv:      make(chan []byte, loopbackBuffer),
	}
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*loopbackConn]struct{})
	}
	b.rooms[roomID][c] = struct{}{}
	return c, nil
}

func (b *Loopback) remove(c *loopbackConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conns, ok := b.rooms[c.roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(b.rooms, c.roomID)
		}
	}
}

type loopbackConn struct {
	*lifecycle
	bus    *Loopback
	roomID string
	recv   chan []byte
}

func (c *loopbackConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return ErrConnClosed
	}
	frame := append([]byte(nil), data...)

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	for peer := range c.bus.rooms[c.roomID] {
		select {
		case peer.recv <- frame:
		default:
			log.Debug().Str("room_id", c.roomID).Msg("loopback receiver full, dropping frame")
		}
	}
	return nil
}

func (c *loopbackConn) Receive() <-chan []byte { return c.recv }

func (c *loopbackConn) Ping(ctx context.Context) error {
	if c.closed() {
		if err := c.Err(); err != nil {
			return err
		}
		return ErrConnClosed
	}
	return ctx.Err()
}

func (c *loopbackConn) Close() error {
	c.bus.remove(c)
	c.end(nil)
	return nil
}
