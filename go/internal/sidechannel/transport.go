package sidechannel

import (
	"context"
	"errors"
	"sync"
)

// ErrConnClosed is reported by a connection closed locally or by the peer.
var ErrConnClosed = errors.New("sidechannel: connection closed")

// Transport opens room-scoped connections to a broadcast medium.
type Transport interface {
	Connect(ctx context.Context, roomID string) (Conn, error)
}

// Conn is one room connection. Frames sent are delivered to every
// connection in the room, possibly including the sender.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive() <-chan []byte
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err reports why the connection ended. Nil after a local Close.
	Err() error
	// Ping verifies the connection without side effects on the room.
	Ping(ctx context.Context) error
	Close() error
}

// lifecycle tracks the end of a connection and why it ended.
type lifecycle struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// end records err and closes done. Only the first call has any effect.
func (l *lifecycle) end(err error) bool {
	ended := false
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		ended = true
	})
	return ended
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *lifecycle) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
