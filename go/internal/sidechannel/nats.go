package sidechannel

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsReceiveBuffer = 64

// NATSTransport broadcasts over core NATS subjects <prefix>.<roomID>. Core
// NATS is at-most-once, which is all the side channel promises.
type NATSTransport struct {
	url         string
	prefix      string
	connectWait time.Duration
}

var _ Transport = (*NATSTransport)(nil)

func NewNATSTransport(url, subjectPrefix string) *NATSTransport {
	return &NATSTransport{url: url, prefix: subjectPrefix, connectWait: 5 * time.Second}
}

// Subject returns the subject a room is broadcast on.
func (t *NATSTransport) Subject(roomID string) string {
	return t.prefix + "." + roomID
}

// Connect opens a dedicated NATS connection for the room. The client's own
// reconnect logic is disabled; the broadcaster's retry manager owns it.
func (t *NATSTransport) Connect(ctx context.Context, roomID string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := t.Subject(roomID)
	c := &natsConn{
		lifecycle: newLifecycle(),
		subject:   subject,
		recv:      make(chan []byte, natsReceiveBuffer),
	}

	opts := []nats.Option{
		nats.Name("hitster-side-channel"),
		nats.NoReconnect(),
		nats.Timeout(t.connectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("NATS disconnected")
				c.end(fmt.Errorf("nats disconnected: %w", err))
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.end(nil)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(t.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case c.recv <- m.Data:
		default:
			log.Debug().Str("subject", subject).Msg("receive buffer full, dropping frame")
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	c.nc = nc
	c.sub = sub
	log.Debug().Str("subject", subject).Msg("NATS side channel connected")
	return c, nil
}

type natsConn struct {
	*lifecycle
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	recv    chan []byte
}

func (c *natsConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return ErrConnClosed
	}
	if err := c.nc.Publish(c.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.subject, err)
	}
	return nil
}

func (c *natsConn) Receive() <-chan []byte { return c.recv }

// Ping round-trips to the server.
func (c *natsConn) Ping(ctx context.Context) error {
	if c.closed() || !c.nc.IsConnected() {
		return ErrConnClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *natsConn) Close() error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.nc.Close()
	c.end(nil)
	return nil
}
