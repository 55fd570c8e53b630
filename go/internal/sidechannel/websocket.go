package sidechannel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsReceiveBuffer = 64

// WebSocketTransport connects to the relay hub at url?room_id=<roomID>.
type WebSocketTransport struct {
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

var _ Transport = (*WebSocketTransport)(nil)

func NewWebSocketTransport(relayURL string) *WebSocketTransport {
	return &WebSocketTransport{
		url: relayURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		writeTimeout: 10 * time.Second,
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context, roomID string) (Conn, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("room_id", roomID)
	u.RawQuery = q.Encode()

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &wsConn{
		lifecycle:    newLifecycle(),
		ws:           ws,
		recv:         make(chan []byte, wsReceiveBuffer),
		writeTimeout: t.writeTimeout,
	}
	go c.readPump()

	log.Debug().Str("room_id", roomID).Str("relay", t.url).Msg("relay side channel connected")
	return c, nil
}

type wsConn struct {
	*lifecycle
	ws           *websocket.Conn
	recv         chan []byte
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func (c *wsConn) readPump() {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("relay connection closed unexpectedly")
			}
			c.end(fmt.Errorf("%w: %v", ErrConnClosed, err))
			_ = c.ws.Close()
			return
		}
		select {
		case c.recv <- message:
		default:
			log.Debug().Msg("receive buffer full, dropping frame")
		}
	}
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return ErrConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() <-chan []byte { return c.recv }

func (c *wsConn) Ping(ctx context.Context) error {
	if c.closed() {
		return ErrConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("ping relay: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	if !c.end(nil) {
		return nil
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
