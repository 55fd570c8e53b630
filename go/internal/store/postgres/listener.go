package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/store"
)

// ListenerConfig tunes the pq.Listener behind each subscription.
type ListenerConfig struct {
	DatabaseURL          string        `yaml:"database_url"`
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		FetchTimeout:         5 * time.Second,
	}
}

// ChannelName is the NOTIFY channel the schema triggers publish a room's
// changes on.
func ChannelName(roomID uuid.UUID) string {
	return "room_changes_" + strings.ReplaceAll(roomID.String(), "-", "")
}

// notification is the trigger payload. Rows are fetched by id afterwards so
// the payload stays far below the NOTIFY size limit.
type notification struct {
	Table  store.Table `json:"table"`
	Op     store.Op    `json:"op"`
	ID     uuid.UUID   `json:"id"`
	RoomID uuid.UUID   `json:"room_id"`
}

// Subscribe opens a dedicated LISTEN connection for one room. A dropped
// connection ends the subscription instead of silently reconnecting, so the
// caller resynchronizes from a snapshot.
func (s *Store) Subscribe(ctx context.Context, roomID uuid.UUID) (store.Subscription, error) {
	cfg := s.listenerCfg
	channel := ChannelName(roomID)

	sub := &subscription{
		store:   s,
		roomID:  roomID,
		changes: make(chan store.Change, 64),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
				if err != nil {
					log.Warn().Err(err).Str("room_id", roomID.String()).Msg("listener connection lost")
				}
				sub.end(fmt.Errorf("%w: %v", store.ErrSubscriptionClosed, err))
			}
		},
	)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("%w: listen %s: %v", store.ErrUnavailable, channel, err)
	}
	sub.listener = l

	log.Info().
		Str("channel", channel).
		Msg("listening for room changes")

	go sub.run(cfg.FetchTimeout)
	return sub, nil
}

type subscription struct {
	store    *Store
	roomID   uuid.UUID
	listener *pq.Listener
	changes  chan store.Change
	done     chan struct{}
	stop     chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) Changes() <-chan store.Change { return s.changes }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Ping(ctx context.Context) error {
	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return store.ErrSubscriptionClosed
	default:
	}
	if err := s.listener.Ping(); err != nil {
		return fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}
	return ctx.Err()
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

func (s *subscription) end(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *subscription) run(fetchTimeout time.Duration) {
	defer func() {
		if err := s.listener.Close(); err != nil {
			log.Debug().Err(err).Msg("listener close")
		}
		close(s.done)
	}()

	for {
		select {
		case <-s.stop:
			return
		case note, ok := <-s.listener.Notify:
			if !ok {
				s.end(store.ErrSubscriptionClosed)
				return
			}
			if note == nil {
				// nil notification means the connection was re-established and
				// events may have been missed
				s.end(fmt.Errorf("%w: notifications missed during reconnect", store.ErrSubscriptionClosed))
				return
			}
			change, ok, err := s.handleNotification(note.Extra, fetchTimeout)
			if err != nil {
				s.end(fmt.Errorf("%w: %v", store.ErrSubscriptionClosed, err))
				return
			}
			if !ok {
				continue
			}
			select {
			case s.changes <- change:
			case <-s.stop:
				return
			}
		}
	}
}

// handleNotification turns a trigger payload into a change. A row that can
// not be fetched for any reason other than being gone already ends the
// subscription, since skipping it would leave the caller diverged.
func (s *subscription) handleNotification(extra string, fetchTimeout time.Duration) (store.Change, bool, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		log.Error().Err(err).Str("payload", extra).Msg("invalid change notification")
		return store.Change{}, false, nil
	}
	change := store.Change{Table: n.Table, Op: n.Op, ID: n.ID, RoomID: n.RoomID}
	if n.Op == store.OpDelete {
		return change, true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	row, err := s.store.fetchRow(ctx, n.Table, n.ID)
	if err != nil {
		// row deleted again before it could be read, a later DELETE covers it
		if errors.Is(err, store.ErrNotFound) {
			return store.Change{}, false, nil
		}
		log.Error().Err(err).Str("id", n.ID.String()).Msg("failed to fetch changed row")
		return store.Change{}, false, err
	}
	change.Row = row
	return change, true, nil
}
