// Package postgres implements the durable store on Postgres: pgx for reads
// and writes, LISTEN/NOTIFY for the per-room change feed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/sqlutil"
	"github.com/mcdev12/hitster/go/internal/store"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// Store is the Postgres-backed store.Store.
type Store struct {
	pool        *pgxpool.Pool
	listenerCfg ListenerConfig
}

var _ store.Store = (*Store)(nil)

// New connects a pgx pool to dsn. The listener config's DatabaseURL defaults
// to dsn.
func New(ctx context.Context, dsn string, cfg ListenerConfig) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = dsn
	}
	return &Store{pool: pool, listenerCfg: cfg}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates tables, indexes and change-notification triggers.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("schema applied")
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	settings, err := sqlutil.ToJSON(room.GameModeSettings)
	if err != nil {
		return nil, err
	}
	songs, err := sqlutil.ToJSON(room.Songs)
	if err != nil {
		return nil, err
	}
	current, err := sqlutil.ToJSON(room.CurrentSong)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO rooms (
				id, lobby_code, host_id, host_name, phase, gamemode, gamemode_settings,
				songs, current_turn, current_song, current_player_id, generation, previous_room_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING *
		)
		SELECT row_to_json(ins) FROM ins`,
		room.ID, room.LobbyCode, room.HostID, room.HostName, string(room.Phase), string(room.GameMode),
		settings, songs, sqlutil.NullInt(room.CurrentTurn), current,
		sqlutil.NullUUID(room.CurrentPlayerID), room.Generation, sqlutil.NullUUID(room.PreviousRoomID),
	)
	return scanRoom(row, "create room")
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT row_to_json(r) FROM rooms r WHERE r.id = $1`, id)
	return scanRoom(row, "get room")
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT row_to_json(r) FROM rooms r WHERE r.lobby_code = $1`, code)
	return scanRoom(row, "get room by code")
}

func (s *Store) UpdateRoom(ctx context.Context, id uuid.UUID, patch models.RoomPatch) (*models.Room, error) {
	u := newUpdate()
	if patch.Phase != nil {
		u.set("phase", string(*patch.Phase))
	}
	if patch.GameMode != nil {
		u.set("gamemode", string(*patch.GameMode))
	}
	if patch.GameModeSettings != nil {
		if err := u.setJSON("gamemode_settings", patch.GameModeSettings); err != nil {
			return nil, err
		}
	}
	if patch.Songs != nil {
		if err := u.setJSON("songs", patch.Songs); err != nil {
			return nil, err
		}
	}
	switch {
	case patch.ClearCurrentTurn:
		u.setNull("current_turn")
	case patch.CurrentTurn != nil:
		u.set("current_turn", *patch.CurrentTurn)
	}
	switch {
	case patch.ClearCurrentSong:
		u.setNull("current_song")
	case patch.CurrentSong != nil:
		if err := u.setJSON("current_song", patch.CurrentSong); err != nil {
			return nil, err
		}
	}
	switch {
	case patch.ClearCurrentPlayer:
		u.setNull("current_player_id")
	case patch.CurrentPlayerID != nil:
		u.set("current_player_id", *patch.CurrentPlayerID)
	}
	u.sets = append(u.sets, "updated_at = now()")

	u.args = append(u.args, id)
	query := fmt.Sprintf(`
		WITH upd AS (
			UPDATE rooms SET %s WHERE id = $%d RETURNING *
		)
		SELECT row_to_json(upd) FROM upd`, strings.Join(u.sets, ", "), len(u.args))

	return scanRoom(s.pool.QueryRow(ctx, query, u.args...), "update room")
}

func (s *Store) CreatePlayer(ctx context.Context, player models.Player) (*models.Player, error) {
	if player.ID == uuid.Nil {
		player.ID = uuid.New()
	}
	timeline, err := sqlutil.ToJSON(player.Timeline)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO players (
				id, room_id, session_id, name, color, timeline_color, score, timeline, character, is_host
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING *
		)
		SELECT row_to_json(ins) FROM ins`,
		player.ID, player.RoomID, player.SessionID, player.Name, player.Color, player.TimelineColor,
		player.Score, timeline, player.Character, player.IsHost,
	)
	return scanPlayer(row, "create player")
}

func (s *Store) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT row_to_json(p) FROM players p
		WHERE p.room_id = $1
		ORDER BY p.joined_at, p.id`, roomID)
	if err != nil {
		return nil, wrapErr("list players", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("list players", err)
		}
		p, err := store.DecodePlayer(raw)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list players", err)
	}
	return players, nil
}

func (s *Store) UpdatePlayer(ctx context.Context, id uuid.UUID, patch models.PlayerPatch) (*models.Player, error) {
	u := newUpdate()
	if patch.Name != nil {
		u.set("name", *patch.Name)
	}
	if patch.Color != nil {
		u.set("color", *patch.Color)
	}
	if patch.TimelineColor != nil {
		u.set("timeline_color", *patch.TimelineColor)
	}
	if patch.Character != nil {
		u.set("character", *patch.Character)
	}
	if patch.Score != nil {
		u.set("score", *patch.Score)
	}
	if patch.Timeline != nil {
		if err := u.setJSON("timeline", patch.Timeline); err != nil {
			return nil, err
		}
	}
	if len(u.sets) == 0 {
		row := s.pool.QueryRow(ctx, `SELECT row_to_json(p) FROM players p WHERE p.id = $1`, id)
		return scanPlayer(row, "get player")
	}

	u.args = append(u.args, id)
	query := fmt.Sprintf(`
		WITH upd AS (
			UPDATE players SET %s WHERE id = $%d RETURNING *
		)
		SELECT row_to_json(upd) FROM upd`, strings.Join(u.sets, ", "), len(u.args))

	return scanPlayer(s.pool.QueryRow(ctx, query, u.args...), "update player")
}

func (s *Store) DeletePlayer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete player", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: player %s", store.ErrNotFound, id)
	}
	return nil
}

// fetchRow reads one row as JSON for the change feed.
func (s *Store) fetchRow(ctx context.Context, table store.Table, id uuid.UUID) ([]byte, error) {
	var query string
	switch table {
	case store.TableRooms:
		query = `SELECT row_to_json(r) FROM rooms r WHERE r.id = $1`
	case store.TablePlayers:
		query = `SELECT row_to_json(p) FROM players p WHERE p.id = $1`
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		return nil, wrapErr("fetch changed row", err)
	}
	return raw, nil
}

type update struct {
	sets []string
	args []any
}

func newUpdate() *update {
	return &update{}
}

func (u *update) set(column string, value any) {
	u.args = append(u.args, value)
	u.sets = append(u.sets, fmt.Sprintf("%s = $%d", column, len(u.args)))
}

func (u *update) setNull(column string) {
	u.sets = append(u.sets, column+" = NULL")
}

func (u *update) setJSON(column string, value any) error {
	v, err := sqlutil.ToJSON(value)
	if err != nil {
		return err
	}
	u.set(column, v)
	return nil
}

func scanRoom(row pgx.Row, op string) (*models.Room, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, wrapErr(op, err)
	}
	room, err := store.DecodeRoom(raw)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func scanPlayer(row pgx.Row, op string) (*models.Player, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, wrapErr(op, err)
	}
	player, err := store.DecodePlayer(raw)
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// wrapErr maps driver errors onto the store error taxonomy.
func wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", store.ErrNotFound, op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s: %s", store.ErrConflict, op, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}
