package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/sqlutil"
)

// Catalog serves song pools from the song_catalog table.
type Catalog struct {
	store *Store

	mu  sync.Mutex
	rnd songpool.Shuffler
}

var _ songpool.Provider = (*Catalog)(nil)

func NewCatalog(s *Store, rnd songpool.Shuffler) *Catalog {
	return &Catalog{store: s, rnd: rnd}
}

func (c *Catalog) Pool(ctx context.Context, mode models.GameMode, settings map[string]string) ([]models.Song, error) {
	rows, err := c.store.pool.Query(ctx, `
		SELECT id, title, artist, album, year, genre, preview_url, color
		FROM song_catalog
		ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list catalog", err)
	}
	songs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Song])
	if err != nil {
		return nil, wrapErr("list catalog", err)
	}

	songs = songpool.Filter(songs, settings)
	if len(songs) == 0 {
		return nil, songpool.ErrEmptyPool
	}

	c.mu.Lock()
	songs = songpool.Shuffle(songs, c.rnd)
	c.mu.Unlock()

	log.Debug().
		Str("mode", string(mode)).
		Int("songs", len(songs)).
		Msg("song pool loaded from catalog table")
	return songs, nil
}

// SeedCatalog upserts every catalog song in one transaction.
func (s *Store) SeedCatalog(ctx context.Context, catalog songpool.Catalog) (int, error) {
	err := sqlutil.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, song := range catalog.Songs {
			_, err := tx.Exec(ctx, `
				INSERT INTO song_catalog (id, title, artist, album, year, genre, preview_url, color)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					title = EXCLUDED.title,
					artist = EXCLUDED.artist,
					album = EXCLUDED.album,
					year = EXCLUDED.year,
					genre = EXCLUDED.genre,
					preview_url = EXCLUDED.preview_url,
					color = EXCLUDED.color`,
				song.ID, song.Title, song.Artist, song.Album, song.Year, song.Genre, song.PreviewURL, song.Color,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert song %s: %w", song.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("seed catalog", err)
	}
	return len(catalog.Songs), nil
}
