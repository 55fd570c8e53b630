package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/config"
	"github.com/mcdev12/hitster/go/internal/dbconfig"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store"
	"github.com/mcdev12/hitster/go/internal/store/postgres"
)

// setupStore opens the configured backend. With postgres the song pool is
// read from the seeded catalog table; the memory backend uses the YAML
// catalog directly.
func setupStore(ctx context.Context, cfg config.Config, rnd *rand.Rand) (store.Store, songpool.Provider, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		catalog, err := songpool.LoadCatalog(cfg.Songs.CatalogPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load song catalog: %w", err)
		}
		log.Warn().Msg("using in-memory store; rooms are visible to this process only")
		return store.NewMemory(nil), songpool.NewCatalogProvider(catalog, rnd), func() {}, nil

	case config.StorePostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		st, err := postgres.New(ctx, dbCfg.DSN(), postgres.DefaultListenerConfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info().
			Str("host", dbCfg.Host).
			Str("database", dbCfg.Database).
			Msg("connected to database")
		return st, postgres.NewCatalog(st, rnd), st.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
