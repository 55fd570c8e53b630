package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/hitster/go/internal/config"
	"github.com/mcdev12/hitster/go/internal/dbconfig"
	"github.com/mcdev12/hitster/go/internal/logging"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store/postgres"
)

func main() {
	seed := flag.Bool("seed", true, "upsert the song catalog after migrating")
	flag.Parse()

	logging.Setup("hitster-migrate")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	st, err := postgres.New(ctx, dbCfg.DSN(), postgres.DefaultListenerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("host", dbCfg.Host).
		Msg("applying schema")

	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if !*seed {
		return
	}

	catalog, err := songpool.LoadCatalog(cfg.Songs.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load song catalog")
	}
	n, err := st.SeedCatalog(ctx, catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed song catalog")
	}
	log.Info().Int("songs", n).Msg("song catalog seeded")
}
