// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up
package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"classpresence/internal/config"
	"classpresence/internal/logging"
	"classpresence/internal/store"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, true)

	if err := store.Migrate(cfg.DatabaseURL, *direction); err != nil {
		log.Fatal().Err(err).Str("direction", *direction).Msg("migrate failed")
	}
	log.Info().Str("direction", *direction).Msg("migrations applied")
}
