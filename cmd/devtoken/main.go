// devtoken prints a signed actor token for local testing:
//
//	go run ./cmd/devtoken -id lect-1 -role LECTURER -org org-1
package main

import (
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"

	"classpresence/internal/auth"
	"classpresence/internal/config"
	"classpresence/internal/logging"
)

func main() {
	id := flag.String("id", "", "actor id")
	role := flag.String("role", "STUDENT", "STUDENT, LECTURER or ADMIN")
	org := flag.String("org", "", "organisation id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, true)
	if cfg.IsProduction() {
		log.Fatal().Msg("devtoken refuses to sign tokens in production")
	}

	r, ok := auth.ParseRole(*role)
	if !ok {
		log.Fatal().Str("role", *role).Msg("unknown role")
	}
	tok, exp, err := auth.Issue(auth.Actor{ID: *id, Role: r, OrgID: *org}, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("issue token")
	}
	log.Info().Time("expires_at", exp).Msg("token issued")
	fmt.Println(tok)
}
