package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"classpresence/internal/api"
	"classpresence/internal/attendance"
	"classpresence/internal/audit"
	"classpresence/internal/challenge"
	"classpresence/internal/config"
	"classpresence/internal/credential"
	"classpresence/internal/httpmiddleware"
	"classpresence/internal/logging"
	"classpresence/internal/qrport"
	"classpresence/internal/queue"
	"classpresence/internal/session"
	"classpresence/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, !cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, PoolSize: cfg.RedisPoolSize, Timeout: cfg.RedisTimeout})
	defer redisClient.Close()

	auditRepo := audit.NewPostgresRepository(db.Client)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No separate worker can see an in-process queue, so drain it here.
		q = queue.NewInMemory(1024)
		consumeCtx, stopConsumer := context.WithCancel(ctx)
		defer stopConsumer()
		go func() {
			if err := audit.Consume(consumeCtx, q, auditRepo); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("in-process audit consumer stopped")
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	creds := credential.New(cfg.CredentialServiceURL, cfg.CredentialSkip)
	if !cfg.CredentialSkip {
		if err := creds.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("credential service not available; attempts will score as unverified")
		}
	}

	policy, err := attendance.PolicyFrom(cfg.Policy())
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.NewPostgresRepository(db.Client), session.Settings{
		Rotation:   cfg.QRRotation,
		TotalLimit: cfg.TotalSessionLimit,
		Events:     q,
	})
	records := attendance.NewPostgresRepository(db.Client)
	reverifier := attendance.NewReverifier(sessions, records, q)
	handlers := &api.Handlers{
		Sessions:   sessions,
		Verifier:   attendance.NewService(sessions, records, reverifier, creds, policy, q),
		Reverifier: reverifier,
		Challenges: challenge.NewService(sessions),
		Ports:      qrport.NewBroker(sessions, qrport.NewPostgresRepository(db.Client), q),
		Trail:      audit.NewTrail(sessions, auditRepo),
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	r := api.NewRouter(handlers, api.Options{
		SigningKey:  cfg.JWTSigningKey,
		Issuer:      cfg.JWTIssuer,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins(),
		Health: func(ctx context.Context) map[string]bool {
			return map[string]bool{"db": db.Healthy(ctx), "redis": redisClient.Healthy(ctx)}
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
