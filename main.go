package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/assets"
	"github.com/robalobadob/gridbattle/internal/config"
	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/httpserver"
	"github.com/robalobadob/gridbattle/internal/hub"
	"github.com/robalobadob/gridbattle/internal/sandbox"
	"github.com/robalobadob/gridbattle/internal/scheduler"
	"github.com/robalobadob/gridbattle/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, closeReg := openRegistry(cfg)
	defer closeReg()

	eng := game.New(cfg.EngineOptions(assets.StarterProgram()), reg)
	if err := eng.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore participants")
	}

	h := hub.New(eng, hub.AllowOrigins(cfg.ClientOrigin))
	eng.AddSink(h)

	sched, err := scheduler.New(eng, sandbox.New(cfg.TurnTimeout), cfg.Scheduler())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build scheduler")
	}
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler exited")
		}
	}()

	srv := httpserver.New(eng, h, httpserver.Settings{
		JWTSecret:      cfg.JWTSecret,
		JWTExpiresDays: cfg.JWTExpiresDays,
		ClientOrigin:   cfg.ClientOrigin,
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("port", cfg.Port).
		Int("maxParticipants", cfg.MaxParticipants()).
		Dur("turnTimeout", cfg.TurnTimeout).
		Msg("starting gridbattle server")
	if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// openRegistry returns the participant registry: SQLite when DB_PATH is set,
// memory otherwise.
func openRegistry(cfg config.Config) (store.Store, func()) {
	if cfg.DBPath == "" {
		log.Info().Msg("using in-memory participant registry")
		return store.NewMemoryStore(), func() {}
	}
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	return db, func() { _ = db.Close() }
}
