// Command askesisd is the local-first habit tracker daemon: it owns the
// bbolt store, the sync orchestrator, and the action
// controller, keeping them alive for the lifetime of the process so a
// front end can drive them as a library. Wiring and graceful shutdown
// follow the teacher's main.go (config → logger → subsystems →
// background tasks → signal-driven shutdown).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tecnocratoshi/askesis/bootstrap"
	"github.com/tecnocratoshi/askesis/config"
	"github.com/tecnocratoshi/askesis/logger"
)

func main() {
	cfg := config.LoadDaemonConfig()
	log := logger.New(cfg.Env, cfg.LogLevel)

	log.Info().Str("env", cfg.Env).Str("dataDir", cfg.DataDir).Msg("askesis daemon starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Boot(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("boot failed")
	}
	log.Info().Str("status", string(app.Sync.Status())).Msg("askesis daemon ready")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("askesis daemon stopped gracefully")
	}
}
