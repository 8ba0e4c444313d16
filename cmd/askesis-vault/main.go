// Command askesis-vault is the dumb encrypted blob store fronting
// sync: a Redis-backed record-per-key-hash HTTP API with no knowledge
// of what it stores. Wiring follows the teacher's main.go (config →
// logger → Redis → router → HTTP server → signal-driven graceful
// shutdown).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tecnocratoshi/askesis/config"
	"github.com/tecnocratoshi/askesis/logger"
	"github.com/tecnocratoshi/askesis/server"
	"github.com/tecnocratoshi/askesis/serverstore"
)

func main() {
	cfg := config.LoadVaultConfig()
	log := logger.New(cfg.Env, cfg.LogLevel)

	log.Info().Str("env", cfg.Env).Msg("askesis-vault starting")

	store, err := serverstore.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("redis ping failed at startup — continuing, /ready will report unhealthy")
	}
	cancel()

	routerCfg := server.Config{
		RateLimitRPM:   cfg.RateLimitRPM,
		RateLimitBurst: cfg.RateLimitBurst,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	handler := server.NewRouter(routerCfg, store, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("askesis-vault listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("askesis-vault stopped gracefully")
	}
}
