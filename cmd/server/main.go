package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/wandao/meeting-signal/internal/adapters/http"
	signalws "github.com/wandao/meeting-signal/internal/adapters/signal"
	"github.com/wandao/meeting-signal/internal/auth"
	"github.com/wandao/meeting-signal/internal/config"
	"github.com/wandao/meeting-signal/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	registry := core.NewRegistry()
	store := core.NewStore()
	verifier := auth.NewVerifier(cfg.JWTKey)
	relay := core.NewRelay(core.RelayConfig{
		UserAuth:           cfg.UserAuth,
		HostProtected:      cfg.HostProtected,
		Users:              cfg.Users,
		PresenterAllowList: cfg.Presenters,
		ICEServers:         cfg.WebRTCICEServers(),
	}, registry, store, verifier)

	ctl := signalws.NewController(relay, registry, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, relay, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
