package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/logging"
	"github.com/dkeye/Huddle/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the config says otherwise.
	logging.Setup("debug", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config, using defaults")
		cfg = config.Default()
	}
	logging.Setup(cfg.Mode, cfg.LogLevel)

	m := metrics.New()
	relay := app.NewRelay(app.PolicyByName(cfg.Backpressure), m)
	reg := app.NewRegistry(relay, m)
	relay.SetMembers(reg)
	ctl := app.NewControl(reg, relay)

	r := router.SetupRouter(ctx, cfg, router.Server{Registry: reg, Relay: relay, Control: ctl, Metrics: m})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
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
