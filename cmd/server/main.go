package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VoiceMesh/internal/adapters/http"
	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the global logger early so config loading can use it.
	logging.Init("info")

	cfg, err := config.LoadAndWatch(func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetLevel(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay := app.NewRelay(
		core.NewRoster(),
		app.NewRegistry(),
		app.PolicyByName(cfg.Policy),
		app.NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
		app.NewMetrics(reg),
	)
	go relay.Run(ctx)

	r := router.SetupRouter(ctx, cfg, relay, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("policy", cfg.Policy).Msg("VoiceMesh relay started")
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
