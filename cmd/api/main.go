package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dentalclinic/internal/app"
	"dentalclinic/internal/config"
	"dentalclinic/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepTimeout    = 50 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Pretty: true})
		fallback.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: !cfg.IsProdLike()})
	if cfg.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	var scheduler *cron.Cron
	if cfg.SweepInProcess {
		scheduler, err = startSweep(ctx, a, cfg.SweepSchedule, log)
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("invalid sweep schedule")
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("sweep still running at shutdown")
		}
	}
}

// startSweep runs the reconciliation sweep on schedule. Overlapping runs are
// skipped rather than queued.
func startSweep(ctx context.Context, a *app.App, schedule string, log zerolog.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.With().Str("component", "cron").Logger()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := a.Sweeper.RunOnce(runCtx); err != nil {
			log.Error().Err(err).Msg("sweep pass had failures")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Info().Str("schedule", schedule).Msg("in-process sweep scheduled")
	return c, nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
