package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"dentalclinic/internal/app"
	"dentalclinic/internal/config"
	"dentalclinic/internal/modules/payment"
	"dentalclinic/internal/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep pass and exit")
	interval := flag.Duration("interval", time.Minute, "time between sweep passes")
	timeout := flag.Duration("timeout", 50*time.Second, "deadline for one sweep pass")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Pretty: true})
		fallback.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: !cfg.IsProdLike()}).
		With().Str("service", "payment_sweeper").Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	log.Info().Dur("interval", *interval).Bool("once", *once).Msg("payment sweeper starting")

	runOnce(rootCtx, a.Sweeper, *timeout, log)
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Sweeper, *timeout, log)
		}
	}
}

func runOnce(ctx context.Context, w *payment.Sweeper, timeout time.Duration, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rep, err := w.RunOnce(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("sweep run had failures")
	}
	log.Info().
		Int("payments_settled", rep.PaymentsSettled).
		Int("payments_expired", rep.PaymentsExpired).
		Int("holds_expired", rep.HoldsExpired).
		Int("appointments_completed", rep.AppointmentsFinished).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
