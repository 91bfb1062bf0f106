package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stockrun/stockrun/internal/scheduler"
)

func runSchedule(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	runner := func(ctx context.Context, symbol string) error {
		res, err := app.engine.Scan(ctx, []string{symbol})
		if err != nil {
			return err
		}
		if msg, ok := res.Errors[symbol]; ok {
			return errors.New(msg)
		}
		for _, sig := range res.Signals {
			log.Info().
				Str("symbol", sig.Symbol).
				Str("side", string(sig.Side)).
				Float64("price", sig.Price).
				Float64("confidence", sig.Confidence).
				Str("reason", sig.Reason).
				Msg("signal")
		}
		return nil
	}

	sched, err := scheduler.New(app.cfg.Scheduler.SchedulerConfig(), runner)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("schedule stopped")
	return nil
}
