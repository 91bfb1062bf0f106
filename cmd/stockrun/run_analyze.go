package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	analysis, err := app.engine.Analyze(ctx, args[0])
	if err != nil {
		return err
	}

	renderSnapshot(analysis.Symbol, analysis.Result.Snapshot)
	renderLevels(analysis.Result.Levels)
	renderSignal(analysis.Result.Signal, analysis.Result.Breakdown)
	return nil
}
