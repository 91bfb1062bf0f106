package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func runSignals(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	symbols := app.cfg.Scheduler.Symbols
	if len(args) > 0 {
		symbols = make([]string, len(args))
		for i, a := range args {
			symbols[i] = strings.ToUpper(a)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given and none configured")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	res, err := app.engine.Scan(ctx, symbols)
	if err != nil {
		return err
	}
	renderScan(res)
	return nil
}
