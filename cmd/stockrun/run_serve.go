package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stockrun/stockrun/internal/httpapi"
)

func runServe(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(app.cfg.Server.Addr, app.engine, httpapi.Options{
		Symbols:  app.cfg.Scheduler.Symbols,
		Provider: app.cfg.Data.Provider,
		BreakerState: func() string {
			return strings.ToLower(app.guard.BreakerState().String())
		},
		Metrics: app.registry.Handler(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := server.Start(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
