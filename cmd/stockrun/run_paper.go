package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/portfolio"
	"github.com/stockrun/stockrun/internal/risk"
)

// runPaper scans the universe once and paper-trades the filtered
// signals against a simulated ledger.
func runPaper(cmd *cobra.Command, args []string) error {
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

	manager, err := risk.NewManager(app.cfg.Risk)
	if err != nil {
		return err
	}
	book, err := openPortfolio(ctx, app)
	if err != nil {
		return err
	}

	res, err := app.engine.Scan(ctx, symbols)
	if err != nil {
		return err
	}

	prices := make(map[string]float64, len(res.Analyses))
	for _, a := range res.Analyses {
		prices[a.Symbol] = a.Result.Snapshot.Price
	}

	for _, sig := range res.Signals {
		if err := executePaper(ctx, book, manager, sig); err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("paper trade skipped")
		}
	}
	book.UpdatePrices(prices)

	renderScan(res)
	renderPortfolio(book.Summary(), book.Trades())
	return nil
}

func executePaper(ctx context.Context, book *portfolio.Portfolio, manager *risk.Manager, sig *domain.TradingSignal) error {
	switch sig.Side {
	case domain.SideBuy:
		stop := manager.StopLoss(sig.Price, sig.Side)
		if sig.StopLoss != nil {
			stop = *sig.StopLoss
		}

		summary := book.Summary()
		notional := manager.PositionSize(summary.TotalValue, sig.Price, stop)
		if err := manager.ValidateTrade(summary.TotalValue, book.Exposure(), notional); err != nil {
			return err
		}

		_, err := book.Buy(ctx, sig.Symbol, notional/sig.Price, sig.Price)
		return err

	case domain.SideSell:
		pos, ok := book.Position(sig.Symbol)
		if !ok {
			return nil
		}
		_, err := book.Sell(ctx, sig.Symbol, pos.Quantity, sig.Price)
		return err
	}
	return nil
}

func openPortfolio(ctx context.Context, app *app) (*portfolio.Portfolio, error) {
	var store portfolio.Store
	if dsn := app.cfg.Portfolio.PostgresDSN; dsn != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := portfolio.NewPostgresStore(db, time.Duration(app.cfg.Portfolio.TimeoutSeconds)*time.Second)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		store = pg
		log.Info().Msg("trade persistence enabled")
	}
	return portfolio.New(app.cfg.Portfolio.InitialCash, store)
}

func renderPortfolio(summary portfolio.Summary, trades []portfolio.Trade) {
	t := newTable("paper trades")
	t.AppendHeader(table.Row{"Symbol", "Side", "Quantity", "Price", "Commission"})
	for _, trade := range trades {
		t.AppendRow(table.Row{
			trade.Symbol, trade.Side,
			fmt.Sprintf("%.6f", trade.Quantity),
			fmt.Sprintf("%.4f", trade.Price),
			fmt.Sprintf("%.4f", trade.Commission),
		})
	}
	t.Render()

	s := newTable("portfolio")
	s.AppendRows([]table.Row{
		{"Cash", fmt.Sprintf("%.2f", summary.Cash)},
		{"Positions value", fmt.Sprintf("%.2f", summary.PositionsValue)},
		{"Total value", fmt.Sprintf("%.2f", summary.TotalValue)},
		{"Unrealized PnL", fmt.Sprintf("%.2f", summary.UnrealizedPnL)},
		{"Realized PnL", fmt.Sprintf("%.2f", summary.RealizedPnL)},
		{"Trades", summary.TradeCount},
	})
	s.Render()
}
