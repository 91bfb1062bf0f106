package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stockrun/stockrun/internal/confidence"
	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/engine"
	"github.com/stockrun/stockrun/internal/filter"
	"github.com/stockrun/stockrun/internal/indicators"
	"github.com/stockrun/stockrun/internal/levels"
)

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func renderSnapshot(symbol string, s *indicators.Snapshot) {
	t := newTable(symbol + " indicators")
	t.AppendHeader(table.Row{"Indicator", "Value", "State"})
	t.AppendRows([]table.Row{
		{"Price", fmt.Sprintf("%.4f", s.Price), ""},
		{"RSI", fmt.Sprintf("%.1f", s.RSI.Value), rsiState(s.RSI)},
		{"MACD", fmt.Sprintf("%.4f / %.4f", s.MACD.MACD, s.MACD.Signal),
			fmt.Sprintf("%s, %s zone", s.MACD.Cross, s.MACD.Zone)},
		{"ATR", fmt.Sprintf("%.4f (%.2f%%)", s.ATR.Value, s.ATR.Percent),
			fmt.Sprintf("%s regime, %s", s.ATR.Regime, s.ATR.Trend)},
		{"SMA20 / SMA50", fmt.Sprintf("%.4f / %.4f", s.MovingAverages.SMA20, s.MovingAverages.SMA50),
			fmt.Sprintf("price %s SMA20", s.PricePosition.VsSMA20)},
	})
	t.Render()
}

func rsiState(r indicators.RSIState) string {
	switch {
	case r.Oversold:
		return "oversold"
	case r.Overbought:
		return "overbought"
	}
	return "neutral"
}

func renderLevels(a *levels.Analysis) {
	t := newTable(fmt.Sprintf("levels (position: %s)", a.Position.Label))
	t.AppendHeader(table.Row{"Kind", "Price", "Touches", "Rating", "Range"})
	for _, lv := range a.Resistance {
		t.AppendRow(levelRow(lv))
	}
	for _, lv := range a.Support {
		t.AppendRow(levelRow(lv))
	}
	t.Render()
}

func levelRow(lv levels.PriceLevel) table.Row {
	return table.Row{
		lv.Kind,
		fmt.Sprintf("%.4f", lv.Price),
		lv.TouchCount,
		lv.Rating,
		fmt.Sprintf("%.4f - %.4f", lv.RangeMin, lv.RangeMax),
	}
}

func renderSignal(sig *domain.TradingSignal, bd *confidence.Breakdown) {
	if sig == nil {
		fmt.Println("no signal")
		return
	}

	t := newTable("signal")
	t.AppendRows([]table.Row{
		{"Symbol", sig.Symbol},
		{"Side", sig.Side},
		{"Action", sig.Action},
		{"Price", fmt.Sprintf("%.4f", sig.Price)},
		{"Confidence", fmt.Sprintf("%.2f", sig.Confidence)},
		{"Position size", fmt.Sprintf("%.2f", sig.PositionSize)},
		{"Reason", sig.Reason},
	})
	if sig.StopLoss != nil {
		t.AppendRow(table.Row{"Stop loss", fmt.Sprintf("%.4f", *sig.StopLoss)})
	}
	if sig.TakeProfit != nil {
		t.AppendRow(table.Row{"Take profit", fmt.Sprintf("%.4f", *sig.TakeProfit)})
	}
	if rr, ok := sig.RiskReward(); ok {
		t.AppendRow(table.Row{"Risk/reward", fmt.Sprintf("%.2f", rr)})
	}
	t.Render()

	if bd != nil {
		renderBreakdown(bd)
	}
}

func renderBreakdown(bd *confidence.Breakdown) {
	t := newTable("confidence breakdown")
	t.AppendHeader(table.Row{"Component", "Score", "Weight"})
	t.AppendRows([]table.Row{
		{"Technical indicators", fmt.Sprintf("%.2f", bd.Components.Technical), fmt.Sprintf("%.2f", bd.Weights.Technical)},
		{"Support/resistance", fmt.Sprintf("%.2f", bd.Components.LevelQuality), fmt.Sprintf("%.2f", bd.Weights.LevelQuality)},
		{"Market environment", fmt.Sprintf("%.2f", bd.Components.Market), fmt.Sprintf("%.2f", bd.Weights.Market)},
		{"Risk/reward", fmt.Sprintf("%.2f", bd.Components.RiskReward), fmt.Sprintf("%.2f", bd.Weights.RiskReward)},
		{"Volume", fmt.Sprintf("%.2f", bd.Components.Volume), fmt.Sprintf("%.2f", bd.Weights.Volume)},
	})
	t.AppendFooter(table.Row{"Overall", fmt.Sprintf("%.2f (%s)", bd.Overall, bd.Tier), bd.Recommendation})
	t.Render()
}

func renderScan(res *engine.ScanResult) {
	t := newTable("signals")
	t.AppendHeader(table.Row{"Symbol", "Side", "Price", "Confidence", "Stop", "Target", "Size", "Reason"})
	for _, sig := range res.Signals {
		stop, target := "-", "-"
		if sig.StopLoss != nil {
			stop = fmt.Sprintf("%.4f", *sig.StopLoss)
		}
		if sig.TakeProfit != nil {
			target = fmt.Sprintf("%.4f", *sig.TakeProfit)
		}
		t.AppendRow(table.Row{
			sig.Symbol, sig.Side, fmt.Sprintf("%.4f", sig.Price),
			fmt.Sprintf("%.2f", sig.Confidence), stop, target,
			fmt.Sprintf("%.2f", sig.PositionSize), sig.Reason,
		})
	}
	t.Render()

	if res.Report != nil {
		renderReport(res.Report)
	}
	for symbol, msg := range res.Errors {
		fmt.Printf("error %s: %s\n", symbol, msg)
	}
}

func renderReport(r *filter.Report) {
	t := newTable(fmt.Sprintf("filter: %d in, %d out", r.Input, r.Output))
	t.AppendHeader(table.Row{"Stage", "Removed"})
	for _, stage := range r.Stages {
		if stage.Removed > 0 {
			t.AppendRow(table.Row{stage.Name, stage.Removed})
		}
	}
	t.Render()

	for _, rec := range r.Recommendations {
		fmt.Println("hint:", rec)
	}
}
