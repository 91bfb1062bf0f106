package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	appName = "stockrun"
	version = "v0.3.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Support/resistance signal engine",
		Version: version,
		Long: `stockrun analyzes historical price bars, detects support and
resistance levels, confirms them against technical indicators and emits
confidence-scored trading signals.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Override configured log level (trace|debug|info|warn|error)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Analyze one symbol and print the full breakdown",
		Long:  "Fetches bars, computes indicators and levels, and prints any emitted signal with its confidence breakdown",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	addDataFlags(analyzeCmd.Flags())

	signalsCmd := &cobra.Command{
		Use:   "signals [symbol...]",
		Short: "Scan symbols and print filtered signals",
		Long:  "Scans the configured universe (or the given symbols), pools the emitted signals and runs the filter pipeline",
		RunE:  runSignals,
	}
	addDataFlags(signalsCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves /analyze/{symbol}, /signals, /health and /metrics until interrupted",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	paperCmd := &cobra.Command{
		Use:   "paper [symbol...]",
		Short: "Paper-trade one scan's signals",
		Long:  "Scans the universe, executes the filtered signals against a simulated portfolio and prints the resulting ledger",
		RunE:  runPaper,
	}
	addDataFlags(paperCmd.Flags())

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the periodic scan loop",
		Long:  "Scans the configured universe on every interval while the market is open, logging filtered signals",
		RunE:  runSchedule,
	}

	rootCmd.AddCommand(analyzeCmd, signalsCmd, paperCmd, serveCmd, scheduleCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addDataFlags(fs *pflag.FlagSet) {
	fs.String("interval", "", "Bar interval (overrides data.interval)")
	fs.Int("limit", 0, "Bar count (overrides data.bar_limit)")
}
