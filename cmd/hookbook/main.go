package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "hookbook",
		Short:        "AMM limit-order escrow engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a validated task stream against the engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("tasks", "", "input tasks JSONL path")
	replayCmd.Flags().String("pools", "", "pool definitions JSON path")
	replayCmd.Flags().String("genesis", "", "balance seed JSON path")
	replayCmd.Flags().String("escrow-custody", "", "escrow custody account (hex address)")
	replayCmd.Flags().String("ladder-custody", "", "ladder custody account (hex address)")
	replayCmd.Flags().String("events-out", "./data/events.jsonl", "output events JSONL path")
	replayCmd.Flags().String("results-out", "./data/results.jsonl", "output task results JSONL path")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for the task journal")
	replayCmd.Flags().String("state-name", "replay", "Postgres state row name")
	replayCmd.Flags().Int("batch-size", 100, "tasks per journal batch")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive an order book and swap stream through a simulated pool",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("rpc", "", "RPC URL for live pool state (optional)")
	simulateCmd.Flags().String("pool", "", "live pool address (requires --rpc)")
	simulateCmd.Flags().String("hook", "", "hook address for the pool key")
	simulateCmd.Flags().String("token0", "", "token0 address (when no --rpc)")
	simulateCmd.Flags().String("token1", "", "token1 address (when no --rpc)")
	simulateCmd.Flags().Uint32("fee", 3000, "pool fee tier")
	simulateCmd.Flags().Int32("tick-spacing", 60, "pool tick spacing")
	simulateCmd.Flags().Int32("tick", 0, "initial pool tick (when no --rpc)")
	simulateCmd.Flags().Int64("price-num", 1, "pool price numerator")
	simulateCmd.Flags().Int64("price-den", 1, "pool price denominator")
	simulateCmd.Flags().String("book", "", "resting orders JSONL path")
	simulateCmd.Flags().String("swaps", "", "swap stream JSONL path")
	simulateCmd.Flags().String("events-out", "./data/sim_events.jsonl", "output events JSONL path")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
