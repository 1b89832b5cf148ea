package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lpmanager",
		Short:        "Concentrated liquidity position manager",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview a deposit against a live pool",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("rpc", "", "RPC URL (falls back to RPC_URL)")
	quoteCmd.Flags().String("pool", "", "pool address")
	quoteCmd.Flags().Int32("low", 0, "lower tick (inclusive)")
	quoteCmd.Flags().Int32("high", 0, "upper tick (exclusive)")
	quoteCmd.Flags().String("amount0", "0", "desired token0 amount in base units")
	quoteCmd.Flags().String("amount1", "0", "desired token1 amount in base units")
	quoteCmd.Flags().Uint64("block", 0, "block to read pool state at, 0 means latest")
	quoteCmd.Flags().String("wrapped-native", "", "wrapped native token, defaults to the chain's entry")
	quoteCmd.Flags().String("init-code-hash", "", "pool init code hash, defaults to the canonical factory's")
	quoteCmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	quoteCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a JSONL scenario through the position manager",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("in", "", "input scenario JSONL")
	simulateCmd.Flags().String("out", "./data/operations.jsonl", "output operations JSONL")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for positions and operations")
	simulateCmd.Flags().Uint64("chain-id", 31337, "chain whose wrapped native token is used")
	simulateCmd.Flags().String("manager", "", "address the position manager acts as")
	simulateCmd.Flags().String("factory", "", "simulated factory address")
	simulateCmd.Flags().String("wrapped-native", "", "wrapped native token, defaults to the chain's entry")
	simulateCmd.Flags().String("init-code-hash", "", "pool init code hash, defaults to the canonical factory's")
	simulateCmd.Flags().Int("batch-size", 100, "operations buffered per storage write")
	simulateCmd.Flags().String("run-id", "", "run id stamped on every operation, generated when empty")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	poolAddressCmd := &cobra.Command{
		Use:   "pool-address",
		Short: "Print the canonical pool address for a token pair and fee",
		RunE:  runPoolAddress,
	}

	poolAddressCmd.Flags().String("factory", "", "factory address")
	poolAddressCmd.Flags().String("token0", "", "first token address")
	poolAddressCmd.Flags().String("token1", "", "second token address")
	poolAddressCmd.Flags().Uint32("fee", 3000, "fee tier in hundredths of a bip")
	poolAddressCmd.Flags().String("init-code-hash", "", "pool init code hash, defaults to the canonical factory's")
	poolAddressCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(poolAddressCmd)

	return root
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

// parseAmount reads a non-negative decimal amount in base units.
func parseAmount(name, input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return new(uint256.Int), nil
	}
	b, ok := new(big.Int).SetString(input, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %s", name, input)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s overflows uint256: %s", name, input)
	}
	return v, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
