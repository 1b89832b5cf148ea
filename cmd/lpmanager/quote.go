package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lpManager/internal/chain"
	"lpManager/internal/config"
	"lpManager/internal/dex"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
	"lpManager/internal/position"
)

type quoteOutput struct {
	Pool          model.PoolMeta  `json:"pool"`
	Token0        model.TokenMeta `json:"token0"`
	Token1        model.TokenMeta `json:"token1"`
	TickLower     int32           `json:"tick_lower"`
	TickUpper     int32           `json:"tick_upper"`
	RangeCase     string          `json:"range_case"`
	Liquidity     string          `json:"liquidity"`
	Amount0       string          `json:"amount0"`
	Amount1       string          `json:"amount1"`
	NativeCase    string          `json:"native_case"`
	WrappedNative string          `json:"wrapped_native"`
	Block         uint64          `json:"block,omitempty"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	poolAddr, err := config.ParseAddress("pool", cfg.Pool)
	if err != nil {
		return err
	}
	amount0, err := parseAmount("amount0", cfg.Amount0)
	if err != nil {
		return err
	}
	amount1, err := parseAmount("amount1", cfg.Amount1)
	if err != nil {
		return err
	}
	initCodeHash, err := pooladdr.ParseInitCodeHash(cfg.InitCodeHash)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	wrapped, err := resolveWrappedNative(ctx, chainClient, cfg.WrappedNative)
	if err != nil {
		return err
	}

	var block *big.Int
	if cfg.Block > 0 {
		block = new(big.Int).SetUint64(cfg.Block)
	}
	state, err := dex.FetchPoolState(ctx, chainClient, poolAddr, block)
	if err != nil {
		return fmt.Errorf("read pool: %w", err)
	}

	manager := position.New(position.Config{
		WrappedNative: wrapped,
		InitCodeHash:  initCodeHash,
	}, nil, logger.Named("manager"))
	if err := manager.CheckPool(state); err != nil {
		return err
	}
	registered, err := dex.LookupPool(ctx, chainClient, state.Factory(), state.Token0(), state.Token1(), state.Fee())
	switch {
	case errors.Is(err, dex.ErrNoPool):
		return fmt.Errorf("%w: factory %s does not list %s", model.ErrCallbackAuthorization, state.Factory().Hex(), poolAddr.Hex())
	case err != nil:
		logger.Warn("factory lookup failed", zap.String("factory", state.Factory().Hex()), zap.Error(err))
	case registered != poolAddr:
		return fmt.Errorf("%w: factory lists %s, not %s", model.ErrCallbackAuthorization, registered.Hex(), poolAddr.Hex())
	}

	r := model.PriceRange{TickLower: cfg.TickLower, TickUpper: cfg.TickUpper}
	q, err := manager.Preview(ctx, state, r, amount0, amount1)
	if err != nil {
		return err
	}

	out := quoteOutput{
		Pool:          state.Meta(),
		TickLower:     r.TickLower,
		TickUpper:     r.TickUpper,
		RangeCase:     q.RangeCase.String(),
		Liquidity:     q.Liquidity.ToBig().String(),
		Amount0:       q.Amount0.ToBig().String(),
		Amount1:       q.Amount1.ToBig().String(),
		NativeCase:    q.NativeCase.String(),
		WrappedNative: wrapped.Hex(),
		Block:         cfg.Block,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := dex.FetchTokenMeta(gctx, chainClient, state.Token0(), logger)
		if err != nil {
			return fmt.Errorf("token0 metadata: %w", err)
		}
		out.Token0 = meta
		return nil
	})
	g.Go(func() error {
		meta, err := dex.FetchTokenMeta(gctx, chainClient, state.Token1(), logger)
		if err != nil {
			return fmt.Errorf("token1 metadata: %w", err)
		}
		out.Token1 = meta
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("quote",
		zap.String("pool", poolAddr.Hex()),
		zap.Int32("tick", q.Tick),
		zap.Int32("tick_lower", r.TickLower),
		zap.Int32("tick_upper", r.TickUpper),
		zap.Stringer("range_case", q.RangeCase),
		zap.String("liquidity", out.Liquidity),
	)
	return writeJSON(cmd.OutOrStdout(), out)
}

// resolveWrappedNative uses the override, or the table entry for the
// connected chain.
func resolveWrappedNative(ctx context.Context, client *chain.Client, override string) (common.Address, error) {
	if override != "" {
		return config.ResolveWrappedNative(override, 0)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("get chain id: %w", err)
	}
	return config.ResolveWrappedNative("", chainID.Uint64())
}
