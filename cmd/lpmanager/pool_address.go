package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lpManager/internal/config"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
)

type poolAddressOutput struct {
	Factory string `json:"factory"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	Fee     uint32 `json:"fee"`
	Pool    string `json:"pool"`
}

func runPoolAddress(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPoolAddress(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	factory, err := config.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	tokenA, err := config.ParseAddress("token0", cfg.TokenA)
	if err != nil {
		return err
	}
	tokenB, err := config.ParseAddress("token1", cfg.TokenB)
	if err != nil {
		return err
	}
	if tokenA == tokenB {
		return fmt.Errorf("token0 and token1 must differ")
	}
	initCodeHash, err := pooladdr.ParseInitCodeHash(cfg.InitCodeHash)
	if err != nil {
		return err
	}

	id := model.NewPoolIdentity(factory, tokenA, tokenB, cfg.Fee)
	pool, err := pooladdr.Compute(id, initCodeHash)
	if err != nil {
		return err
	}

	logger.Debug("pool address", zap.Stringer("identity", id), zap.String("pool", pool.Hex()))
	return writeJSON(cmd.OutOrStdout(), poolAddressOutput{
		Factory: id.Factory.Hex(),
		Token0:  id.Token0.Hex(),
		Token1:  id.Token1.Hex(),
		Fee:     id.Fee,
		Pool:    pool.Hex(),
	})
}
