package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lpManager/internal/config"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
	"lpManager/internal/scenario"
	"lpManager/internal/storage"
	"lpManager/internal/storage/postgres"
)

// recordingStorage forwards batches and keeps them for the Postgres write.
type recordingStorage struct {
	next storage.Storage
	ops  []model.OperationRecord
}

func (s *recordingStorage) PutOperationBatch(ops []model.OperationRecord) error {
	if err := s.next.PutOperationBatch(ops); err != nil {
		return err
	}
	s.ops = append(s.ops, ops...)
	return nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	factory, err := config.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	manager, err := config.ParseAddress("manager", cfg.Manager)
	if err != nil {
		return err
	}
	wrapped, err := config.ResolveWrappedNative(cfg.WrappedNative, cfg.ChainID)
	if err != nil {
		return err
	}
	initCodeHash, err := pooladdr.ParseInitCodeHash(cfg.InitCodeHash)
	if err != nil {
		return err
	}

	steps, err := scenario.LoadFile(cfg.In)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	opLog := storage.NewJsonlStorage(cfg.Out, cfg.RunID)
	sink := &recordingStorage{next: opLog}
	runner := scenario.NewRunner(scenario.Config{
		Factory:       factory,
		InitCodeHash:  initCodeHash,
		Manager:       manager,
		WrappedNative: wrapped,
		BatchSize:     cfg.BatchSize,
	}, sink, logger)

	logger.Info("simulate start",
		zap.String("run_id", opLog.RunID()),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("steps", len(steps)),
		zap.String("factory", factory.Hex()),
		zap.String("manager", manager.Hex()),
		zap.String("wrapped_native", wrapped.Hex()),
		zap.Bool("postgres", store != nil),
	)

	summary, err := runner.Run(ctx, steps)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.InsertOperations(ctx, sink.ops); err != nil {
			return err
		}
		positions := runner.PositionRecords()
		if err := store.UpsertPositions(ctx, positions); err != nil {
			return err
		}
		logger.Info("postgres written", zap.Int("operations", len(sink.ops)), zap.Int("positions", len(positions)))
	}

	logger.Info("simulate done",
		zap.Int("steps", summary.Steps),
		zap.Int("operations", summary.Operations),
		zap.Int("rejected", summary.Rejected),
		zap.Int("open_positions", len(runner.Manager().Positions())),
	)
	return nil
}
