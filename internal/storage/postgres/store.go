package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"lpManager/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS lp_positions (
		owner        TEXT NOT NULL,
		pool         TEXT NOT NULL,
		tick_lower   INTEGER NOT NULL,
		tick_upper   INTEGER NOT NULL,
		liquidity    NUMERIC(78, 0) NOT NULL,
		tokens_owed0 NUMERIC(78, 0) NOT NULL,
		tokens_owed1 NUMERIC(78, 0) NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (owner, pool, tick_lower, tick_upper)
	)`,
	`CREATE TABLE IF NOT EXISTS lp_operations (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		owner        TEXT NOT NULL,
		pool         TEXT NOT NULL,
		tick_lower   INTEGER NOT NULL,
		tick_upper   INTEGER NOT NULL,
		liquidity    NUMERIC(78, 0),
		amount0      NUMERIC(78, 0),
		amount1      NUMERIC(78, 0),
		native_case  TEXT,
		native_used  NUMERIC(78, 0),
		closed       BOOLEAN NOT NULL DEFAULT false,
		error        TEXT,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lp_operations_owner_idx ON lp_operations (owner, completed_at)`,
}

// Store provides Postgres persistence for positions and operations.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertPositions inserts or updates open positions and deletes closed ones.
func (s *Store) UpsertPositions(ctx context.Context, positions []model.PositionRecord) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		if p.Closed {
			batch.Queue(`
				DELETE FROM lp_positions
				WHERE owner = $1 AND pool = $2 AND tick_lower = $3 AND tick_upper = $4
			`, p.Owner, p.Pool, p.TickLower, p.TickUpper)
			continue
		}
		liquidity, err := numeric(p.Liquidity)
		if err != nil {
			return fmt.Errorf("position liquidity: %w", err)
		}
		owed0, err := numeric(p.TokensOwed0)
		if err != nil {
			return fmt.Errorf("position tokens owed0: %w", err)
		}
		owed1, err := numeric(p.TokensOwed1)
		if err != nil {
			return fmt.Errorf("position tokens owed1: %w", err)
		}
		batch.Queue(`
			INSERT INTO lp_positions (
				owner, pool, tick_lower, tick_upper, liquidity, tokens_owed0, tokens_owed1, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (owner, pool, tick_lower, tick_upper)
			DO UPDATE SET
				liquidity = EXCLUDED.liquidity,
				tokens_owed0 = EXCLUDED.tokens_owed0,
				tokens_owed1 = EXCLUDED.tokens_owed1,
				updated_at = now()
		`,
			p.Owner,
			p.Pool,
			p.TickLower,
			p.TickUpper,
			liquidity,
			owed0,
			owed1,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertOperations records operations; an id already stored is skipped so
// a scenario can be replayed into the same database.
func (s *Store) InsertOperations(ctx context.Context, ops []model.OperationRecord) error {
	if len(ops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, op := range ops {
		completedAt, err := time.Parse(time.RFC3339Nano, op.CompletedAt)
		if err != nil {
			return fmt.Errorf("operation %s completed_at: %w", op.ID, err)
		}
		args := []interface{}{op.ID, op.Kind, op.Owner, op.Pool, op.TickLower, op.TickUpper}
		for _, amount := range []string{op.Liquidity, op.Amount0, op.Amount1} {
			n, err := numeric(amount)
			if err != nil {
				return fmt.Errorf("operation %s: %w", op.ID, err)
			}
			args = append(args, n)
		}
		nativeUsed, err := numeric(op.NativeUsed)
		if err != nil {
			return fmt.Errorf("operation %s native_used: %w", op.ID, err)
		}
		args = append(args, text(op.NativeCase), nativeUsed, op.Closed, text(op.Error), completedAt)

		batch.Queue(`
			INSERT INTO lp_operations (
				id, kind, owner, pool, tick_lower, tick_upper, liquidity, amount0, amount1,
				native_case, native_used, closed, error, completed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id) DO NOTHING
		`, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ops {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// numeric converts a decimal string to a NUMERIC parameter; empty is NULL.
func numeric(value string) (pgtype.Numeric, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return pgtype.Numeric{}, nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("invalid decimal %q", value)
	}
	return pgtype.Numeric{Int: n, Valid: true}, nil
}

func text(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}
