// Package scenario replays JSONL scenarios of pool and position operations
// against the simulated chain.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"lpManager/internal/ledger"
	"lpManager/internal/model"
	"lpManager/internal/position"
	"lpManager/internal/sim"
	"lpManager/internal/storage"
	"lpManager/internal/tickmath"
)

const defaultBatchSize = 100

// Config holds the fixed addresses of the simulated world. BatchSize bounds
// how many operation records are buffered before a storage write.
type Config struct {
	Factory       common.Address
	InitCodeHash  common.Hash
	Manager       common.Address
	WrappedNative common.Address
	BatchSize     int
}

// Summary counts what a run did.
type Summary struct {
	Steps      int
	Operations int
	Rejected   int
}

// Runner applies scenario steps and writes position operations to storage.
type Runner struct {
	cfg      Config
	ledger   *ledger.Ledger
	factory  *sim.Factory
	manager  *position.Manager
	deployed map[common.Address]*sim.Pool
	touched  map[model.PositionKey]common.Address
	storage  storage.Storage
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner builds a Runner over an empty world.
func NewRunner(cfg Config, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	l := ledger.New(ledger.NewJournal(), cfg.WrappedNative)
	return &Runner{
		cfg:     cfg,
		ledger:  l,
		factory: sim.NewFactory(cfg.Factory, cfg.InitCodeHash, l),
		manager: position.New(position.Config{
			Address:       cfg.Manager,
			WrappedNative: cfg.WrappedNative,
			InitCodeHash:  cfg.InitCodeHash,
		}, l, logger.Named("manager")),
		deployed: make(map[common.Address]*sim.Pool),
		touched:  make(map[model.PositionKey]common.Address),
		storage:  storageSink,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Runner) Ledger() *ledger.Ledger     { return r.ledger }
func (r *Runner) Manager() *position.Manager { return r.manager }
func (r *Runner) Factory() *sim.Factory      { return r.factory }

// Run applies steps in order. A step that fails with the error it expects
// counts as rejected; any other failure stops the run. Operation records are
// written in batches of cfg.BatchSize, and whatever is buffered when the run
// ends or stops is written before Run returns.
func (r *Runner) Run(ctx context.Context, steps []Step) (Summary, error) {
	var summary Summary
	batch := make([]model.OperationRecord, 0, r.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 || r.storage == nil {
			batch = batch[:0]
			return nil
		}
		if err := r.storage.PutOperationBatch(batch); err != nil {
			return fmt.Errorf("store operations: %w", err)
		}
		r.logger.Debug("operations stored", zap.Int("count", len(batch)))
		batch = make([]model.OperationRecord, 0, r.cfg.BatchSize)
		return nil
	}
	fail := func(err error) (Summary, error) {
		if flushErr := flush(); flushErr != nil {
			r.logger.Error("store buffered operations", zap.Error(flushErr))
		}
		return summary, err
	}

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		rec, err := r.Apply(ctx, step)
		switch {
		case err != nil && step.ExpectError == "":
			return fail(fmt.Errorf("step %d (%s): %w", i+1, step.Op, err))
		case err != nil && !step.expects(err):
			return fail(fmt.Errorf("step %d (%s): expected %s, got: %w", i+1, step.Op, step.ExpectError, err))
		case err == nil && step.ExpectError != "":
			return fail(fmt.Errorf("step %d (%s): expected %s, step succeeded", i+1, step.Op, step.ExpectError))
		case err != nil:
			summary.Rejected++
			r.logger.Debug("step rejected as expected", zap.Int("step", i+1), zap.String("op", step.Op), zap.Error(err))
		}
		summary.Steps++

		if rec == nil {
			continue
		}
		summary.Operations++
		batch = append(batch, *rec)
		if len(batch) >= r.cfg.BatchSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Apply executes one step. Position operations return a record, which
// carries the error when the manager rejected the operation.
func (r *Runner) Apply(ctx context.Context, step Step) (*model.OperationRecord, error) {
	switch step.Op {
	case OpCreatePool:
		return nil, r.createPool(step)
	case OpDeployPool:
		return nil, r.deployPool(step)
	case OpFund:
		return nil, r.fund(step)
	case OpFundNative:
		return nil, r.fundNative(step)
	case OpApprove:
		return nil, r.approve(step)
	case OpAddLP:
		return r.addLP(ctx, step)
	case OpRemoveLP:
		return r.removeLP(ctx, step)
	case OpDonate:
		return nil, r.donate(ctx, step)
	case OpReprice:
		return nil, r.reprice(ctx, step)
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *Runner) createPool(step Step) error {
	tokenA, tokenB, err := r.pair(step)
	if err != nil {
		return err
	}
	price, err := initialPrice(step)
	if err != nil {
		return err
	}
	pool, err := r.factory.CreatePool(tokenA, tokenB, step.Fee, price)
	if err != nil {
		return err
	}
	r.logger.Debug("pool created", zap.String("pool", pool.Address().Hex()), zap.Stringer("identity", pool.Identity()))
	return nil
}

// deployPool places a pool at an arbitrary address, outside the factory.
func (r *Runner) deployPool(step Step) error {
	addr, err := parseAddress("pool", step.Pool)
	if err != nil {
		return err
	}
	tokenA, tokenB, err := r.pair(step)
	if err != nil {
		return err
	}
	spacing, ok := sim.DefaultFeeTickSpacing[step.Fee]
	if !ok {
		return fmt.Errorf("%w: %d", sim.ErrFeeNotEnabled, step.Fee)
	}
	price, err := initialPrice(step)
	if err != nil {
		return err
	}
	pool, err := sim.Deploy(addr, model.NewPoolIdentity(r.cfg.Factory, tokenA, tokenB, step.Fee), spacing, price, r.ledger)
	if err != nil {
		return err
	}
	r.deployed[addr] = pool
	return nil
}

func (r *Runner) fund(step Step) error {
	account, err := parseAddress("account", step.Account)
	if err != nil {
		return err
	}
	token, err := parseAddress("token", step.Token)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", step.Amount)
	if err != nil {
		return err
	}
	return r.ledger.Mint(token, account, amount)
}

func (r *Runner) fundNative(step Step) error {
	account, err := parseAddress("account", step.Account)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", step.Amount)
	if err != nil {
		return err
	}
	return r.ledger.FundNative(account, amount)
}

// approve lets the manager spend the account's token.
func (r *Runner) approve(step Step) error {
	account, err := parseAddress("account", step.Account)
	if err != nil {
		return err
	}
	token, err := parseAddress("token", step.Token)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", step.Amount)
	if err != nil {
		return err
	}
	r.ledger.Approve(token, account, r.cfg.Manager, amount)
	return nil
}

func (r *Runner) addLP(ctx context.Context, step Step) (*model.OperationRecord, error) {
	owner, err := parseAddress("account", step.Account)
	if err != nil {
		return nil, err
	}
	pool, err := r.pool(step)
	if err != nil {
		return nil, err
	}
	amount0, err := parseAmount("amount0", step.Amount0)
	if err != nil {
		return nil, err
	}
	amount1, err := parseAmount("amount1", step.Amount1)
	if err != nil {
		return nil, err
	}
	nativeValue, err := parseAmount("native_value", step.NativeValue)
	if err != nil {
		return nil, err
	}

	rng := model.PriceRange{TickLower: step.TickLower, TickUpper: step.TickUpper}
	res, err := r.manager.AddLP(ctx, position.AddRequest{
		Owner:          owner,
		Pool:           pool,
		Range:          rng,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		NativeValue:    nativeValue,
	})
	if err != nil {
		rec := rejectedRecord(model.OperationAddLP, owner, pool.Address(), rng, r.now(), err)
		return &rec, err
	}
	r.touched[res.Key] = pool.Address()
	rec := addRecord(res, pool.Address())
	return &rec, nil
}

func (r *Runner) removeLP(ctx context.Context, step Step) (*model.OperationRecord, error) {
	owner, err := parseAddress("account", step.Account)
	if err != nil {
		return nil, err
	}
	pool, err := r.pool(step)
	if err != nil {
		return nil, err
	}
	rng := model.PriceRange{TickLower: step.TickLower, TickUpper: step.TickUpper}

	var amount *uint256.Int
	if step.Liquidity == "all" {
		pos, ok := r.manager.Position(model.PositionKey{Owner: owner, Pool: pool.Identity(), Range: rng})
		if !ok {
			amount = new(uint256.Int)
		} else {
			amount = pos.Liquidity
		}
	} else if amount, err = parseAmount("liquidity", step.Liquidity); err != nil {
		return nil, err
	}

	res, err := r.manager.RemoveLP(ctx, position.RemoveRequest{
		Owner:        owner,
		Pool:         pool,
		Range:        rng,
		Liquidity:    amount,
		UnwrapNative: step.UnwrapNative,
	})
	if err != nil {
		rec := rejectedRecord(model.OperationRemoveLP, owner, pool.Address(), rng, r.now(), err)
		return &rec, err
	}
	r.touched[res.Key] = pool.Address()
	rec := removeRecord(res, pool.Address())
	return &rec, nil
}

func (r *Runner) donate(ctx context.Context, step Step) error {
	donor, err := parseAddress("account", step.Account)
	if err != nil {
		return err
	}
	pool, err := r.pool(step)
	if err != nil {
		return err
	}
	amount0, err := parseAmount("amount0", step.Amount0)
	if err != nil {
		return err
	}
	amount1, err := parseAmount("amount1", step.Amount1)
	if err != nil {
		return err
	}
	return pool.Donate(ctx, donor, amount0, amount1)
}

func (r *Runner) reprice(ctx context.Context, step Step) error {
	trader, err := parseAddress("account", step.Account)
	if err != nil {
		return err
	}
	pool, err := r.pool(step)
	if err != nil {
		return err
	}
	target, err := initialPrice(step)
	if err != nil {
		return err
	}
	paid0, paid1, err := pool.Reprice(ctx, trader, target)
	if err != nil {
		return err
	}
	_, tick := pool.Slot0()
	r.logger.Debug("pool repriced",
		zap.String("pool", pool.Address().Hex()),
		zap.Int32("tick", tick),
		zap.String("paid0", paid0.ToBig().String()),
		zap.String("paid1", paid1.ToBig().String()),
	)
	return nil
}

// PositionRecords returns the storage form of every position the run
// touched. Positions that have since closed are marked Closed.
func (r *Runner) PositionRecords() []model.PositionRecord {
	open := make(map[model.PositionKey]*model.Position)
	for _, pos := range r.manager.Positions() {
		open[pos.Key] = pos
	}
	out := make([]model.PositionRecord, 0, len(r.touched))
	for key, poolAddr := range r.touched {
		pos, ok := open[key]
		if !ok {
			pos = model.NewPosition(key)
		}
		out = append(out, positionRecord(pos, poolAddr, !ok))
	}
	sortPositionRecords(out)
	return out
}

func (r *Runner) pair(step Step) (common.Address, common.Address, error) {
	tokenA, err := parseAddress("token_a", step.TokenA)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	tokenB, err := parseAddress("token_b", step.TokenB)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return tokenA, tokenB, nil
}

// pool resolves the step's pool by address or by token pair and fee.
func (r *Runner) pool(step Step) (*sim.Pool, error) {
	if step.Pool != "" {
		addr, err := parseAddress("pool", step.Pool)
		if err != nil {
			return nil, err
		}
		if pool, ok := r.deployed[addr]; ok {
			return pool, nil
		}
		if pool, ok := r.factory.PoolAt(addr); ok {
			return pool, nil
		}
		return nil, fmt.Errorf("no pool at %s", addr.Hex())
	}
	tokenA, tokenB, err := r.pair(step)
	if err != nil {
		return nil, err
	}
	pool, ok := r.factory.GetPool(tokenA, tokenB, step.Fee)
	if !ok {
		return nil, fmt.Errorf("no pool for %s/%s fee %d", tokenA.Hex(), tokenB.Hex(), step.Fee)
	}
	return pool, nil
}

func initialPrice(step Step) (*uint256.Int, error) {
	switch {
	case step.SqrtPriceX96 != "":
		return parseAmount("sqrt_price_x96", step.SqrtPriceX96)
	case step.Tick != nil:
		return tickmath.TickToSqrtPrice(*step.Tick)
	default:
		return nil, fmt.Errorf("%s needs tick or sqrt_price_x96", step.Op)
	}
}
