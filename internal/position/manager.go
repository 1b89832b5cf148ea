// Package position manages concentrated-liquidity positions held in pools on
// behalf of many owners. The manager owns one pool position per range and
// splits it between owners by liquidity and fee growth checkpoints.
package position

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"lpManager/internal/fullmath"
	"lpManager/internal/ledger"
	"lpManager/internal/liquidity"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
	"lpManager/internal/settlement"
	"lpManager/internal/tickmath"
)

var (
	ErrInsufficientNativeValue = errors.New("native value does not cover the native leg")
	ErrUnexpectedNativeValue   = errors.New("native value sent to a pool without a native leg")
)

// Config holds the manager's fixed parameters.
type Config struct {
	// Address is the account the manager acts as: it owns pool positions,
	// spends payer approvals and holds wrapped native while a deposit settles.
	Address       common.Address
	WrappedNative common.Address
	InitCodeHash  common.Hash
}

// Manager implements addLP and removeLP over a shared ledger.
type Manager struct {
	cfg     Config
	ledger  *ledger.Ledger
	settler *settlement.Settler
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	positions map[model.PositionKey]*model.Position
}

// New returns a manager. A zero InitCodeHash selects the canonical factory's.
func New(cfg Config, l *ledger.Ledger, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitCodeHash == (common.Hash{}) {
		cfg.InitCodeHash = pooladdr.DefaultInitCodeHash
	}
	return &Manager{
		cfg:       cfg,
		ledger:    l,
		settler:   settlement.New(l, cfg.Address, cfg.InitCodeHash, logger.Named("settlement")),
		logger:    logger,
		now:       time.Now,
		positions: make(map[model.PositionKey]*model.Position),
	}
}

// Address returns the account the manager acts as.
func (m *Manager) Address() common.Address {
	return m.cfg.Address
}

// Settler exposes the settlement callback the manager hands to pools.
func (m *Manager) Settler() *settlement.Settler {
	return m.settler
}

// AddRequest describes a deposit. NativeValue is the native currency the
// payer attaches; it must be zero unless one of the pool's tokens is the
// wrapped native asset.
type AddRequest struct {
	Owner          common.Address
	Pool           Pool
	Range          model.PriceRange
	Amount0Desired *uint256.Int
	Amount1Desired *uint256.Int
	NativeValue    *uint256.Int
}

// AddResult reports a completed deposit.
type AddResult struct {
	ID           string
	Key          model.PositionKey
	Liquidity    *uint256.Int
	Amount0      *uint256.Int
	Amount1      *uint256.Int
	NativeCase   model.NativeCase
	NativeUsed   *uint256.Int
	NativeRefund *uint256.Int
	Position     *model.Position
	CompletedAt  time.Time
}

// RemoveRequest describes a withdrawal. When UnwrapNative is set the native
// leg is paid out as native currency instead of the wrapped token.
type RemoveRequest struct {
	Owner        common.Address
	Pool         Pool
	Range        model.PriceRange
	Liquidity    *uint256.Int
	UnwrapNative bool
}

// RemoveResult reports a completed withdrawal. Collected amounts are what
// was actually transferred to the owner.
type RemoveResult struct {
	ID          string
	Key         model.PositionKey
	Liquidity   *uint256.Int
	Principal0  *uint256.Int
	Principal1  *uint256.Int
	Fees0       *uint256.Int
	Fees1       *uint256.Int
	Collected0  *uint256.Int
	Collected1  *uint256.Int
	NativeCase  model.NativeCase
	Closed      bool
	Position    *model.Position
	CompletedAt time.Time
}

// Quote previews a deposit at the pool's current price.
type Quote struct {
	Pool         model.PoolIdentity
	SqrtPriceX96 *uint256.Int
	Tick         int32
	RangeCase    liquidity.RangeCase
	Liquidity    *uint256.Int
	Amount0      *uint256.Int
	Amount1      *uint256.Int
	NativeCase   model.NativeCase
}

// Preview computes the liquidity a deposit of the desired amounts yields and
// the amounts the pool will charge for it, rounded up as the pool rounds.
// Preview does not check that the pool is canonical; see CheckPool.
func (m *Manager) Preview(ctx context.Context, pool PoolView, r model.PriceRange, amount0Desired, amount1Desired *uint256.Int) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.quote(pool, r, orZero(amount0Desired), orZero(amount1Desired))
}

func (m *Manager) quote(pool PoolView, r model.PriceRange, amount0Desired, amount1Desired *uint256.Int) (*Quote, error) {
	if err := tickmath.CheckRange(r, pool.TickSpacing()); err != nil {
		return nil, err
	}
	sqrtLower, err := tickmath.TickToSqrtPrice(r.TickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := tickmath.TickToSqrtPrice(r.TickUpper)
	if err != nil {
		return nil, err
	}
	price, tick := pool.Slot0()

	liq, err := liquidity.GetLiquidityForAmounts(amount0Desired, amount1Desired, price, sqrtLower, sqrtUpper)
	if err != nil {
		return nil, err
	}
	if liq.IsZero() {
		return nil, fmt.Errorf("%w: no amounts supplied", model.ErrInsufficientLiquidity)
	}
	amount0, amount1, err := liquidity.AmountsForLiquidity(liq, price, sqrtLower, sqrtUpper, true)
	if err != nil {
		return nil, err
	}
	id := identityOf(pool)
	return &Quote{
		Pool:         id,
		SqrtPriceX96: price,
		Tick:         tick,
		RangeCase:    liquidity.Classify(price, sqrtLower, sqrtUpper),
		Liquidity:    liq,
		Amount0:      amount0,
		Amount1:      amount1,
		NativeCase:   model.ClassifyNative(id, m.cfg.WrappedNative),
	}, nil
}

// AddLP deposits liquidity derived from the desired amounts into the range.
// Range and liquidity are validated before any balance moves; any later
// failure undoes every effect of the call.
func (m *Manager) AddLP(ctx context.Context, req AddRequest) (*AddResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	nativeValue := orZero(req.NativeValue)
	q, err := m.quote(req.Pool, req.Range, orZero(req.Amount0Desired), orZero(req.Amount1Desired))
	if err != nil {
		m.reject(model.OperationAddLP, req.Owner, req.Range, err)
		return nil, err
	}
	if err := m.checkCanonical(req.Pool, q.Pool); err != nil {
		m.reject(model.OperationAddLP, req.Owner, req.Range, err)
		return nil, err
	}
	if err := checkNativeValue(q, nativeValue); err != nil {
		m.reject(model.OperationAddLP, req.Owner, req.Range, err)
		return nil, err
	}

	journal := m.ledger.Journal()
	snap := journal.Snapshot()
	res, err := m.addLP(ctx, req, q, nativeValue)
	if err != nil {
		if rerr := journal.RevertToSnapshot(snap); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.reject(model.OperationAddLP, req.Owner, req.Range, err)
		return nil, err
	}
	if err := journal.Commit(snap); err != nil {
		return nil, err
	}

	m.logger.Info("liquidity added",
		zap.String("id", res.ID),
		zap.String("owner", req.Owner.Hex()),
		zap.String("pool", req.Pool.Address().Hex()),
		zap.Int32("tick_lower", req.Range.TickLower),
		zap.Int32("tick_upper", req.Range.TickUpper),
		zap.String("liquidity", res.Liquidity.ToBig().String()),
		zap.String("amount0", res.Amount0.ToBig().String()),
		zap.String("amount1", res.Amount1.ToBig().String()),
		zap.Stringer("native_case", res.NativeCase),
		zap.String("native_refund", res.NativeRefund.ToBig().String()),
	)
	return res, nil
}

func (m *Manager) addLP(ctx context.Context, req AddRequest, q *Quote, nativeValue *uint256.Int) (*AddResult, error) {
	self := m.cfg.Address
	if !nativeValue.IsZero() {
		if err := m.ledger.TransferNative(req.Owner, self, nativeValue); err != nil {
			return nil, fmt.Errorf("receive native value: %w", err)
		}
		if err := m.ledger.Wrap(self, nativeValue); err != nil {
			return nil, fmt.Errorf("wrap native value: %w", err)
		}
	}

	handle, data, err := m.settler.BeginDeposit(ctx, settlement.DepositRequest{
		Pool:         q.Pool,
		Payer:        req.Owner,
		Native:       q.NativeCase,
		NativeBudget: nativeValue,
	})
	if err != nil {
		return nil, err
	}
	amount0, amount1, err := req.Pool.Mint(ctx, self, req.Range, q.Liquidity, data, m.settler)
	if err != nil {
		return nil, fmt.Errorf("pool mint: %w", err)
	}
	receipt, err := m.settler.Complete(handle)
	if err != nil {
		return nil, fmt.Errorf("pool mint: %w", err)
	}
	if !receipt.Amount0.Eq(amount0) || !receipt.Amount1.Eq(amount1) {
		return nil, fmt.Errorf("%w: pool reported %s/%s, settled %s/%s", model.ErrCallbackAuthorization,
			amount0.ToBig(), amount1.ToBig(), receipt.Amount0.ToBig(), receipt.Amount1.ToBig())
	}

	refund := new(uint256.Int).Sub(nativeValue, receipt.NativeUsed)
	if !refund.IsZero() {
		if err := m.ledger.Unwrap(self, refund); err != nil {
			return nil, fmt.Errorf("unwrap refund: %w", err)
		}
		if err := m.ledger.TransferNative(self, req.Owner, refund); err != nil {
			return nil, fmt.Errorf("refund native value: %w", err)
		}
	}

	key := model.PositionKey{Owner: req.Owner, Pool: q.Pool, Range: req.Range}
	inside := req.Pool.Positions(self, req.Range)
	pos, err := m.increase(key, q.Liquidity, inside.FeeGrowthInside0LastX128, inside.FeeGrowthInside1LastX128)
	if err != nil {
		return nil, err
	}

	return &AddResult{
		ID:           uuid.NewString(),
		Key:          key,
		Liquidity:    q.Liquidity.Clone(),
		Amount0:      amount0,
		Amount1:      amount1,
		NativeCase:   q.NativeCase,
		NativeUsed:   receipt.NativeUsed,
		NativeRefund: refund,
		Position:     pos.Clone(),
		CompletedAt:  m.now().UTC(),
	}, nil
}

// RemoveLP burns liquidity from the owner's position, then collects the
// freed principal and the owner's accrued fees to the owner.
func (m *Manager) RemoveLP(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	amount := orZero(req.Liquidity)
	if err := tickmath.CheckRange(req.Range, req.Pool.TickSpacing()); err != nil {
		m.reject(model.OperationRemoveLP, req.Owner, req.Range, err)
		return nil, err
	}
	key := model.PositionKey{Owner: req.Owner, Pool: identityOf(req.Pool), Range: req.Range}
	pos, ok := m.positions[key]
	if !ok {
		err := fmt.Errorf("%w: no position for %s in %s", model.ErrInvalidRange, req.Owner.Hex(), req.Range)
		m.reject(model.OperationRemoveLP, req.Owner, req.Range, err)
		return nil, err
	}
	if pos.Liquidity.Lt(amount) {
		err := fmt.Errorf("%w: remove %s from %s", model.ErrInsufficientLiquidity, amount.ToBig(), pos.Liquidity.ToBig())
		m.reject(model.OperationRemoveLP, req.Owner, req.Range, err)
		return nil, err
	}
	if err := m.checkCanonical(req.Pool, key.Pool); err != nil {
		m.reject(model.OperationRemoveLP, req.Owner, req.Range, err)
		return nil, err
	}

	journal := m.ledger.Journal()
	snap := journal.Snapshot()
	res, err := m.removeLP(ctx, req, key, amount)
	if err != nil {
		if rerr := journal.RevertToSnapshot(snap); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.reject(model.OperationRemoveLP, req.Owner, req.Range, err)
		return nil, err
	}
	if err := journal.Commit(snap); err != nil {
		return nil, err
	}

	m.logger.Info("liquidity removed",
		zap.String("id", res.ID),
		zap.String("owner", req.Owner.Hex()),
		zap.String("pool", req.Pool.Address().Hex()),
		zap.Int32("tick_lower", req.Range.TickLower),
		zap.Int32("tick_upper", req.Range.TickUpper),
		zap.String("liquidity", res.Liquidity.ToBig().String()),
		zap.String("collected0", res.Collected0.ToBig().String()),
		zap.String("collected1", res.Collected1.ToBig().String()),
		zap.String("fees0", res.Fees0.ToBig().String()),
		zap.String("fees1", res.Fees1.ToBig().String()),
		zap.Bool("closed", res.Closed),
	)
	return res, nil
}

func (m *Manager) removeLP(ctx context.Context, req RemoveRequest, key model.PositionKey, amount *uint256.Int) (*RemoveResult, error) {
	self := m.cfg.Address
	principal0, principal1, err := req.Pool.Burn(ctx, self, req.Range, amount)
	if err != nil {
		return nil, fmt.Errorf("pool burn: %w", err)
	}

	inside := req.Pool.Positions(self, req.Range)
	pos, fees0, fees1, err := m.decrease(key, amount, principal0, principal1, inside.FeeGrowthInside0LastX128, inside.FeeGrowthInside1LastX128)
	if err != nil {
		return nil, err
	}

	native := model.ClassifyNative(key.Pool, m.cfg.WrappedNative)
	unwrap := req.UnwrapNative && native != model.NeitherIsNative
	recipient := req.Owner
	if unwrap {
		recipient = self
	}
	collected0, collected1, err := req.Pool.Collect(ctx, self, recipient, req.Range, pos.TokensOwed0, pos.TokensOwed1)
	if err != nil {
		return nil, fmt.Errorf("pool collect: %w", err)
	}
	if unwrap {
		if err := m.payOut(req.Owner, key.Pool, native, collected0, collected1); err != nil {
			return nil, err
		}
	}

	pos, err = m.collected(key, collected0, collected1)
	if err != nil {
		return nil, err
	}

	return &RemoveResult{
		ID:          uuid.NewString(),
		Key:         key,
		Liquidity:   amount.Clone(),
		Principal0:  principal0,
		Principal1:  principal1,
		Fees0:       fees0,
		Fees1:       fees1,
		Collected0:  collected0,
		Collected1:  collected1,
		NativeCase:  native,
		Closed:      pos.Closed(),
		Position:    pos.Clone(),
		CompletedAt: m.now().UTC(),
	}, nil
}

// payOut forwards collected tokens held by the manager to owner, unwrapping
// the native leg.
func (m *Manager) payOut(owner common.Address, id model.PoolIdentity, native model.NativeCase, amount0, amount1 *uint256.Int) error {
	self := m.cfg.Address
	legs := []struct {
		token  common.Address
		amount *uint256.Int
		native bool
	}{
		{id.Token0, amount0, native == model.Token0IsNative},
		{id.Token1, amount1, native == model.Token1IsNative},
	}
	for _, leg := range legs {
		if leg.amount.IsZero() {
			continue
		}
		if !leg.native {
			if err := m.ledger.Transfer(leg.token, self, owner, leg.amount); err != nil {
				return fmt.Errorf("pay out %s: %w", leg.token.Hex(), err)
			}
			continue
		}
		if err := m.ledger.Unwrap(self, leg.amount); err != nil {
			return fmt.Errorf("unwrap payout: %w", err)
		}
		if err := m.ledger.TransferNative(self, owner, leg.amount); err != nil {
			return fmt.Errorf("pay out native: %w", err)
		}
	}
	return nil
}

// Position returns a copy of the tracked position for key.
func (m *Manager) Position(key model.PositionKey) (*model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// Positions returns copies of all tracked positions ordered by owner, pool and range.
func (m *Manager) Positions() []*model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		if a.Pool != b.Pool {
			return a.Pool.String() < b.Pool.String()
		}
		if a.Range.TickLower != b.Range.TickLower {
			return a.Range.TickLower < b.Range.TickLower
		}
		return a.Range.TickUpper < b.Range.TickUpper
	})
	return out
}

// CheckPool reports whether pool sits at the canonical address for its
// identity. Deposits and withdrawals refuse any other pool.
func (m *Manager) CheckPool(pool PoolView) error {
	return m.checkCanonical(pool, identityOf(pool))
}

func (m *Manager) checkCanonical(pool PoolView, id model.PoolIdentity) error {
	want, err := pooladdr.Compute(id, m.cfg.InitCodeHash)
	if err != nil {
		return err
	}
	if want != pool.Address() {
		return fmt.Errorf("%w: pool %s is not the canonical pool %s for %s",
			model.ErrCallbackAuthorization, pool.Address().Hex(), want.Hex(), id)
	}
	return nil
}

func checkNativeValue(q *Quote, value *uint256.Int) error {
	switch q.NativeCase {
	case model.Token0IsNative:
		if value.Lt(q.Amount0) {
			return fmt.Errorf("%w: need %s, got %s", ErrInsufficientNativeValue, q.Amount0.ToBig(), value.ToBig())
		}
	case model.Token1IsNative:
		if value.Lt(q.Amount1) {
			return fmt.Errorf("%w: need %s, got %s", ErrInsufficientNativeValue, q.Amount1.ToBig(), value.ToBig())
		}
	default:
		if !value.IsZero() {
			return fmt.Errorf("%w: %s", ErrUnexpectedNativeValue, value.ToBig())
		}
	}
	return nil
}

func (m *Manager) reject(op string, owner common.Address, r model.PriceRange, err error) {
	m.logger.Warn("operation rejected",
		zap.String("op", op),
		zap.String("owner", owner.Hex()),
		zap.Int32("tick_lower", r.TickLower),
		zap.Int32("tick_upper", r.TickUpper),
		zap.Error(err),
	)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// accrue credits the owner's share of fee growth since its checkpoint.
func accrue(pos *model.Position, inside0, inside1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	fees0, err := fullmath.MulDiv(new(uint256.Int).Sub(inside0, pos.FeeGrowthInside0LastX128), pos.Liquidity, liquidity.Q128)
	if err != nil {
		return nil, nil, err
	}
	fees1, err := fullmath.MulDiv(new(uint256.Int).Sub(inside1, pos.FeeGrowthInside1LastX128), pos.Liquidity, liquidity.Q128)
	if err != nil {
		return nil, nil, err
	}
	pos.TokensOwed0 = new(uint256.Int).Add(pos.TokensOwed0, fees0)
	pos.TokensOwed1 = new(uint256.Int).Add(pos.TokensOwed1, fees1)
	pos.FeeGrowthInside0LastX128 = inside0.Clone()
	pos.FeeGrowthInside1LastX128 = inside1.Clone()
	return fees0, fees1, nil
}
