// Package sim is an in-process concentrated-liquidity pool and factory. Pools
// keep their state in memory, move tokens through a ledger and journal every
// change so an enclosing operation can be rolled back.
package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpManager/internal/fullmath"
	"lpManager/internal/ledger"
	"lpManager/internal/liquidity"
	"lpManager/internal/model"
	"lpManager/internal/tickmath"
)

var (
	ErrLocked                = errors.New("pool locked")
	ErrZeroLiquidity         = errors.New("liquidity amount must be positive")
	ErrInsufficientPayment   = errors.New("mint callback underpaid")
	ErrTickLiquidityOverflow = errors.New("tick liquidity above maximum")
	ErrNoPosition            = errors.New("no position")
	ErrNoInRangeLiquidity    = errors.New("no in-range liquidity")
)

type poolState struct {
	sqrtPriceX96         *uint256.Int
	tick                 int32
	liquidity            *uint256.Int
	feeGrowthGlobal0X128 *uint256.Int
	feeGrowthGlobal1X128 *uint256.Int
	ticks                tickTable
	positions            map[positionKey]*positionInfo
}

func (s *poolState) clone() *poolState {
	positions := make(map[positionKey]*positionInfo, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v.clone()
	}
	return &poolState{
		sqrtPriceX96:         s.sqrtPriceX96.Clone(),
		tick:                 s.tick,
		liquidity:            s.liquidity.Clone(),
		feeGrowthGlobal0X128: s.feeGrowthGlobal0X128.Clone(),
		feeGrowthGlobal1X128: s.feeGrowthGlobal1X128.Clone(),
		ticks:                s.ticks.clone(),
		positions:            positions,
	}
}

// Pool is a single concentrated-liquidity pool deployed by a Factory.
type Pool struct {
	address      common.Address
	identity     model.PoolIdentity
	tickSpacing  int32
	maxLiquidity *uint256.Int
	ledger       *ledger.Ledger

	locked bool
	state  *poolState
}

func newPool(address common.Address, identity model.PoolIdentity, tickSpacing int32, sqrtPriceX96 *uint256.Int, l *ledger.Ledger) (*Pool, error) {
	tick, err := tickmath.SqrtPriceToTick(sqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("initialize pool: %w", err)
	}
	return &Pool{
		address:      address,
		identity:     identity,
		tickSpacing:  tickSpacing,
		maxLiquidity: tickmath.MaxLiquidityPerTick(tickSpacing),
		ledger:       l,
		state: &poolState{
			sqrtPriceX96:         sqrtPriceX96.Clone(),
			tick:                 tick,
			liquidity:            new(uint256.Int),
			feeGrowthGlobal0X128: new(uint256.Int),
			feeGrowthGlobal1X128: new(uint256.Int),
			ticks:                make(tickTable),
			positions:            make(map[positionKey]*positionInfo),
		},
	}, nil
}

func (p *Pool) Address() common.Address      { return p.address }
func (p *Pool) Factory() common.Address      { return p.identity.Factory }
func (p *Pool) Token0() common.Address       { return p.identity.Token0 }
func (p *Pool) Token1() common.Address       { return p.identity.Token1 }
func (p *Pool) Fee() uint32                  { return p.identity.Fee }
func (p *Pool) TickSpacing() int32           { return p.tickSpacing }
func (p *Pool) Identity() model.PoolIdentity { return p.identity }

// Slot0 returns the current sqrt price and tick.
func (p *Pool) Slot0() (*uint256.Int, int32) {
	return p.state.sqrtPriceX96.Clone(), p.state.tick
}

// Liquidity returns the in-range liquidity.
func (p *Pool) Liquidity() *uint256.Int {
	return p.state.liquidity.Clone()
}

// FeeGrowthGlobal returns the accumulated fee growth per unit of liquidity.
func (p *Pool) FeeGrowthGlobal() (*uint256.Int, *uint256.Int) {
	return p.state.feeGrowthGlobal0X128.Clone(), p.state.feeGrowthGlobal1X128.Clone()
}

// Positions returns a copy of owner's position in r, or an empty one.
func (p *Pool) Positions(owner common.Address, r model.PriceRange) *model.PoolPosition {
	if info, ok := p.state.positions[positionKey{owner, r}]; ok {
		return info.view()
	}
	return newPositionInfo().view()
}

// Mint adds liquidity for recipient and demands payment from cb before
// returning. The pool checks its own balances grew by the owed amounts.
func (p *Pool) Mint(ctx context.Context, recipient common.Address, r model.PriceRange, amount *uint256.Int, data []byte, cb model.MintCallback) (*uint256.Int, *uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if amount.IsZero() {
		return nil, nil, ErrZeroLiquidity
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	var amount0, amount1 *uint256.Int
	err := p.atomically(func() error {
		var err error
		if amount0, amount1, err = p.modifyPosition(recipient, r, amount, false); err != nil {
			return err
		}
		return p.settleMint(ctx, amount0, amount1, data, cb)
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func (p *Pool) settleMint(ctx context.Context, amount0, amount1 *uint256.Int, data []byte, cb model.MintCallback) error {
	balance0Before := p.ledger.BalanceOf(p.identity.Token0, p.address)
	balance1Before := p.ledger.BalanceOf(p.identity.Token1, p.address)
	if err := cb.MintCallback(ctx, p.address, amount0.Clone(), amount1.Clone(), data); err != nil {
		return fmt.Errorf("mint callback: %w", err)
	}
	if !amount0.IsZero() {
		want := new(uint256.Int).Add(balance0Before, amount0)
		if have := p.ledger.BalanceOf(p.identity.Token0, p.address); have.Lt(want) {
			return fmt.Errorf("%w: token0 received %s of %s", ErrInsufficientPayment,
				new(uint256.Int).Sub(have, balance0Before).ToBig(), amount0.ToBig())
		}
	}
	if !amount1.IsZero() {
		want := new(uint256.Int).Add(balance1Before, amount1)
		if have := p.ledger.BalanceOf(p.identity.Token1, p.address); have.Lt(want) {
			return fmt.Errorf("%w: token1 received %s of %s", ErrInsufficientPayment,
				new(uint256.Int).Sub(have, balance1Before).ToBig(), amount1.ToBig())
		}
	}
	return nil
}

// Burn removes owner's liquidity from r and credits the freed principal plus
// accrued fees to the position's owed balances. Burning zero pokes fees.
func (p *Pool) Burn(ctx context.Context, owner common.Address, r model.PriceRange, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	var amount0, amount1 *uint256.Int
	err := p.atomically(func() error {
		var err error
		if amount0, amount1, err = p.modifyPosition(owner, r, amount, true); err != nil {
			return err
		}
		pos := p.state.positions[positionKey{owner, r}]
		pos.TokensOwed0 = new(uint256.Int).Add(pos.TokensOwed0, amount0)
		pos.TokensOwed1 = new(uint256.Int).Add(pos.TokensOwed1, amount1)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Collect transfers up to the requested owed amounts of owner's position in r
// to recipient.
func (p *Pool) Collect(ctx context.Context, owner, recipient common.Address, r model.PriceRange, amount0Requested, amount1Requested *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	key := positionKey{owner, r}
	pos, ok := p.state.positions[key]
	if !ok {
		return new(uint256.Int), new(uint256.Int), nil
	}
	amount0 := minInt(amount0Requested, pos.TokensOwed0)
	amount1 := minInt(amount1Requested, pos.TokensOwed1)

	err := p.atomically(func() error {
		pos := p.state.positions[key]
		pos.TokensOwed0 = new(uint256.Int).Sub(pos.TokensOwed0, amount0)
		pos.TokensOwed1 = new(uint256.Int).Sub(pos.TokensOwed1, amount1)
		if err := p.ledger.Transfer(p.identity.Token0, p.address, recipient, amount0); err != nil {
			return fmt.Errorf("collect token0: %w", err)
		}
		if err := p.ledger.Transfer(p.identity.Token1, p.address, recipient, amount1); err != nil {
			return fmt.Errorf("collect token1: %w", err)
		}
		if pos.Liquidity.IsZero() && pos.TokensOwed0.IsZero() && pos.TokensOwed1.IsZero() {
			delete(p.state.positions, key)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Donate pays amounts from donor to the pool as fees for in-range liquidity.
func (p *Pool) Donate(ctx context.Context, donor common.Address, amount0, amount1 *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if p.state.liquidity.IsZero() {
		return ErrNoInRangeLiquidity
	}
	growth0, err := fullmath.MulDiv(amount0, liquidity.Q128, p.state.liquidity)
	if err != nil {
		return fmt.Errorf("donate token0: %w", err)
	}
	growth1, err := fullmath.MulDiv(amount1, liquidity.Q128, p.state.liquidity)
	if err != nil {
		return fmt.Errorf("donate token1: %w", err)
	}

	return p.atomically(func() error {
		if err := p.ledger.Transfer(p.identity.Token0, donor, p.address, amount0); err != nil {
			return fmt.Errorf("donate token0: %w", err)
		}
		if err := p.ledger.Transfer(p.identity.Token1, donor, p.address, amount1); err != nil {
			return fmt.Errorf("donate token1: %w", err)
		}
		p.state.feeGrowthGlobal0X128 = new(uint256.Int).Add(p.state.feeGrowthGlobal0X128, growth0)
		p.state.feeGrowthGlobal1X128 = new(uint256.Int).Add(p.state.feeGrowthGlobal1X128, growth1)
		return nil
	})
}

// Reprice trades against the pool until its price reaches target, crossing
// initialized ticks on the way. trader pays the input token and receives the
// output token, without a swap fee. It returns the token0 and token1 amounts
// the trader paid in; the other side was paid out.
func (p *Pool) Reprice(ctx context.Context, trader common.Address, target *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if target.Lt(tickmath.MinSqrtRatio) || !target.Lt(tickmath.MaxSqrtRatio) {
		return nil, nil, fmt.Errorf("%w: sqrt price %s outside bounds", model.ErrInvalidRange, target.ToBig())
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	amount0In, amount1In := new(uint256.Int), new(uint256.Int)
	err := p.atomically(func() error {
		zeroForOne := target.Lt(p.state.sqrtPriceX96)
		in, out, err := p.moveTo(target)
		if err != nil {
			return err
		}
		tokenIn, tokenOut := p.identity.Token1, p.identity.Token0
		if zeroForOne {
			tokenIn, tokenOut = tokenOut, tokenIn
			amount0In = in
		} else {
			amount1In = in
		}
		if err := p.ledger.Transfer(tokenIn, trader, p.address, in); err != nil {
			return fmt.Errorf("reprice pay %s: %w", tokenIn.Hex(), err)
		}
		if err := p.ledger.Transfer(tokenOut, p.address, trader, out); err != nil {
			return fmt.Errorf("reprice receive %s: %w", tokenOut.Hex(), err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0In, amount1In, nil
}

// moveTo walks the price to target one initialized tick at a time and returns
// the input and output amounts of the move.
func (p *Pool) moveTo(target *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	s := p.state
	ticks := s.ticks.sorted()
	zeroForOne := target.Lt(s.sqrtPriceX96)

	in, out := new(uint256.Int), new(uint256.Int)
	for !s.sqrtPriceX96.Eq(target) {
		var (
			next  int32
			found bool
		)
		if zeroForOne {
			next, found = nextAtOrBelow(ticks, s.tick)
		} else {
			next, found = nextAbove(ticks, s.tick)
		}

		stepTarget := target
		crossing := false
		if found {
			boundary, err := tickmath.TickToSqrtPrice(next)
			if err != nil {
				return nil, nil, err
			}
			if (zeroForOne && !target.Gt(boundary)) || (!zeroForOne && !target.Lt(boundary)) {
				stepTarget, crossing = boundary, true
			}
		}

		stepIn, stepOut, err := p.stepAmounts(s.sqrtPriceX96, stepTarget, s.liquidity, zeroForOne)
		if err != nil {
			return nil, nil, err
		}
		in.Add(in, stepIn)
		out.Add(out, stepOut)
		s.sqrtPriceX96 = stepTarget.Clone()

		if crossing {
			net := s.ticks.cross(next, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128)
			if zeroForOne {
				s.liquidity = new(uint256.Int).Sub(s.liquidity, net)
				s.tick = next - 1
			} else {
				s.liquidity = new(uint256.Int).Add(s.liquidity, net)
				s.tick = next
			}
			continue
		}
		tick, err := tickmath.SqrtPriceToTick(s.sqrtPriceX96)
		if err != nil {
			return nil, nil, err
		}
		s.tick = tick
	}
	return in, out, nil
}

// stepAmounts prices a move between two sqrt prices at constant liquidity.
// The input side rounds up and the output side rounds down.
func (p *Pool) stepAmounts(from, to, liq *uint256.Int, zeroForOne bool) (*uint256.Int, *uint256.Int, error) {
	if liq.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	if zeroForOne {
		in, err := liquidity.GetAmount0Delta(to, from, liq, true)
		if err != nil {
			return nil, nil, err
		}
		out, err := liquidity.GetAmount1Delta(to, from, liq, false)
		if err != nil {
			return nil, nil, err
		}
		return in, out, nil
	}
	in, err := liquidity.GetAmount1Delta(from, to, liq, true)
	if err != nil {
		return nil, nil, err
	}
	out, err := liquidity.GetAmount0Delta(from, to, liq, false)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// modifyPosition updates ticks, the owner's position and in-range liquidity,
// returning the token amounts the change is worth. Mints round up, burns down.
func (p *Pool) modifyPosition(owner common.Address, r model.PriceRange, amount *uint256.Int, burn bool) (*uint256.Int, *uint256.Int, error) {
	if err := tickmath.CheckRange(r, p.tickSpacing); err != nil {
		return nil, nil, err
	}
	s := p.state
	key := positionKey{owner, r}
	pos, ok := s.positions[key]
	if !ok {
		pos = newPositionInfo()
	}
	if burn && pos.Liquidity.Lt(amount) {
		return nil, nil, fmt.Errorf("%w: burn %s from %s in %s", model.ErrInsufficientLiquidity, amount.ToBig(), pos.Liquidity.ToBig(), r)
	}

	var flippedLower, flippedUpper bool
	if !amount.IsZero() {
		var err error
		if flippedLower, err = s.ticks.update(r.TickLower, s.tick, amount, burn, false, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128, p.maxLiquidity); err != nil {
			return nil, nil, err
		}
		if flippedUpper, err = s.ticks.update(r.TickUpper, s.tick, amount, burn, true, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128, p.maxLiquidity); err != nil {
			return nil, nil, err
		}
	}

	inside0, inside1 := s.ticks.feeGrowthInside(r.TickLower, r.TickUpper, s.tick, s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128)
	if err := pos.update(amount, burn, inside0, inside1); err != nil {
		return nil, nil, err
	}
	s.positions[key] = pos

	// emptied ticks go only after the position has read their fee growth
	if burn && flippedLower {
		s.ticks.clear(r.TickLower)
	}
	if burn && flippedUpper {
		s.ticks.clear(r.TickUpper)
	}

	sqrtLower, err := tickmath.TickToSqrtPrice(r.TickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := tickmath.TickToSqrtPrice(r.TickUpper)
	if err != nil {
		return nil, nil, err
	}

	amount0, amount1 := new(uint256.Int), new(uint256.Int)
	roundUp := !burn
	switch {
	case s.tick < r.TickLower:
		if amount0, err = liquidity.GetAmount0Delta(sqrtLower, sqrtUpper, amount, roundUp); err != nil {
			return nil, nil, err
		}
	case s.tick < r.TickUpper:
		if amount0, err = liquidity.GetAmount0Delta(s.sqrtPriceX96, sqrtUpper, amount, roundUp); err != nil {
			return nil, nil, err
		}
		if amount1, err = liquidity.GetAmount1Delta(sqrtLower, s.sqrtPriceX96, amount, roundUp); err != nil {
			return nil, nil, err
		}
		if burn {
			s.liquidity = new(uint256.Int).Sub(s.liquidity, amount)
		} else {
			s.liquidity = new(uint256.Int).Add(s.liquidity, amount)
		}
	default:
		if amount1, err = liquidity.GetAmount1Delta(sqrtLower, sqrtUpper, amount, roundUp); err != nil {
			return nil, nil, err
		}
	}
	return amount0, amount1, nil
}

// atomically runs fn against the pool and ledger state and undoes all of
// its changes if it fails.
func (p *Pool) atomically(fn func() error) error {
	journal := p.ledger.Journal()
	snap := journal.Snapshot()
	saved := p.state.clone()
	journal.Append(func() { p.state = saved })

	if err := fn(); err != nil {
		if rerr := journal.RevertToSnapshot(snap); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return journal.Commit(snap)
}

func (p *Pool) lock() error {
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	return nil
}

func (p *Pool) unlock() {
	p.locked = false
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
