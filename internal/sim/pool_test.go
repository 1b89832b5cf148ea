package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpManager/internal/fullmath"
	"lpManager/internal/ledger"
	"lpManager/internal/liquidity"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
	"lpManager/internal/tickmath"
)

var (
	factoryAddr = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	tokenA      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	tokenB      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	lp          = common.HexToAddress("0x0000000000000000000000000000000000001111")
	trader      = common.HexToAddress("0x0000000000000000000000000000000000002222")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(v), u(1_000_000_000_000_000_000))
}

func sqrtAt(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	v, err := tickmath.TickToSqrtPrice(tick)
	require.NoError(t, err)
	return v
}

// payer settles mint callbacks by transferring from a funded account.
type payer struct {
	ledger   *ledger.Ledger
	pool     *Pool
	from     common.Address
	shortBy  uint64
	reenter  bool
	calls    int
	lastData []byte
}

func (p *payer) MintCallback(ctx context.Context, caller common.Address, amount0Owed, amount1Owed *uint256.Int, data []byte) error {
	p.calls++
	p.lastData = data
	if p.reenter {
		_, _, err := p.pool.Mint(ctx, p.from, model.PriceRange{TickLower: -60, TickUpper: 60}, u(1), nil, p)
		return err
	}
	if p.shortBy > 0 && !amount0Owed.IsZero() {
		amount0Owed = new(uint256.Int).Sub(amount0Owed, u(p.shortBy))
	}
	if err := p.ledger.Transfer(p.pool.Token0(), p.from, caller, amount0Owed); err != nil {
		return err
	}
	return p.ledger.Transfer(p.pool.Token1(), p.from, caller, amount1Owed)
}

type fixture struct {
	ledger  *ledger.Ledger
	factory *Factory
	pool    *Pool
	payer   *payer
}

func newFixture(t *testing.T, startTick int32) *fixture {
	t.Helper()
	l := ledger.New(ledger.NewJournal(), common.Address{})
	f := NewFactory(factoryAddr, pooladdr.DefaultInitCodeHash, l)

	pool, err := f.CreatePool(tokenB, tokenA, 3000, sqrtAt(t, startTick))
	require.NoError(t, err)
	for _, acct := range []common.Address{lp, trader} {
		require.NoError(t, l.Mint(tokenA, acct, e18(1_000_000)))
		require.NoError(t, l.Mint(tokenB, acct, e18(1_000_000)))
	}
	return &fixture{ledger: l, factory: f, pool: pool, payer: &payer{ledger: l, pool: pool, from: lp}}
}

func TestCreatePoolAtCanonicalAddress(t *testing.T) {
	fx := newFixture(t, 0)
	id := model.NewPoolIdentity(factoryAddr, tokenA, tokenB, 3000)
	want, err := pooladdr.Compute(id, pooladdr.DefaultInitCodeHash)
	require.NoError(t, err)

	assert.Equal(t, want, fx.pool.Address())
	assert.Equal(t, tokenA, fx.pool.Token0())
	assert.Equal(t, int32(60), fx.pool.TickSpacing())

	got, ok := fx.factory.GetPool(tokenA, tokenB, 3000)
	require.True(t, ok)
	assert.Same(t, fx.pool, got)

	_, err = fx.factory.CreatePool(tokenA, tokenB, 3000, sqrtAt(t, 0))
	assert.ErrorIs(t, err, ErrPoolExists)
	_, err = fx.factory.CreatePool(tokenA, tokenB, 1234, sqrtAt(t, 0))
	assert.ErrorIs(t, err, ErrFeeNotEnabled)
	_, err = fx.factory.CreatePool(tokenA, tokenA, 3000, sqrtAt(t, 0))
	assert.ErrorIs(t, err, ErrIdenticalTokens)
}

func TestMintBelowRangeChargesToken0(t *testing.T) {
	fx := newFixture(t, 0)
	r := model.PriceRange{TickLower: 600, TickUpper: 1200}

	a0, a1, err := fx.pool.Mint(context.Background(), lp, r, u(34867), []byte{0xca, 0xfe}, fx.payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), a0.Uint64())
	assert.True(t, a1.IsZero())
	assert.Equal(t, []byte{0xca, 0xfe}, fx.payer.lastData)

	assert.Equal(t, uint64(1000), fx.ledger.BalanceOf(tokenA, fx.pool.Address()).Uint64())
	assert.Equal(t, uint64(34867), fx.pool.Positions(lp, r).Liquidity.Uint64())
	assert.True(t, fx.pool.Liquidity().IsZero(), "range above price adds no active liquidity")
}

func TestMintMatchesRoundedUpAmounts(t *testing.T) {
	fx := newFixture(t, 30)
	r := model.PriceRange{TickLower: -600, TickUpper: 600}
	liq := e18(3)

	price, _ := fx.pool.Slot0()
	want0, want1, err := liquidity.AmountsForLiquidity(liq, price, sqrtAt(t, -600), sqrtAt(t, 600), true)
	require.NoError(t, err)

	a0, a1, err := fx.pool.Mint(context.Background(), lp, r, liq, nil, fx.payer)
	require.NoError(t, err)
	assert.True(t, want0.Eq(a0))
	assert.True(t, want1.Eq(a1))
	assert.True(t, liq.Eq(fx.pool.Liquidity()))
}

func TestMintUnderpaidRevertsEverything(t *testing.T) {
	fx := newFixture(t, 0)
	fx.payer.shortBy = 1
	r := model.PriceRange{TickLower: -60, TickUpper: 60}
	before := fx.ledger.BalanceOf(tokenA, lp)

	_, _, err := fx.pool.Mint(context.Background(), lp, r, e18(1), nil, fx.payer)
	require.ErrorIs(t, err, ErrInsufficientPayment)

	assert.True(t, fx.pool.Liquidity().IsZero())
	assert.True(t, fx.pool.Positions(lp, r).Liquidity.IsZero())
	assert.Empty(t, fx.pool.state.ticks)
	assert.True(t, before.Eq(fx.ledger.BalanceOf(tokenA, lp)))
	assert.True(t, fx.ledger.BalanceOf(tokenA, fx.pool.Address()).IsZero())
}

func TestMintRejectsReentry(t *testing.T) {
	fx := newFixture(t, 0)
	fx.payer.reenter = true
	_, _, err := fx.pool.Mint(context.Background(), lp, model.PriceRange{TickLower: -60, TickUpper: 60}, u(1000), nil, fx.payer)
	require.ErrorIs(t, err, ErrLocked)
	assert.Empty(t, fx.pool.state.positions)
}

func TestMintValidation(t *testing.T) {
	fx := newFixture(t, 0)
	_, _, err := fx.pool.Mint(context.Background(), lp, model.PriceRange{TickLower: -60, TickUpper: 60}, new(uint256.Int), nil, fx.payer)
	assert.ErrorIs(t, err, ErrZeroLiquidity)

	_, _, err = fx.pool.Mint(context.Background(), lp, model.PriceRange{TickLower: -50, TickUpper: 60}, u(1), nil, fx.payer)
	assert.ErrorIs(t, err, model.ErrInvalidRange)

	tooMuch := new(uint256.Int).Add(tickmath.MaxLiquidityPerTick(60), u(1))
	_, _, err = fx.pool.Mint(context.Background(), lp, model.PriceRange{TickLower: -60, TickUpper: 60}, tooMuch, nil, fx.payer)
	assert.ErrorIs(t, err, ErrTickLiquidityOverflow)
	assert.Zero(t, fx.payer.calls)
}

func TestBurnAndCollectNeverExceedDeposit(t *testing.T) {
	fx := newFixture(t, 0)
	r := model.PriceRange{TickLower: -120, TickUpper: 180}
	ctx := context.Background()

	a0, a1, err := fx.pool.Mint(ctx, lp, r, u(123456789), nil, fx.payer)
	require.NoError(t, err)

	b0, b1, err := fx.pool.Burn(ctx, lp, r, u(123456789))
	require.NoError(t, err)
	assert.True(t, b0.Cmp(a0) <= 0)
	assert.True(t, b1.Cmp(a1) <= 0)

	info := fx.pool.Positions(lp, r)
	assert.True(t, info.Liquidity.IsZero())
	assert.True(t, info.TokensOwed0.Eq(b0))

	recipient := common.HexToAddress("0x0000000000000000000000000000000000003333")
	c0, c1, err := fx.pool.Collect(ctx, lp, recipient, r, new(uint256.Int).SetAllOne(), new(uint256.Int).SetAllOne())
	require.NoError(t, err)
	assert.True(t, c0.Eq(b0))
	assert.True(t, c1.Eq(b1))
	assert.True(t, b0.Eq(fx.ledger.BalanceOf(tokenA, recipient)))
	assert.Empty(t, fx.pool.state.positions, "fully collected position is cleared")
	assert.Empty(t, fx.pool.state.ticks)
}

var otherLP = common.HexToAddress("0x0000000000000000000000000000000000004444")

// fundOther gives otherLP balances and a payer of its own.
func (fx *fixture) fundOther(t *testing.T) *payer {
	t.Helper()
	require.NoError(t, fx.ledger.Mint(tokenA, otherLP, e18(1_000_000)))
	require.NoError(t, fx.ledger.Mint(tokenB, otherLP, e18(1_000_000)))
	return &payer{ledger: fx.ledger, pool: fx.pool, from: otherLP}
}

// owedByPositions sums what every open position could withdraw right now:
// principal at the current price rounded down, credited fees and fees
// accrued since the last checkpoint.
func owedByPositions(t *testing.T, p *Pool) (*uint256.Int, *uint256.Int) {
	t.Helper()
	s := p.state
	total0, total1 := new(uint256.Int), new(uint256.Int)
	for key, info := range s.positions {
		a0, a1, err := liquidity.AmountsForLiquidity(info.Liquidity, s.sqrtPriceX96,
			sqrtAt(t, key.rng.TickLower), sqrtAt(t, key.rng.TickUpper), false)
		require.NoError(t, err)
		in0, in1 := s.ticks.feeGrowthInside(key.rng.TickLower, key.rng.TickUpper, s.tick,
			s.feeGrowthGlobal0X128, s.feeGrowthGlobal1X128)
		f0, err := fullmath.MulDiv(new(uint256.Int).Sub(in0, info.FeeGrowthInside0LastX128), info.Liquidity, liquidity.Q128)
		require.NoError(t, err)
		f1, err := fullmath.MulDiv(new(uint256.Int).Sub(in1, info.FeeGrowthInside1LastX128), info.Liquidity, liquidity.Q128)
		require.NoError(t, err)
		total0.Add(total0, a0).Add(total0, f0).Add(total0, info.TokensOwed0)
		total1.Add(total1, a1).Add(total1, f1).Add(total1, info.TokensOwed1)
	}
	return total0, total1
}

func requireSolvent(t *testing.T, fx *fixture, step string) {
	t.Helper()
	owed0, owed1 := owedByPositions(t, fx.pool)
	held0 := fx.ledger.BalanceOf(tokenA, fx.pool.Address())
	held1 := fx.ledger.BalanceOf(tokenB, fx.pool.Address())
	require.True(t, owed0.Cmp(held0) <= 0, "%s: token0 owed %s held %s", step, owed0.ToBig(), held0.ToBig())
	require.True(t, owed1.Cmp(held1) <= 0, "%s: token1 owed %s held %s", step, owed1.ToBig(), held1.ToBig())
}

func TestLateDepositEarnsNoEarlierFees(t *testing.T) {
	fx := newFixture(t, 0)
	other := fx.fundOther(t)
	ctx := context.Background()
	wide := model.PriceRange{TickLower: -1200, TickUpper: 1200}
	narrow := model.PriceRange{TickLower: -600, TickUpper: 600}

	_, _, err := fx.pool.Mint(ctx, otherLP, wide, e18(1), nil, other)
	require.NoError(t, err)
	require.NoError(t, fx.pool.Donate(ctx, trader, u(1_000_000), u(1_000_000)))

	// The narrow range's ticks are fresh and get emptied by the burn below.
	a0, a1, err := fx.pool.Mint(ctx, lp, narrow, e18(1), nil, fx.payer)
	require.NoError(t, err)
	b0, b1, err := fx.pool.Burn(ctx, lp, narrow, e18(1))
	require.NoError(t, err)

	info := fx.pool.Positions(lp, narrow)
	assert.True(t, info.TokensOwed0.Eq(b0), "owed0 %s principal %s", info.TokensOwed0.ToBig(), b0.ToBig())
	assert.True(t, info.TokensOwed1.Eq(b1), "owed1 %s principal %s", info.TokensOwed1.ToBig(), b1.ToBig())
	requireSolvent(t, fx, "after burn")

	c0, c1, err := fx.pool.Collect(ctx, lp, lp, narrow, new(uint256.Int).SetAllOne(), new(uint256.Int).SetAllOne())
	require.NoError(t, err)
	assert.True(t, c0.Cmp(a0) <= 0)
	assert.True(t, c1.Cmp(a1) <= 0)
	_, ok := fx.pool.state.ticks[narrow.TickLower]
	assert.False(t, ok, "emptied lower tick is cleared")
	_, ok = fx.pool.state.ticks[narrow.TickUpper]
	assert.False(t, ok, "emptied upper tick is cleared")

	// The wide range still earns the whole donation.
	_, _, err = fx.pool.Burn(ctx, otherLP, wide, new(uint256.Int))
	require.NoError(t, err)
	wideInfo := fx.pool.Positions(otherLP, wide)
	assert.InDelta(t, 1_000_000, wideInfo.TokensOwed0.Uint64(), 1)
	assert.InDelta(t, 1_000_000, wideInfo.TokensOwed1.Uint64(), 1)
	requireSolvent(t, fx, "after poke")
}

func TestCrossedRangeKeepsItsFees(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	r := model.PriceRange{TickLower: 600, TickUpper: 1200}
	liq := e18(1)

	_, _, err := fx.pool.Mint(ctx, lp, r, liq, nil, fx.payer)
	require.NoError(t, err)

	_, _, err = fx.pool.Reprice(ctx, trader, sqrtAt(t, 900))
	require.NoError(t, err)
	require.True(t, liq.Eq(fx.pool.Liquidity()))
	require.NoError(t, fx.pool.Donate(ctx, trader, u(2_000_000), u(2_000_000)))
	_, _, err = fx.pool.Reprice(ctx, trader, sqrtAt(t, 0))
	require.NoError(t, err)
	require.True(t, fx.pool.Liquidity().IsZero())
	requireSolvent(t, fx, "after crossing back")

	b0, b1, err := fx.pool.Burn(ctx, lp, r, liq)
	require.NoError(t, err)
	assert.True(t, b1.IsZero(), "price below the range holds only token0")

	info := fx.pool.Positions(lp, r)
	fees0 := new(uint256.Int).Sub(info.TokensOwed0, b0)
	assert.InDelta(t, 2_000_000, fees0.Uint64(), 1)
	assert.InDelta(t, 2_000_000, info.TokensOwed1.Uint64(), 1)
	requireSolvent(t, fx, "after burn")
	assert.Empty(t, fx.pool.state.ticks)

	_, _, err = fx.pool.Collect(ctx, lp, lp, r, new(uint256.Int).SetAllOne(), new(uint256.Int).SetAllOne())
	require.NoError(t, err)
	// Only rounding dust stays behind.
	assert.LessOrEqual(t, fx.ledger.BalanceOf(tokenA, fx.pool.Address()).Uint64(), uint64(10))
	assert.LessOrEqual(t, fx.ledger.BalanceOf(tokenB, fx.pool.Address()).Uint64(), uint64(10))
}

func TestPoolStaysSolventAcrossMixedActivity(t *testing.T) {
	fx := newFixture(t, 0)
	other := fx.fundOther(t)
	ctx := context.Background()
	narrow := model.PriceRange{TickLower: -600, TickUpper: 600}
	wide := model.PriceRange{TickLower: -1200, TickUpper: 1200}
	high := model.PriceRange{TickLower: 600, TickUpper: 1200}
	all := new(uint256.Int).SetAllOne()

	steps := []struct {
		name string
		run  func() error
	}{
		{"lp mints narrow", func() error { _, _, err := fx.pool.Mint(ctx, lp, narrow, e18(2), nil, fx.payer); return err }},
		{"other mints wide", func() error { _, _, err := fx.pool.Mint(ctx, otherLP, wide, e18(1), nil, other); return err }},
		{"other mints high", func() error { _, _, err := fx.pool.Mint(ctx, otherLP, high, e18(3), nil, other); return err }},
		{"donate at 0", func() error { return fx.pool.Donate(ctx, trader, u(1_000_000), u(3_000_000)) }},
		{"reprice to 900", func() error { _, _, err := fx.pool.Reprice(ctx, trader, sqrtAt(t, 900)); return err }},
		{"donate at 900", func() error { return fx.pool.Donate(ctx, trader, u(5_000_000), u(7_000_000)) }},
		{"lp burns half", func() error { _, _, err := fx.pool.Burn(ctx, lp, narrow, e18(1)); return err }},
		{"reprice to -300", func() error { _, _, err := fx.pool.Reprice(ctx, trader, sqrtAt(t, -300)); return err }},
		{"donate at -300", func() error { return fx.pool.Donate(ctx, trader, u(11_000_000), u(13_000_000)) }},
		{"other burns high", func() error { _, _, err := fx.pool.Burn(ctx, otherLP, high, e18(3)); return err }},
		{"other collects high", func() error { _, _, err := fx.pool.Collect(ctx, otherLP, otherLP, high, all, all); return err }},
		{"lp collects part", func() error { _, _, err := fx.pool.Collect(ctx, lp, lp, narrow, u(1000), u(1000)); return err }},
		{"lp mints high", func() error { _, _, err := fx.pool.Mint(ctx, lp, high, e18(1), nil, fx.payer); return err }},
		{"reprice to 1000", func() error { _, _, err := fx.pool.Reprice(ctx, trader, sqrtAt(t, 1000)); return err }},
		{"lp burns rest", func() error { _, _, err := fx.pool.Burn(ctx, lp, narrow, e18(1)); return err }},
		{"other burns wide", func() error { _, _, err := fx.pool.Burn(ctx, otherLP, wide, e18(1)); return err }},
		{"lp collects narrow", func() error { _, _, err := fx.pool.Collect(ctx, lp, lp, narrow, all, all); return err }},
		{"other collects wide", func() error { _, _, err := fx.pool.Collect(ctx, otherLP, otherLP, wide, all, all); return err }},
	}
	for _, step := range steps {
		require.NoError(t, step.run(), step.name)
		requireSolvent(t, fx, step.name)
	}
}

func TestBurnMoreThanPositionFails(t *testing.T) {
	fx := newFixture(t, 0)
	r := model.PriceRange{TickLower: -60, TickUpper: 60}
	ctx := context.Background()

	_, _, err := fx.pool.Burn(ctx, lp, r, u(1))
	require.ErrorIs(t, err, model.ErrInsufficientLiquidity)

	_, _, err = fx.pool.Mint(ctx, lp, r, u(1000), nil, fx.payer)
	require.NoError(t, err)
	_, _, err = fx.pool.Burn(ctx, lp, r, u(1001))
	require.ErrorIs(t, err, model.ErrInsufficientLiquidity)
	assert.Equal(t, uint64(1000), fx.pool.Positions(lp, r).Liquidity.Uint64())
	assert.Equal(t, uint64(1000), fx.pool.Liquidity().Uint64())
}

func TestDonateAccruesFeesToInRangeLiquidity(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	in := model.PriceRange{TickLower: -60, TickUpper: 60}
	out := model.PriceRange{TickLower: 600, TickUpper: 1200}

	require.ErrorIs(t, fx.pool.Donate(ctx, trader, u(1), u(1)), ErrNoInRangeLiquidity)

	_, _, err := fx.pool.Mint(ctx, lp, in, e18(1), nil, fx.payer)
	require.NoError(t, err)
	_, _, err = fx.pool.Mint(ctx, lp, out, e18(1), nil, fx.payer)
	require.NoError(t, err)

	require.NoError(t, fx.pool.Donate(ctx, trader, u(1000), u(2000)))

	_, _, err = fx.pool.Burn(ctx, lp, in, new(uint256.Int))
	require.NoError(t, err)
	_, _, err = fx.pool.Burn(ctx, lp, out, new(uint256.Int))
	require.NoError(t, err)

	inInfo := fx.pool.Positions(lp, in)
	assert.InDelta(t, 1000, inInfo.TokensOwed0.Uint64(), 1)
	assert.InDelta(t, 2000, inInfo.TokensOwed1.Uint64(), 1)
	outInfo := fx.pool.Positions(lp, out)
	assert.True(t, outInfo.TokensOwed0.IsZero())
	assert.True(t, outInfo.TokensOwed1.IsZero())
}

func TestRepriceCrossesTicks(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	r := model.PriceRange{TickLower: -60, TickUpper: 60}
	liq := e18(1)

	_, _, err := fx.pool.Mint(ctx, lp, r, liq, nil, fx.payer)
	require.NoError(t, err)

	paid0, paid1, err := fx.pool.Reprice(ctx, trader, sqrtAt(t, 120))
	require.NoError(t, err)
	assert.True(t, paid0.IsZero())
	assert.False(t, paid1.IsZero())
	price, tick := fx.pool.Slot0()
	assert.True(t, price.Eq(sqrtAt(t, 120)))
	assert.Equal(t, int32(120), tick)
	assert.True(t, fx.pool.Liquidity().IsZero(), "price above the range leaves no active liquidity")

	// The whole range is now token1.
	_, b1, err := fx.pool.Burn(ctx, lp, r, new(uint256.Int).Rsh(liq, 1))
	require.NoError(t, err)
	assert.False(t, b1.IsZero())

	_, _, err = fx.pool.Reprice(ctx, trader, sqrtAt(t, 0))
	require.NoError(t, err)
	_, tick = fx.pool.Slot0()
	assert.Equal(t, int32(0), tick)
	assert.True(t, new(uint256.Int).Sub(liq, new(uint256.Int).Rsh(liq, 1)).Eq(fx.pool.Liquidity()))

	_, _, err = fx.pool.Reprice(ctx, trader, sqrtAt(t, -60))
	require.NoError(t, err)
	_, tick = fx.pool.Slot0()
	assert.Equal(t, int32(-61), tick, "stopping on an initialized tick moving down leaves the tick below it")
	assert.True(t, fx.pool.Liquidity().IsZero())
}

func TestRepriceRejectsOutOfBounds(t *testing.T) {
	fx := newFixture(t, 0)
	_, _, err := fx.pool.Reprice(context.Background(), trader, tickmath.MaxSqrtRatio)
	assert.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestRepriceWithoutFundsRevertsPrice(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	_, _, err := fx.pool.Mint(ctx, lp, model.PriceRange{TickLower: -60, TickUpper: 60}, e18(1), nil, fx.payer)
	require.NoError(t, err)

	broke := common.HexToAddress("0x0000000000000000000000000000000000009999")
	_, _, err = fx.pool.Reprice(ctx, broke, sqrtAt(t, 30))
	require.True(t, errors.Is(err, ledger.ErrInsufficientBalance))
	price, tick := fx.pool.Slot0()
	assert.True(t, price.Eq(sqrtAt(t, 0)))
	assert.Equal(t, int32(0), tick)
}
