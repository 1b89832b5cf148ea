package position

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lpManager/internal/fullmath"
	"lpManager/internal/ledger"
	"lpManager/internal/liquidity"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
	"lpManager/internal/sim"
	"lpManager/internal/tickmath"
)

var (
	factoryAddr = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	tokLow      = common.HexToAddress("0x0000000000000000000000000000000000000010")
	weth        = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	tokHigh     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	managerAddr = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	alice       = common.HexToAddress("0x000000000000000000000000000000000000a1ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	trader      = common.HexToAddress("0x0000000000000000000000000000000000007777")

	below  = model.PriceRange{TickLower: 600, TickUpper: 1200}
	around = model.PriceRange{TickLower: -600, TickUpper: 600}
)

var _ Pool = (*sim.Pool)(nil)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

var bigBalance = new(uint256.Int).Lsh(u(1), 100)

type world struct {
	ledger  *ledger.Ledger
	factory *sim.Factory
	manager *Manager
	plain   *sim.Pool // tokLow / tokHigh
	native0 *sim.Pool // weth / tokHigh
	native1 *sim.Pool // tokLow / weth
}

func newWorld(t *testing.T) *world {
	t.Helper()
	l := ledger.New(ledger.NewJournal(), weth)
	f := sim.NewFactory(factoryAddr, pooladdr.DefaultInitCodeHash, l)
	price, err := tickmath.TickToSqrtPrice(0)
	require.NoError(t, err)

	w := &world{ledger: l, factory: f}
	w.plain, err = f.CreatePool(tokHigh, tokLow, 3000, price)
	require.NoError(t, err)
	w.native0, err = f.CreatePool(weth, tokHigh, 3000, price)
	require.NoError(t, err)
	w.native1, err = f.CreatePool(tokLow, weth, 3000, price)
	require.NoError(t, err)

	for _, acct := range []common.Address{alice, bob, trader} {
		for _, token := range []common.Address{tokLow, weth, tokHigh} {
			require.NoError(t, l.Mint(token, acct, bigBalance))
		}
		require.NoError(t, l.FundNative(acct, bigBalance))
	}
	w.manager = New(Config{Address: managerAddr, WrappedNative: weth}, l, zaptest.NewLogger(t))
	return w
}

func (w *world) approve(owner common.Address, tokens ...common.Address) {
	for _, token := range tokens {
		w.ledger.Approve(token, owner, managerAddr, new(uint256.Int).SetAllOne())
	}
}

func (w *world) balances(accts ...common.Address) []string {
	var out []string
	for _, acct := range accts {
		for _, token := range []common.Address{tokLow, weth, tokHigh} {
			out = append(out, w.ledger.BalanceOf(token, acct).Hex())
		}
		out = append(out, w.ledger.NativeBalance(acct).Hex())
	}
	return out
}

func sqrtAt(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	v, err := tickmath.TickToSqrtPrice(tick)
	require.NoError(t, err)
	return v
}

func TestAddLPRangeAbovePriceUsesToken0Only(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)

	res, err := w.manager.AddLP(context.Background(), AddRequest{
		Owner:          alice,
		Pool:           w.plain,
		Range:          below,
		Amount0Desired: u(1000),
		Amount1Desired: u(0),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(34867), res.Liquidity.Uint64())
	assert.Equal(t, uint64(1000), res.Amount0.Uint64())
	assert.True(t, res.Amount1.IsZero())
	assert.Equal(t, model.NeitherIsNative, res.NativeCase)
	assert.NotEmpty(t, res.ID)

	pos, ok := w.manager.Position(res.Key)
	require.True(t, ok)
	assert.Equal(t, uint64(34867), pos.Liquidity.Uint64())
	assert.True(t, pos.TokensOwed0.IsZero())
	assert.True(t, pos.TokensOwed1.IsZero())

	want := new(uint256.Int).Sub(bigBalance, u(1000))
	assert.True(t, want.Eq(w.ledger.BalanceOf(tokLow, alice)))
	assert.True(t, bigBalance.Eq(w.ledger.BalanceOf(tokHigh, alice)))
}

func TestAddLPToken0NativeExactValue(t *testing.T) {
	w := newWorld(t)
	// Only the non-native token is approved.
	w.approve(alice, tokHigh)
	ctx := context.Background()

	q, err := w.manager.Preview(ctx, w.native0, below, u(1000), u(0))
	require.NoError(t, err)
	require.Equal(t, model.Token0IsNative, q.NativeCase)
	require.Equal(t, uint64(1000), q.Amount0.Uint64())

	res, err := w.manager.AddLP(ctx, AddRequest{
		Owner:          alice,
		Pool:           w.native0,
		Range:          below,
		Amount0Desired: u(1000),
		Amount1Desired: u(0),
		NativeValue:    u(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, model.Token0IsNative, res.NativeCase)
	assert.Equal(t, uint64(1000), res.Amount0.Uint64())
	assert.Equal(t, uint64(1000), res.NativeUsed.Uint64())
	assert.True(t, res.NativeRefund.IsZero())

	assert.True(t, new(uint256.Int).Sub(bigBalance, u(1000)).Eq(w.ledger.NativeBalance(alice)))
	assert.True(t, bigBalance.Eq(w.ledger.BalanceOf(weth, alice)), "wrapped balance is not pulled")
	assert.True(t, w.ledger.BalanceOf(weth, managerAddr).IsZero())
	assert.True(t, w.ledger.NativeBalance(managerAddr).IsZero())
	assert.Equal(t, uint64(1000), w.ledger.BalanceOf(weth, w.native0.Address()).Uint64())
}

func TestAddLPToken1NativeRefundsExcess(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow)

	res, err := w.manager.AddLP(context.Background(), AddRequest{
		Owner:          alice,
		Pool:           w.native1,
		Range:          around,
		Amount0Desired: u(1_000_000),
		Amount1Desired: u(5000),
		NativeValue:    u(6000),
	})
	require.NoError(t, err)
	assert.Equal(t, model.Token1IsNative, res.NativeCase)
	assert.True(t, res.Amount1.Eq(res.NativeUsed))
	assert.True(t, res.Amount1.Cmp(u(5000)) <= 0)
	assert.True(t, new(uint256.Int).Sub(u(6000), res.NativeUsed).Eq(res.NativeRefund))

	assert.True(t, new(uint256.Int).Sub(bigBalance, res.NativeUsed).Eq(w.ledger.NativeBalance(alice)))
	assert.True(t, w.ledger.BalanceOf(weth, managerAddr).IsZero())
	assert.True(t, w.ledger.NativeBalance(managerAddr).IsZero())
}

func TestAddLPNativeValueChecks(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	ctx := context.Background()

	_, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.native0, Range: below, Amount0Desired: u(1000), NativeValue: u(999)})
	assert.ErrorIs(t, err, ErrInsufficientNativeValue)

	_, err = w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: below, Amount0Desired: u(1000), NativeValue: u(1)})
	assert.ErrorIs(t, err, ErrUnexpectedNativeValue)
	assert.True(t, bigBalance.Eq(w.ledger.NativeBalance(alice)))
}

func TestAddLPInvalidRange(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	before := w.balances(alice)

	for _, r := range []model.PriceRange{
		{TickLower: 600, TickUpper: 600},
		{TickLower: 610, TickUpper: 1200},
		{TickLower: 1200, TickUpper: 600},
		{TickLower: -887280, TickUpper: 600},
	} {
		_, err := w.manager.AddLP(context.Background(), AddRequest{
			Owner: alice, Pool: w.plain, Range: r, Amount0Desired: u(1000), Amount1Desired: u(1000),
		})
		assert.ErrorIs(t, err, model.ErrInvalidRange, "range %s", r)
	}
	assert.Equal(t, before, w.balances(alice))
	assert.Empty(t, w.manager.Positions())
}

func TestAddLPInsufficientLiquidity(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	ctx := context.Background()

	_, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: below, Amount0Desired: u(0), Amount1Desired: u(0)})
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)

	// Only token0 can fund a range above the price.
	_, err = w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: below, Amount1Desired: u(1_000_000)})
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)
	assert.Zero(t, w.manager.Settler().Pending())
}

func TestAddLPMissingApprovalRollsBack(t *testing.T) {
	w := newWorld(t)
	before := w.balances(alice, managerAddr)

	_, err := w.manager.AddLP(context.Background(), AddRequest{
		Owner:          alice,
		Pool:           w.native1,
		Range:          around,
		Amount0Desired: u(100_000),
		Amount1Desired: u(100_000),
		NativeValue:    u(200_000),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	assert.Equal(t, before, w.balances(alice, managerAddr), "native value is returned")
	assert.True(t, w.native1.Positions(managerAddr, around).Liquidity.IsZero())
	assert.True(t, w.native1.Liquidity().IsZero())
	assert.Empty(t, w.manager.Positions())
	assert.Zero(t, w.manager.Settler().Pending())
}

// spoofingPool passes a different caller to the settlement callback than
// the pool's own address.
type spoofingPool struct {
	*sim.Pool
	caller common.Address
}

func (s spoofingPool) Mint(ctx context.Context, recipient common.Address, r model.PriceRange, amount *uint256.Int, data []byte, cb model.MintCallback) (*uint256.Int, *uint256.Int, error) {
	return s.Pool.Mint(ctx, recipient, r, amount, data, callerOverride{cb: cb, caller: s.caller})
}

type callerOverride struct {
	cb     model.MintCallback
	caller common.Address
}

func (c callerOverride) MintCallback(ctx context.Context, _ common.Address, amount0Owed, amount1Owed *uint256.Int, data []byte) error {
	return c.cb.MintCallback(ctx, c.caller, amount0Owed, amount1Owed, data)
}

func TestAddLPCallbackAuthorizationFailureRollsBack(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow)
	before := w.balances(alice, managerAddr)
	pool := spoofingPool{Pool: w.native1, caller: common.HexToAddress("0x000000000000000000000000000000000000dead")}

	_, err := w.manager.AddLP(context.Background(), AddRequest{
		Owner:          alice,
		Pool:           pool,
		Range:          around,
		Amount0Desired: u(100_000),
		Amount1Desired: u(100_000),
		NativeValue:    u(200_000),
	})
	require.ErrorIs(t, err, model.ErrCallbackAuthorization)

	assert.Equal(t, before, w.balances(alice, managerAddr))
	assert.True(t, w.native1.Liquidity().IsZero())
	assert.Empty(t, w.manager.Positions())
	assert.Zero(t, w.manager.Settler().Pending())
	assert.Zero(t, w.ledger.Journal().Length(), "journal is empty once the operation is over")
}

func TestAddLPRejectsNonCanonicalPool(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	fake, err := sim.Deploy(common.HexToAddress("0x000000000000000000000000000000000000beef"),
		w.plain.Identity(), 60, sqrtAt(t, 0), w.ledger)
	require.NoError(t, err)

	_, err = w.manager.AddLP(context.Background(), AddRequest{Owner: alice, Pool: fake, Range: around, Amount0Desired: u(1000), Amount1Desired: u(1000)})
	require.ErrorIs(t, err, model.ErrCallbackAuthorization)
	assert.True(t, bigBalance.Eq(w.ledger.BalanceOf(tokLow, alice)))
}

func TestRemoveLPMoreThanRecorded(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	ctx := context.Background()

	res, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(50_000), Amount1Desired: u(50_000)})
	require.NoError(t, err)
	before := w.balances(alice, w.plain.Address())

	_, err = w.manager.RemoveLP(ctx, RemoveRequest{
		Owner:     alice,
		Pool:      w.plain,
		Range:     around,
		Liquidity: new(uint256.Int).Add(res.Liquidity, u(1)),
	})
	require.ErrorIs(t, err, model.ErrInsufficientLiquidity)
	assert.Equal(t, before, w.balances(alice, w.plain.Address()), "no token movement")

	pos, ok := w.manager.Position(res.Key)
	require.True(t, ok)
	assert.True(t, res.Liquidity.Eq(pos.Liquidity))
}

func TestRemoveLPWithoutPosition(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: around, Liquidity: u(1)})
	assert.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: model.PriceRange{TickLower: 5, TickUpper: 5}, Liquidity: u(1)})
	assert.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestDepositThenWithdrawNeverReturnsMore(t *testing.T) {
	ranges := []model.PriceRange{below, around, {TickLower: -1200, TickUpper: -600}, {TickLower: -60, TickUpper: 60}}
	for _, r := range ranges {
		t.Run(r.String(), func(t *testing.T) {
			w := newWorld(t)
			w.approve(alice, tokLow, tokHigh)
			ctx := context.Background()

			add, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: r, Amount0Desired: u(987_654_321), Amount1Desired: u(123_456_789)})
			require.NoError(t, err)

			rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: r, Liquidity: add.Liquidity})
			require.NoError(t, err)
			assert.True(t, rm.Collected0.Cmp(add.Amount0) <= 0)
			assert.True(t, rm.Collected1.Cmp(add.Amount1) <= 0)
			assert.True(t, add.Amount0.Cmp(new(uint256.Int).Add(rm.Collected0, u(1))) <= 0)
			assert.True(t, add.Amount1.Cmp(new(uint256.Int).Add(rm.Collected1, u(1))) <= 0)
			assert.True(t, rm.Fees0.IsZero())
			assert.True(t, rm.Closed)

			_, ok := w.manager.Position(add.Key)
			assert.False(t, ok, "closed position leaves the tracking set")
			assert.True(t, w.plain.Positions(managerAddr, r).Liquidity.IsZero())
		})
	}
}

func TestPartialRemoveKeepsPosition(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	ctx := context.Background()

	add, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1_000_000), Amount1Desired: u(1_000_000)})
	require.NoError(t, err)
	half := new(uint256.Int).Rsh(add.Liquidity, 1)

	rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: around, Liquidity: half})
	require.NoError(t, err)
	assert.False(t, rm.Closed)
	assert.True(t, rm.Collected0.Eq(rm.Principal0))

	pos, ok := w.manager.Position(add.Key)
	require.True(t, ok)
	assert.True(t, new(uint256.Int).Sub(add.Liquidity, half).Eq(pos.Liquidity))
	assert.True(t, pos.TokensOwed0.IsZero())
	assert.True(t, pos.Liquidity.Eq(w.plain.Positions(managerAddr, around).Liquidity))
}

func TestFeesSplitByOwnerLiquidity(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	w.approve(bob, tokLow, tokHigh)
	ctx := context.Background()

	a, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1e12), Amount1Desired: u(1e12)})
	require.NoError(t, err)
	b, err := w.manager.AddLP(ctx, AddRequest{Owner: bob, Pool: w.plain, Range: around, Amount0Desired: u(3e12), Amount1Desired: u(3e12)})
	require.NoError(t, err)
	total := new(uint256.Int).Add(a.Liquidity, b.Liquidity)
	require.True(t, total.Eq(w.plain.Positions(managerAddr, around).Liquidity))

	require.NoError(t, w.plain.Donate(ctx, trader, u(4_000_000), u(8_000_000)))
	growth0, growth1 := w.plain.FeeGrowthGlobal()

	// Bob tops up after the donation; his earned fees must survive the new checkpoint.
	_, err = w.manager.AddLP(ctx, AddRequest{Owner: bob, Pool: w.plain, Range: around, Amount0Desired: u(1e12), Amount1Desired: u(1e12)})
	require.NoError(t, err)

	for _, tc := range []struct {
		owner common.Address
		liq   *uint256.Int
	}{{alice, a.Liquidity}, {bob, b.Liquidity}} {
		want0, err := fullmath.MulDiv(growth0, tc.liq, liquidity.Q128)
		require.NoError(t, err)
		want1, err := fullmath.MulDiv(growth1, tc.liq, liquidity.Q128)
		require.NoError(t, err)

		pos, ok := w.manager.Position(model.PositionKey{Owner: tc.owner, Pool: w.plain.Identity(), Range: around})
		require.True(t, ok)
		rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: tc.owner, Pool: w.plain, Range: around, Liquidity: pos.Liquidity})
		require.NoError(t, err)

		got0 := new(uint256.Int).Sub(rm.Collected0, rm.Principal0)
		got1 := new(uint256.Int).Sub(rm.Collected1, rm.Principal1)
		assert.True(t, want0.Eq(got0), "owner %s fees0 want %s got %s", tc.owner.Hex(), want0.ToBig(), got0.ToBig())
		assert.True(t, want1.Eq(got1), "owner %s fees1 want %s got %s", tc.owner.Hex(), want1.ToBig(), got1.ToBig())
		assert.True(t, rm.Closed)
	}
	assert.Empty(t, w.manager.Positions())
}

func TestLateDepositCollectsNoEarlierFees(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	w.approve(bob, tokLow, tokHigh)
	ctx := context.Background()
	wide := model.PriceRange{TickLower: -1200, TickUpper: 1200}

	_, err := w.manager.AddLP(ctx, AddRequest{Owner: bob, Pool: w.plain, Range: wide, Amount0Desired: u(1e12), Amount1Desired: u(1e12)})
	require.NoError(t, err)
	require.NoError(t, w.plain.Donate(ctx, trader, u(1_000_000), u(1_000_000)))

	add, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1e12), Amount1Desired: u(1e12)})
	require.NoError(t, err)
	rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: around, Liquidity: add.Liquidity})
	require.NoError(t, err)
	assert.True(t, rm.Fees0.IsZero(), "fees0 %s", rm.Fees0.ToBig())
	assert.True(t, rm.Fees1.IsZero(), "fees1 %s", rm.Fees1.ToBig())
	assert.True(t, rm.Collected0.Cmp(add.Amount0) <= 0)
	assert.True(t, rm.Collected1.Cmp(add.Amount1) <= 0)
	assert.True(t, rm.Closed)

	pos, ok := w.manager.Position(model.PositionKey{Owner: bob, Pool: w.plain.Identity(), Range: wide})
	require.True(t, ok)
	bobRm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: bob, Pool: w.plain, Range: wide, Liquidity: pos.Liquidity})
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000, bobRm.Fees0.Uint64(), 1)
	assert.InDelta(t, 1_000_000, bobRm.Fees1.Uint64(), 1)
}

func TestCrossedRangeCollectsFeesEarnedInside(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	ctx := context.Background()

	add, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: below, Amount0Desired: u(1e12), Amount1Desired: u(0)})
	require.NoError(t, err)

	_, _, err = w.plain.Reprice(ctx, trader, sqrtAt(t, 900))
	require.NoError(t, err)
	require.NoError(t, w.plain.Donate(ctx, trader, u(2_000_000), u(2_000_000)))
	_, _, err = w.plain.Reprice(ctx, trader, sqrtAt(t, 0))
	require.NoError(t, err)

	rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.plain, Range: below, Liquidity: add.Liquidity})
	require.NoError(t, err)
	assert.InDelta(t, 2_000_000, rm.Fees0.Uint64(), 1)
	assert.InDelta(t, 2_000_000, rm.Fees1.Uint64(), 1)
	assert.True(t, new(uint256.Int).Add(rm.Principal0, rm.Fees0).Eq(rm.Collected0))
	assert.True(t, new(uint256.Int).Add(rm.Principal1, rm.Fees1).Eq(rm.Collected1))
	assert.True(t, rm.Closed)
	assert.LessOrEqual(t, w.ledger.BalanceOf(tokLow, w.plain.Address()).Uint64(), uint64(10))
	assert.LessOrEqual(t, w.ledger.BalanceOf(tokHigh, w.plain.Address()).Uint64(), uint64(10))
}

func TestPriceReadFreshOnEveryCall(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	w.approve(bob, tokLow, tokHigh)
	ctx := context.Background()

	desired0, desired1 := u(1_000_000), u(1_000_000)
	before, err := w.manager.Preview(ctx, w.plain, around, desired0, desired1)
	require.NoError(t, err)
	_, err = w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: desired0, Amount1Desired: desired1})
	require.NoError(t, err)

	_, _, err = w.plain.Reprice(ctx, trader, sqrtAt(t, 300))
	require.NoError(t, err)

	after, err := w.manager.Preview(ctx, w.plain, around, desired0, desired1)
	require.NoError(t, err)
	assert.Equal(t, int32(300), after.Tick)
	assert.NotEqual(t, before.Liquidity.Uint64(), after.Liquidity.Uint64())
	assert.True(t, after.Amount0.Lt(after.Amount1), "less token0 is needed above the midpoint")

	res, err := w.manager.AddLP(ctx, AddRequest{Owner: bob, Pool: w.plain, Range: around, Amount0Desired: desired0, Amount1Desired: desired1})
	require.NoError(t, err)
	assert.True(t, after.Liquidity.Eq(res.Liquidity))
	assert.True(t, after.Amount0.Eq(res.Amount0))
	assert.True(t, after.Amount1.Eq(res.Amount1))
}

func TestRemoveLPUnwrapsNativeLeg(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokHigh)
	ctx := context.Background()

	add, err := w.manager.AddLP(ctx, AddRequest{
		Owner:          alice,
		Pool:           w.native0,
		Range:          around,
		Amount0Desired: u(500_000),
		Amount1Desired: u(500_000),
		NativeValue:    u(600_000),
	})
	require.NoError(t, err)
	nativeBefore := w.ledger.NativeBalance(alice)
	wethBefore := w.ledger.BalanceOf(weth, alice)
	highBefore := w.ledger.BalanceOf(tokHigh, alice)

	rm, err := w.manager.RemoveLP(ctx, RemoveRequest{Owner: alice, Pool: w.native0, Range: around, Liquidity: add.Liquidity, UnwrapNative: true})
	require.NoError(t, err)
	assert.Equal(t, model.Token0IsNative, rm.NativeCase)

	assert.True(t, new(uint256.Int).Add(nativeBefore, rm.Collected0).Eq(w.ledger.NativeBalance(alice)))
	assert.True(t, wethBefore.Eq(w.ledger.BalanceOf(weth, alice)))
	assert.True(t, new(uint256.Int).Add(highBefore, rm.Collected1).Eq(w.ledger.BalanceOf(tokHigh, alice)))
	assert.True(t, w.ledger.BalanceOf(weth, managerAddr).IsZero())
	assert.True(t, w.ledger.BalanceOf(tokHigh, managerAddr).IsZero())
}

func TestPositionsKeyedByOwnerPoolAndRange(t *testing.T) {
	w := newWorld(t)
	w.approve(alice, tokLow, tokHigh)
	w.approve(bob, tokLow, tokHigh)
	ctx := context.Background()

	for _, req := range []AddRequest{
		{Owner: bob, Pool: w.plain, Range: around, Amount0Desired: u(1000), Amount1Desired: u(1000)},
		{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1000), Amount1Desired: u(1000)},
		{Owner: alice, Pool: w.plain, Range: below, Amount0Desired: u(1000)},
		{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1000), Amount1Desired: u(1000)},
	} {
		_, err := w.manager.AddLP(ctx, req)
		require.NoError(t, err)
	}

	positions := w.manager.Positions()
	require.Len(t, positions, 3)
	assert.Equal(t, bob, positions[0].Key.Owner)
	assert.Equal(t, alice, positions[1].Key.Owner)
	assert.Equal(t, around, positions[1].Key.Range)
	assert.Equal(t, below, positions[2].Key.Range)

	sum := new(uint256.Int).Add(positions[0].Liquidity, positions[1].Liquidity)
	assert.True(t, sum.Eq(w.plain.Positions(managerAddr, around).Liquidity))
}

func TestCanceledContext(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.manager.AddLP(ctx, AddRequest{Owner: alice, Pool: w.plain, Range: around, Amount0Desired: u(1)})
	assert.ErrorIs(t, err, context.Canceled)
}
