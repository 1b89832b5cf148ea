package sim

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpManager/internal/ledger"
	"lpManager/internal/model"
	"lpManager/internal/pooladdr"
)

var (
	ErrPoolExists      = errors.New("pool already exists")
	ErrFeeNotEnabled   = errors.New("fee amount not enabled")
	ErrIdenticalTokens = errors.New("identical tokens")
)

// DefaultFeeTickSpacing is the fee to tick spacing table of the canonical factory.
var DefaultFeeTickSpacing = map[uint32]int32{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// Factory deploys pools at the address pooladdr.Compute derives for them.
type Factory struct {
	address      common.Address
	initCodeHash common.Hash
	ledger       *ledger.Ledger

	feeTickSpacing map[uint32]int32
	pools          map[common.Address]*Pool
	byIdentity     map[model.PoolIdentity]*Pool
}

// NewFactory returns a factory at address with the default fee tiers.
func NewFactory(address common.Address, initCodeHash common.Hash, l *ledger.Ledger) *Factory {
	spacing := make(map[uint32]int32, len(DefaultFeeTickSpacing))
	for fee, s := range DefaultFeeTickSpacing {
		spacing[fee] = s
	}
	return &Factory{
		address:        address,
		initCodeHash:   initCodeHash,
		ledger:         l,
		feeTickSpacing: spacing,
		pools:          make(map[common.Address]*Pool),
		byIdentity:     make(map[model.PoolIdentity]*Pool),
	}
}

func (f *Factory) Address() common.Address   { return f.address }
func (f *Factory) InitCodeHash() common.Hash { return f.initCodeHash }
func (f *Factory) Ledger() *ledger.Ledger    { return f.ledger }

// EnableFeeAmount adds a fee tier.
func (f *Factory) EnableFeeAmount(fee uint32, tickSpacing int32) error {
	if fee >= 1_000_000 || tickSpacing <= 0 || tickSpacing >= 16384 {
		return fmt.Errorf("enable fee %d spacing %d: out of bounds", fee, tickSpacing)
	}
	if _, ok := f.feeTickSpacing[fee]; ok {
		return fmt.Errorf("enable fee %d: already enabled", fee)
	}
	f.feeTickSpacing[fee] = tickSpacing
	return nil
}

// CreatePool deploys and initializes the pool for the token pair and fee.
func (f *Factory) CreatePool(tokenA, tokenB common.Address, fee uint32, sqrtPriceX96 *uint256.Int) (*Pool, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalTokens
	}
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return nil, fmt.Errorf("create pool: zero token address")
	}
	spacing, ok := f.feeTickSpacing[fee]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFeeNotEnabled, fee)
	}
	id := model.NewPoolIdentity(f.address, tokenA, tokenB, fee)
	if _, exists := f.byIdentity[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, id)
	}
	addr, err := pooladdr.Compute(id, f.initCodeHash)
	if err != nil {
		return nil, fmt.Errorf("compute pool address: %w", err)
	}
	pool, err := newPool(addr, id, spacing, sqrtPriceX96, f.ledger)
	if err != nil {
		return nil, err
	}

	f.pools[addr] = pool
	f.byIdentity[id] = pool
	f.ledger.Journal().Append(func() {
		delete(f.pools, addr)
		delete(f.byIdentity, id)
	})
	return pool, nil
}

// GetPool looks a pool up by token pair and fee in either token order.
func (f *Factory) GetPool(tokenA, tokenB common.Address, fee uint32) (*Pool, bool) {
	pool, ok := f.byIdentity[model.NewPoolIdentity(f.address, tokenA, tokenB, fee)]
	return pool, ok
}

// PoolAt looks a pool up by address.
func (f *Factory) PoolAt(addr common.Address) (*Pool, bool) {
	pool, ok := f.pools[addr]
	return pool, ok
}

// Deploy places a pool with an arbitrary identity at an arbitrary address,
// bypassing the canonical derivation. It models a contract that impersonates
// a pool.
func Deploy(addr common.Address, id model.PoolIdentity, tickSpacing int32, sqrtPriceX96 *uint256.Int, l *ledger.Ledger) (*Pool, error) {
	return newPool(addr, id, tickSpacing, sqrtPriceX96, l)
}
