package position

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpManager/internal/model"
)

// PoolView is the read-only pool surface a quote needs.
type PoolView interface {
	Address() common.Address
	Factory() common.Address
	Token0() common.Address
	Token1() common.Address
	Fee() uint32
	TickSpacing() int32
	Slot0() (*uint256.Int, int32)
}

// Pool is the pool surface the manager drives.
type Pool interface {
	PoolView
	Mint(ctx context.Context, recipient common.Address, r model.PriceRange, amount *uint256.Int, data []byte, cb model.MintCallback) (*uint256.Int, *uint256.Int, error)
	Burn(ctx context.Context, owner common.Address, r model.PriceRange, amount *uint256.Int) (*uint256.Int, *uint256.Int, error)
	Collect(ctx context.Context, owner, recipient common.Address, r model.PriceRange, amount0Requested, amount1Requested *uint256.Int) (*uint256.Int, *uint256.Int, error)
	Positions(owner common.Address, r model.PriceRange) *model.PoolPosition
}

func identityOf(p PoolView) model.PoolIdentity {
	return model.NewPoolIdentity(p.Factory(), p.Token0(), p.Token1(), p.Fee())
}
