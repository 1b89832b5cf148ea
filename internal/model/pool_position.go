package model

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MintCallback pays a pool for liquidity it mints. caller is the address of
// the pool making the call; data is passed through from the mint unchanged.
type MintCallback interface {
	MintCallback(ctx context.Context, caller common.Address, amount0Owed, amount1Owed *uint256.Int, data []byte) error
}

// PoolPosition is a pool's record of one owner's liquidity in one range, as
// returned by the pool's positions(key) getter.
type PoolPosition struct {
	Liquidity                *uint256.Int
	FeeGrowthInside0LastX128 *uint256.Int
	FeeGrowthInside1LastX128 *uint256.Int
	TokensOwed0              *uint256.Int
	TokensOwed1              *uint256.Int
}
