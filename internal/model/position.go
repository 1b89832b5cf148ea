package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionKey identifies one owner's liquidity in one range of one pool.
type PositionKey struct {
	Owner common.Address
	Pool  PoolIdentity
	Range PriceRange
}

// Position is the manager's record of an owner's liquidity. The fee growth
// checkpoints split fees of the shared pool position between owners.
type Position struct {
	Key                      PositionKey
	Liquidity                *uint256.Int
	TokensOwed0              *uint256.Int
	TokensOwed1              *uint256.Int
	FeeGrowthInside0LastX128 *uint256.Int
	FeeGrowthInside1LastX128 *uint256.Int
}

// NewPosition returns an empty record for key.
func NewPosition(key PositionKey) *Position {
	return &Position{
		Key:                      key,
		Liquidity:                new(uint256.Int),
		TokensOwed0:              new(uint256.Int),
		TokensOwed1:              new(uint256.Int),
		FeeGrowthInside0LastX128: new(uint256.Int),
		FeeGrowthInside1LastX128: new(uint256.Int),
	}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	return &Position{
		Key:                      p.Key,
		Liquidity:                p.Liquidity.Clone(),
		TokensOwed0:              p.TokensOwed0.Clone(),
		TokensOwed1:              p.TokensOwed1.Clone(),
		FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128.Clone(),
	}
}

// Closed reports whether the record holds nothing and can leave the tracking set.
func (p *Position) Closed() bool {
	return p.Liquidity.IsZero() && p.TokensOwed0.IsZero() && p.TokensOwed1.IsZero()
}

// NativeCase says which leg of a deposit, if any, is the wrapped native asset.
type NativeCase int

const (
	NeitherIsNative NativeCase = iota
	Token0IsNative
	Token1IsNative
)

// ClassifyNative compares the pool tokens against the wrapped native asset.
func ClassifyNative(pool PoolIdentity, wrappedNative common.Address) NativeCase {
	if wrappedNative == (common.Address{}) {
		return NeitherIsNative
	}
	switch wrappedNative {
	case pool.Token0:
		return Token0IsNative
	case pool.Token1:
		return Token1IsNative
	default:
		return NeitherIsNative
	}
}

func (c NativeCase) String() string {
	switch c {
	case Token0IsNative:
		return "token0_is_native"
	case Token1IsNative:
		return "token1_is_native"
	default:
		return "neither_is_native"
	}
}
