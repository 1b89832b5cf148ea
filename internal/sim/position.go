package sim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpManager/internal/fullmath"
	"lpManager/internal/liquidity"
	"lpManager/internal/model"
)

type positionKey struct {
	owner common.Address
	rng   model.PriceRange
}

// positionInfo is the pool's record of one owner's liquidity in one range.
type positionInfo struct {
	Liquidity                *uint256.Int
	FeeGrowthInside0LastX128 *uint256.Int
	FeeGrowthInside1LastX128 *uint256.Int
	TokensOwed0              *uint256.Int
	TokensOwed1              *uint256.Int
}

func newPositionInfo() *positionInfo {
	return &positionInfo{
		Liquidity:                new(uint256.Int),
		FeeGrowthInside0LastX128: new(uint256.Int),
		FeeGrowthInside1LastX128: new(uint256.Int),
		TokensOwed0:              new(uint256.Int),
		TokensOwed1:              new(uint256.Int),
	}
}

func (i *positionInfo) clone() *positionInfo {
	return &positionInfo{
		Liquidity:                i.Liquidity.Clone(),
		FeeGrowthInside0LastX128: i.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: i.FeeGrowthInside1LastX128.Clone(),
		TokensOwed0:              i.TokensOwed0.Clone(),
		TokensOwed1:              i.TokensOwed1.Clone(),
	}
}

func (i *positionInfo) view() *model.PoolPosition {
	return &model.PoolPosition{
		Liquidity:                i.Liquidity.Clone(),
		FeeGrowthInside0LastX128: i.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: i.FeeGrowthInside1LastX128.Clone(),
		TokensOwed0:              i.TokensOwed0.Clone(),
		TokensOwed1:              i.TokensOwed1.Clone(),
	}
}

// update credits fees accrued since the last checkpoint and applies the
// liquidity change.
func (i *positionInfo) update(delta *uint256.Int, burn bool, feeGrowthInside0X128, feeGrowthInside1X128 *uint256.Int) error {
	if delta.IsZero() && i.Liquidity.IsZero() {
		return fmt.Errorf("%w: poke of empty position", ErrNoPosition)
	}

	next := new(uint256.Int)
	if burn {
		if i.Liquidity.Lt(delta) {
			return fmt.Errorf("%w: burn %s from %s", model.ErrInsufficientLiquidity, delta.ToBig(), i.Liquidity.ToBig())
		}
		next.Sub(i.Liquidity, delta)
	} else {
		next.Add(i.Liquidity, delta)
	}

	owed0, err := fullmath.MulDiv(new(uint256.Int).Sub(feeGrowthInside0X128, i.FeeGrowthInside0LastX128), i.Liquidity, liquidity.Q128)
	if err != nil {
		return err
	}
	owed1, err := fullmath.MulDiv(new(uint256.Int).Sub(feeGrowthInside1X128, i.FeeGrowthInside1LastX128), i.Liquidity, liquidity.Q128)
	if err != nil {
		return err
	}

	i.Liquidity = next
	i.FeeGrowthInside0LastX128 = feeGrowthInside0X128.Clone()
	i.FeeGrowthInside1LastX128 = feeGrowthInside1X128.Clone()
	// owed amounts wrap at uint128 in the contract; the ledger keeps them whole
	i.TokensOwed0 = new(uint256.Int).Add(i.TokensOwed0, owed0)
	i.TokensOwed1 = new(uint256.Int).Add(i.TokensOwed1, owed1)
	return nil
}
