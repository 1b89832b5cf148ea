// Package liquidity converts between token amounts and concentrated liquidity
// for a price range. Conversions toward liquidity and toward withdrawn amounts
// round down; amounts a pool charges for a deposit round up.
package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"lpManager/internal/fullmath"
	"lpManager/internal/model"
)

var (
	Q96        = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	Q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	MaxUint128 = new(uint256.Int).Sub(Q128, uint256.NewInt(1))
)

// RangeCase locates the current price relative to a range.
type RangeCase int

const (
	// BelowRange: current <= lower, the range holds only token0.
	BelowRange RangeCase = iota + 1
	// InRange: lower < current < upper, the range holds both tokens.
	InRange
	// AboveRange: current >= upper, the range holds only token1.
	AboveRange
)

func (c RangeCase) String() string {
	switch c {
	case BelowRange:
		return "below_range"
	case InRange:
		return "in_range"
	case AboveRange:
		return "above_range"
	default:
		return "unknown"
	}
}

// Classify compares the current sqrt price against the range bounds.
func Classify(sqrtPriceCurrent, sqrtPriceLower, sqrtPriceUpper *uint256.Int) RangeCase {
	lower, upper := ordered(sqrtPriceLower, sqrtPriceUpper)
	switch {
	case sqrtPriceCurrent.Cmp(lower) <= 0:
		return BelowRange
	case sqrtPriceCurrent.Lt(upper):
		return InRange
	default:
		return AboveRange
	}
}

// GetLiquidityForAmount0 returns amount0 * (sqrt(upper)*sqrt(lower)) / (sqrt(upper) - sqrt(lower)).
func GetLiquidityForAmount0(sqrtPriceA, sqrtPriceB, amount0 *uint256.Int) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	if lower.Eq(upper) {
		return nil, fmt.Errorf("%w: empty price interval", model.ErrInvalidRange)
	}
	intermediate, err := fullmath.MulDiv(lower, upper, Q96)
	if err != nil {
		return nil, err
	}
	liquidity, err := fullmath.MulDiv(amount0, intermediate, new(uint256.Int).Sub(upper, lower))
	if err != nil {
		return nil, err
	}
	return toUint128(liquidity)
}

// GetLiquidityForAmount1 returns amount1 / (sqrt(upper) - sqrt(lower)).
func GetLiquidityForAmount1(sqrtPriceA, sqrtPriceB, amount1 *uint256.Int) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	if lower.Eq(upper) {
		return nil, fmt.Errorf("%w: empty price interval", model.ErrInvalidRange)
	}
	liquidity, err := fullmath.MulDiv(amount1, Q96, new(uint256.Int).Sub(upper, lower))
	if err != nil {
		return nil, err
	}
	return toUint128(liquidity)
}

// GetLiquidityForAmounts returns the largest liquidity the desired amounts can
// fund at the current price. In range, the smaller of the two per-token
// liquidities wins, so neither desired amount is exceeded. Zero liquidity from
// non-zero desired amounts fails with ErrInsufficientLiquidity.
func GetLiquidityForAmounts(amount0Desired, amount1Desired, sqrtPriceCurrent, sqrtPriceLower, sqrtPriceUpper *uint256.Int) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceLower, sqrtPriceUpper)

	var liquidity *uint256.Int
	switch Classify(sqrtPriceCurrent, lower, upper) {
	case BelowRange:
		l, err := GetLiquidityForAmount0(lower, upper, amount0Desired)
		if err != nil {
			return nil, err
		}
		liquidity = l
	case InRange:
		l0, err := GetLiquidityForAmount0(sqrtPriceCurrent, upper, amount0Desired)
		if err != nil {
			return nil, err
		}
		l1, err := GetLiquidityForAmount1(lower, sqrtPriceCurrent, amount1Desired)
		if err != nil {
			return nil, err
		}
		if l0.Lt(l1) {
			liquidity = l0
		} else {
			liquidity = l1
		}
	default:
		l, err := GetLiquidityForAmount1(lower, upper, amount1Desired)
		if err != nil {
			return nil, err
		}
		liquidity = l
	}

	if liquidity.IsZero() && !(amount0Desired.IsZero() && amount1Desired.IsZero()) {
		return nil, fmt.Errorf("%w: amounts (%s, %s) fund zero liquidity", model.ErrInsufficientLiquidity,
			amount0Desired.ToBig(), amount1Desired.ToBig())
	}
	return liquidity, nil
}

// GetAmountsForLiquidity returns the token amounts liquidity is worth at the
// current price, rounded down. Zero liquidity yields (0, 0).
func GetAmountsForLiquidity(liquidity, sqrtPriceCurrent, sqrtPriceLower, sqrtPriceUpper *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return AmountsForLiquidity(liquidity, sqrtPriceCurrent, sqrtPriceLower, sqrtPriceUpper, false)
}

// AmountsForLiquidity is GetAmountsForLiquidity with selectable rounding. A
// pool charges deposits with roundUp=true and pays withdrawals with roundUp=false.
func AmountsForLiquidity(liquidity, sqrtPriceCurrent, sqrtPriceLower, sqrtPriceUpper *uint256.Int, roundUp bool) (*uint256.Int, *uint256.Int, error) {
	if liquidity.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	lower, upper := ordered(sqrtPriceLower, sqrtPriceUpper)

	switch Classify(sqrtPriceCurrent, lower, upper) {
	case BelowRange:
		amount0, err := GetAmount0Delta(lower, upper, liquidity, roundUp)
		if err != nil {
			return nil, nil, err
		}
		return amount0, new(uint256.Int), nil
	case InRange:
		amount0, err := GetAmount0Delta(sqrtPriceCurrent, upper, liquidity, roundUp)
		if err != nil {
			return nil, nil, err
		}
		amount1, err := GetAmount1Delta(lower, sqrtPriceCurrent, liquidity, roundUp)
		if err != nil {
			return nil, nil, err
		}
		return amount0, amount1, nil
	default:
		amount1, err := GetAmount1Delta(lower, upper, liquidity, roundUp)
		if err != nil {
			return nil, nil, err
		}
		return new(uint256.Int), amount1, nil
	}
}

func ordered(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

func toUint128(v *uint256.Int) (*uint256.Int, error) {
	if v.Gt(MaxUint128) {
		return nil, fmt.Errorf("%w: liquidity %s exceeds uint128", model.ErrArithmeticOverflow, v.ToBig())
	}
	return v, nil
}
