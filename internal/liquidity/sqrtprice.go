package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"lpManager/internal/fullmath"
	"lpManager/internal/model"
)

// GetAmount0Delta returns liquidity * (sqrt(upper) - sqrt(lower)) / (sqrt(upper) * sqrt(lower)).
func GetAmount0Delta(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	if lower.IsZero() {
		return nil, fmt.Errorf("%w: zero sqrt price", model.ErrArithmeticOverflow)
	}
	if liquidity.Gt(MaxUint128) {
		return nil, fmt.Errorf("%w: liquidity %s exceeds uint128", model.ErrArithmeticOverflow, liquidity.ToBig())
	}

	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(upper, lower)

	if roundUp {
		v, err := fullmath.MulDivRoundingUp(numerator1, numerator2, upper)
		if err != nil {
			return nil, err
		}
		return fullmath.DivRoundingUp(v, lower)
	}
	v, err := fullmath.MulDiv(numerator1, numerator2, upper)
	if err != nil {
		return nil, err
	}
	return v.Div(v, lower), nil
}

// GetAmount1Delta returns liquidity * (sqrt(upper) - sqrt(lower)).
func GetAmount1Delta(sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	lower, upper := ordered(sqrtPriceA, sqrtPriceB)
	diff := new(uint256.Int).Sub(upper, lower)
	if roundUp {
		return fullmath.MulDivRoundingUp(liquidity, diff, Q96)
	}
	return fullmath.MulDiv(liquidity, diff, Q96)
}
