// Package fullmath implements 512-bit intermediate multiply-divide over uint256.
package fullmath

import (
	"fmt"

	"github.com/holiman/uint256"

	"lpManager/internal/model"
)

var one = uint256.NewInt(1)

// MulDiv returns floor(a*b/denominator). It fails when the denominator is zero
// or the result does not fit in 256 bits.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, fmt.Errorf("%w: mulDiv by zero", model.ErrArithmeticOverflow)
	}
	result, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: mulDiv result exceeds 256 bits", model.ErrArithmeticOverflow)
	}
	return result, nil
}

// MulDivRoundingUp returns ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	result, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		return result, nil
	}
	if result.Eq(maxUint256) {
		return nil, fmt.Errorf("%w: mulDiv rounding up", model.ErrArithmeticOverflow)
	}
	return result.Add(result, one), nil
}

// DivRoundingUp returns ceil(a/b).
func DivRoundingUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", model.ErrArithmeticOverflow)
	}
	quo := new(uint256.Int).Div(a, b)
	if !new(uint256.Int).Mod(a, b).IsZero() {
		quo.Add(quo, one)
	}
	return quo, nil
}

var maxUint256 = new(uint256.Int).SetAllOne()
