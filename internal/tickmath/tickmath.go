// Package tickmath converts between tick indices and Q64.96 square-root price
// ratios. The conversion is bit-exact with the pool contract's TickMath
// library: same multipliers, same final rounding up to Q96.
package tickmath

import (
	"fmt"

	"github.com/holiman/uint256"

	"lpManager/internal/model"
)

const (
	MinTick int32 = -887272 // The minimum tick that can be used on any pool.
	MaxTick int32 = -MinTick // The maximum tick that can be used on any pool.
)

var (
	// MinSqrtRatio is the sqrt ratio at MinTick.
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio is the sqrt ratio at MaxTick.
	MaxSqrtRatio = mustFromHex("0xfffd8963efd1fc6a506488495d951d5263988d26")

	maxUint256 = new(uint256.Int).SetAllOne()
	q32Mask    = uint256.NewInt(0xffffffff)
	one        = uint256.NewInt(1)

	// sqrt(1.0001^-2^i) in Q128.128 for bit i of |tick|.
	ratioOdd  = mustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	ratioEven = mustFromHex("0x100000000000000000000000000000000")
	ratioBits = [...]*uint256.Int{
		mustFromHex("0xfff97272373d413259a46990580e213a"),
		mustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		mustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		mustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		mustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		mustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		mustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		mustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		mustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		mustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		mustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		mustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		mustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		mustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		mustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		mustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		mustFromHex("0x5d6af8dedb81196699c329225ee604"),
		mustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		mustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// TickToSqrtPrice returns sqrt(1.0001^tick) * 2^96, rounded up.
func TickToSqrtPrice(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: tick %d outside [%d, %d]", model.ErrInvalidRange, tick, MinTick, MaxTick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(ratioOdd)
	} else {
		ratio.Set(ratioEven)
	}
	for i, mul := range ratioBits {
		if absTick&(1<<(i+1)) != 0 {
			// ratio < 2^129 and mul < 2^128, so the product fits in 256 bits.
			ratio.Mul(ratio, mul).Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the result is never below the true value.
	roundUp := !new(uint256.Int).And(ratio, q32Mask).IsZero()
	ratio.Rsh(ratio, 32)
	if roundUp {
		ratio.Add(ratio, one)
	}
	return ratio, nil
}

// SqrtPriceToTick returns the greatest tick whose sqrt ratio does not exceed
// sqrtPriceX96. The input must lie in [MinSqrtRatio, MaxSqrtRatio).
func SqrtPriceToTick(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: sqrt price %s outside [%s, %s)", model.ErrInvalidRange,
			sqrtPriceX96.ToBig(), MinSqrtRatio.ToBig(), MaxSqrtRatio.ToBig())
	}

	low, high := MinTick, MaxTick
	tick := MinTick
	for low <= high {
		mid := low + (high-low)/2
		ratio, err := TickToSqrtPrice(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// CheckRange validates a price range against the global tick bounds and the
// pool's tick spacing.
func CheckRange(r model.PriceRange, tickSpacing int32) error {
	if r.TickLower >= r.TickUpper {
		return fmt.Errorf("%w: tickLower %d must be below tickUpper %d", model.ErrInvalidRange, r.TickLower, r.TickUpper)
	}
	if r.TickLower < MinTick || r.TickUpper > MaxTick {
		return fmt.Errorf("%w: %s outside [%d, %d]", model.ErrInvalidRange, r, MinTick, MaxTick)
	}
	if tickSpacing <= 0 {
		return fmt.Errorf("%w: tick spacing %d", model.ErrInvalidRange, tickSpacing)
	}
	if r.TickLower%tickSpacing != 0 || r.TickUpper%tickSpacing != 0 {
		return fmt.Errorf("%w: %s not aligned to spacing %d", model.ErrInvalidRange, r, tickSpacing)
	}
	return nil
}

// MaxLiquidityPerTick derives the per-tick liquidity cap from the tick spacing.
func MaxLiquidityPerTick(tickSpacing int32) *uint256.Int {
	minTick := (MinTick / tickSpacing) * tickSpacing
	maxTick := (MaxTick / tickSpacing) * tickSpacing
	numTicks := uint64((maxTick-minTick)/tickSpacing) + 1

	maxUint128 := new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 128), one)
	return maxUint128.Div(maxUint128, uint256.NewInt(numTicks))
}

func mustFromHex(s string) *uint256.Int {
	v, err := uint256.FromHex(s)
	if err != nil {
		panic(fmt.Sprintf("tickmath: bad constant %s: %v", s, err))
	}
	return v
}
