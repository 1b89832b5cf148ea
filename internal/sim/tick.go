package sim

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"lpManager/internal/model"
)

// tickInfo mirrors the pool contract's Tick.Info. liquidityNet is kept in
// two's complement so crossing adds it with wrapping arithmetic.
type tickInfo struct {
	liquidityGross        *uint256.Int
	liquidityNet          *uint256.Int
	feeGrowthOutside0X128 *uint256.Int
	feeGrowthOutside1X128 *uint256.Int
}

func (t *tickInfo) clone() *tickInfo {
	return &tickInfo{
		liquidityGross:        t.liquidityGross.Clone(),
		liquidityNet:          t.liquidityNet.Clone(),
		feeGrowthOutside0X128: t.feeGrowthOutside0X128.Clone(),
		feeGrowthOutside1X128: t.feeGrowthOutside1X128.Clone(),
	}
}

type tickTable map[int32]*tickInfo

func (tt tickTable) clone() tickTable {
	out := make(tickTable, len(tt))
	for k, v := range tt {
		out[k] = v.clone()
	}
	return out
}

// update applies a liquidity change at tick and reports whether the tick
// flipped between initialized and uninitialized. An emptied tick stays in the
// table until clear.
func (tt tickTable) update(tick, tickCurrent int32, delta *uint256.Int, burn, upper bool,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128, maxLiquidity *uint256.Int) (bool, error) {
	info, ok := tt[tick]
	if !ok {
		info = &tickInfo{
			liquidityGross:        new(uint256.Int),
			liquidityNet:          new(uint256.Int),
			feeGrowthOutside0X128: new(uint256.Int),
			feeGrowthOutside1X128: new(uint256.Int),
		}
	}

	grossBefore := info.liquidityGross
	var grossAfter *uint256.Int
	if burn {
		if grossBefore.Lt(delta) {
			return false, fmt.Errorf("%w: tick %d gross %s below %s", model.ErrArithmeticOverflow, tick, grossBefore.ToBig(), delta.ToBig())
		}
		grossAfter = new(uint256.Int).Sub(grossBefore, delta)
	} else {
		grossAfter = new(uint256.Int).Add(grossBefore, delta)
		if grossAfter.Gt(maxLiquidity) {
			return false, fmt.Errorf("%w: tick %d liquidity %s above per-tick cap", ErrTickLiquidityOverflow, tick, grossAfter.ToBig())
		}
	}

	flipped := grossAfter.IsZero() != grossBefore.IsZero()
	if grossBefore.IsZero() && !grossAfter.IsZero() {
		// By convention all growth before a tick is initialized happened below it.
		if tick <= tickCurrent {
			info.feeGrowthOutside0X128 = feeGrowthGlobal0X128.Clone()
			info.feeGrowthOutside1X128 = feeGrowthGlobal1X128.Clone()
		}
	}

	info.liquidityGross = grossAfter
	// lower ticks add liquidity when crossed upward, upper ticks remove it
	if upper != burn {
		info.liquidityNet = new(uint256.Int).Sub(info.liquidityNet, delta)
	} else {
		info.liquidityNet = new(uint256.Int).Add(info.liquidityNet, delta)
	}

	tt[tick] = info
	return flipped, nil
}

// clear drops a tick whose liquidity went to zero. Callers read fee growth
// inside a range before clearing its ticks.
func (tt tickTable) clear(tick int32) {
	delete(tt, tick)
}

// feeGrowthInside returns the fee growth per unit of liquidity inside
// [lower, upper). Subtraction wraps like the contract's unchecked math.
func (tt tickTable) feeGrowthInside(lower, upper, tickCurrent int32,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int) (*uint256.Int, *uint256.Int) {
	lowerOut0, lowerOut1 := tt.outside(lower)
	upperOut0, upperOut1 := tt.outside(upper)

	var below0, below1 *uint256.Int
	if tickCurrent >= lower {
		below0, below1 = lowerOut0, lowerOut1
	} else {
		below0 = new(uint256.Int).Sub(feeGrowthGlobal0X128, lowerOut0)
		below1 = new(uint256.Int).Sub(feeGrowthGlobal1X128, lowerOut1)
	}

	var above0, above1 *uint256.Int
	if tickCurrent < upper {
		above0, above1 = upperOut0, upperOut1
	} else {
		above0 = new(uint256.Int).Sub(feeGrowthGlobal0X128, upperOut0)
		above1 = new(uint256.Int).Sub(feeGrowthGlobal1X128, upperOut1)
	}

	inside0 := new(uint256.Int).Sub(feeGrowthGlobal0X128, below0)
	inside0.Sub(inside0, above0)
	inside1 := new(uint256.Int).Sub(feeGrowthGlobal1X128, below1)
	inside1.Sub(inside1, above1)
	return inside0, inside1
}

func (tt tickTable) outside(tick int32) (*uint256.Int, *uint256.Int) {
	info, ok := tt[tick]
	if !ok {
		return new(uint256.Int), new(uint256.Int)
	}
	return info.feeGrowthOutside0X128, info.feeGrowthOutside1X128
}

// cross flips the fee growth outside tick and returns its liquidityNet.
func (tt tickTable) cross(tick int32, feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int) *uint256.Int {
	info := tt[tick]
	info.feeGrowthOutside0X128 = new(uint256.Int).Sub(feeGrowthGlobal0X128, info.feeGrowthOutside0X128)
	info.feeGrowthOutside1X128 = new(uint256.Int).Sub(feeGrowthGlobal1X128, info.feeGrowthOutside1X128)
	return info.liquidityNet.Clone()
}

func (tt tickTable) sorted() []int32 {
	out := make([]int32, 0, len(tt))
	for k := range tt {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nextAbove returns the smallest initialized tick greater than tick.
func nextAbove(ticks []int32, tick int32) (int32, bool) {
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i] > tick })
	if i == len(ticks) {
		return 0, false
	}
	return ticks[i], true
}

// nextAtOrBelow returns the greatest initialized tick not above tick.
func nextAtOrBelow(ticks []int32, tick int32) (int32, bool) {
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i] > tick })
	if i == 0 {
		return 0, false
	}
	return ticks[i-1], true
}
