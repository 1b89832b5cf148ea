package model

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PoolIdentity is the immutable tuple a pool address is derived from.
type PoolIdentity struct {
	Factory common.Address `json:"factory"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Fee     uint32         `json:"fee"`
}

// NewPoolIdentity orders the token pair the way pools store it.
func NewPoolIdentity(factory, tokenA, tokenB common.Address, fee uint32) PoolIdentity {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return PoolIdentity{Factory: factory, Token0: tokenA, Token1: tokenB, Fee: fee}
}

// Sorted reports whether token0 < token1.
func (p PoolIdentity) Sorted() bool {
	return bytes.Compare(p.Token0.Bytes(), p.Token1.Bytes()) < 0
}

func (p PoolIdentity) String() string {
	return fmt.Sprintf("%s/%s/%d@%s", p.Token0.Hex(), p.Token1.Hex(), p.Fee, p.Factory.Hex())
}

// PriceRange is a tick interval [TickLower, TickUpper).
type PriceRange struct {
	TickLower int32 `json:"tick_lower"`
	TickUpper int32 `json:"tick_upper"`
}

func (r PriceRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.TickLower, r.TickUpper)
}
