// Package pooladdr derives canonical pool addresses and encodes the
// settlement context carried through a pool's mint callback.
package pooladdr

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lpManager/internal/model"
)

// DefaultInitCodeHash is the pool creation code hash of the canonical v3 factory.
var DefaultInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

var (
	saltArgs     abi.Arguments
	saltArgsOnce sync.Once
	saltArgsErr  error
)

func poolKeyArguments() (abi.Arguments, error) {
	saltArgsOnce.Do(func() {
		saltArgs, saltArgsErr = parseArguments("address", "address", "uint24")
	})
	return saltArgs, saltArgsErr
}

// Compute returns the CREATE2 address a factory deploys the identity's pool at.
func Compute(id model.PoolIdentity, initCodeHash common.Hash) (common.Address, error) {
	if !id.Sorted() {
		return common.Address{}, fmt.Errorf("%w: tokens not sorted: %s", model.ErrInvalidRange, id)
	}
	salt, err := Salt(id)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress2(id.Factory, salt, initCodeHash.Bytes()), nil
}

// Salt returns keccak256(abi.encode(token0, token1, fee)).
func Salt(id model.PoolIdentity) ([32]byte, error) {
	args, err := poolKeyArguments()
	if err != nil {
		return [32]byte{}, fmt.Errorf("parse pool key abi: %w", err)
	}
	packed, err := args.Pack(id.Token0, id.Token1, new(big.Int).SetUint64(uint64(id.Fee)))
	if err != nil {
		return [32]byte{}, fmt.Errorf("pack pool key: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

func parseArguments(types ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("abi type %s: %w", name, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args, nil
}

// ParseInitCodeHash accepts a 0x-prefixed 32-byte hex string; empty selects the default.
func ParseInitCodeHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return DefaultInitCodeHash, nil
	}
	if len(strings.TrimPrefix(input, "0x")) != 64 {
		return common.Hash{}, fmt.Errorf("invalid init code hash: %s", input)
	}
	return common.HexToHash(input), nil
}
