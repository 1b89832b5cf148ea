package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// wrappedNative lists the wrapped native token per chain ID.
var wrappedNative = map[uint64]common.Address{
	1:     common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	4:     common.HexToAddress("0xc778417E063141139Fce010982780140Aa0cD5Ab"),
	31337: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), // mainnet fork
}

// WrappedNativeFor returns the wrapped native token of a known chain.
func WrappedNativeFor(chainID uint64) (common.Address, bool) {
	addr, ok := wrappedNative[chainID]
	return addr, ok
}

// ResolveWrappedNative returns override when set, otherwise the chain's entry.
func ResolveWrappedNative(override string, chainID uint64) (common.Address, error) {
	if override = strings.TrimSpace(override); override != "" {
		return ParseAddress("wrapped-native", override)
	}
	addr, ok := WrappedNativeFor(chainID)
	if !ok {
		return common.Address{}, fmt.Errorf("no wrapped native token known for chain %d; set --wrapped-native", chainID)
	}
	return addr, nil
}

// ParseAddress validates a hex address flag value.
func ParseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	return common.HexToAddress(input), nil
}
