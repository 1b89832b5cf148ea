package scenario

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpManager/internal/ledger"
	"lpManager/internal/model"
	"lpManager/internal/position"
	"lpManager/internal/sim"
)

// Step operations.
const (
	OpCreatePool = "create-pool"
	OpDeployPool = "deploy-pool"
	OpFund       = "fund"
	OpFundNative = "fund-native"
	OpApprove    = "approve"
	OpAddLP      = "add-lp"
	OpRemoveLP   = "remove-lp"
	OpDonate     = "donate"
	OpReprice    = "reprice"
)

var knownOps = map[string]bool{
	OpCreatePool: true, OpDeployPool: true, OpFund: true, OpFundNative: true, OpApprove: true,
	OpAddLP: true, OpRemoveLP: true, OpDonate: true, OpReprice: true,
}

// errorKinds are the names a step may list in expect_error.
var errorKinds = map[string]error{
	"invalid_range":             model.ErrInvalidRange,
	"insufficient_liquidity":    model.ErrInsufficientLiquidity,
	"callback_authorization":    model.ErrCallbackAuthorization,
	"arithmetic_overflow":       model.ErrArithmeticOverflow,
	"insufficient_balance":      ledger.ErrInsufficientBalance,
	"insufficient_allowance":    ledger.ErrInsufficientAllowance,
	"insufficient_native_value": position.ErrInsufficientNativeValue,
	"unexpected_native_value":   position.ErrUnexpectedNativeValue,
	"no_in_range_liquidity":     sim.ErrNoInRangeLiquidity,
	"pool_exists":               sim.ErrPoolExists,
}

// Step is one line of a scenario file. Pools are named by token pair and fee,
// or by address for pools deployed with deploy-pool.
type Step struct {
	Op           string `json:"op"`
	Account      string `json:"account,omitempty"`
	Token        string `json:"token,omitempty"`
	TokenA       string `json:"token_a,omitempty"`
	TokenB       string `json:"token_b,omitempty"`
	Fee          uint32 `json:"fee,omitempty"`
	Pool         string `json:"pool,omitempty"`
	Tick         *int32 `json:"tick,omitempty"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	TickLower    int32  `json:"tick_lower,omitempty"`
	TickUpper    int32  `json:"tick_upper,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Amount0      string `json:"amount0,omitempty"`
	Amount1      string `json:"amount1,omitempty"`
	NativeValue  string `json:"native_value,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
	UnwrapNative bool   `json:"unwrap_native,omitempty"`
	ExpectError  string `json:"expect_error,omitempty"`
}

func (s Step) validate() error {
	if !knownOps[s.Op] {
		return fmt.Errorf("unknown op %q", s.Op)
	}
	if s.ExpectError != "" {
		if _, ok := errorKinds[s.ExpectError]; !ok {
			return fmt.Errorf("unknown expect_error %q", s.ExpectError)
		}
	}
	return nil
}

// expects reports whether err is the failure the step names.
func (s Step) expects(err error) bool {
	kind, ok := errorKinds[s.ExpectError]
	return ok && errors.Is(err, kind)
}

// LoadFile reads a JSONL scenario file.
func LoadFile(path string) ([]Step, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()
	return ReadSteps(file)
}

// ReadSteps parses one step per non-empty line.
func ReadSteps(r io.Reader) ([]Step, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var steps []Step
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var step Step
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&step); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		steps = append(steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan scenario: %w", err)
	}
	return steps, nil
}

func parseAddress(field, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, input)
	}
	return common.HexToAddress(input), nil
}

// parseAmount reads a decimal amount; empty is zero and "max" is 2^256-1.
func parseAmount(field, input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	switch input {
	case "":
		return new(uint256.Int), nil
	case "max":
		return new(uint256.Int).SetAllOne(), nil
	}
	b, ok := new(big.Int).SetString(input, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s amount %q", field, input)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %s amount %q", model.ErrArithmeticOverflow, field, input)
	}
	return v, nil
}
