package pooladdr

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"lpManager/internal/model"
)

// SettlementContext travels opaquely through a pool mint and comes back in
// the callback. Handle names the pending deposit it belongs to.
type SettlementContext struct {
	Pool   model.PoolIdentity
	Payer  common.Address
	Handle [32]byte
}

var (
	contextArgs     abi.Arguments
	contextArgsOnce sync.Once
	contextArgsErr  error
)

func settlementArguments() (abi.Arguments, error) {
	contextArgsOnce.Do(func() {
		contextArgs, contextArgsErr = parseArguments("address", "address", "address", "uint24", "address", "bytes32")
	})
	return contextArgs, contextArgsErr
}

// EncodeContext ABI-encodes (factory, token0, token1, fee, payer, handle).
func EncodeContext(sc SettlementContext) ([]byte, error) {
	args, err := settlementArguments()
	if err != nil {
		return nil, fmt.Errorf("parse settlement abi: %w", err)
	}
	data, err := args.Pack(
		sc.Pool.Factory,
		sc.Pool.Token0,
		sc.Pool.Token1,
		new(big.Int).SetUint64(uint64(sc.Pool.Fee)),
		sc.Payer,
		sc.Handle,
	)
	if err != nil {
		return nil, fmt.Errorf("pack settlement context: %w", err)
	}
	return data, nil
}

// DecodeContext reverses EncodeContext.
func DecodeContext(data []byte) (SettlementContext, error) {
	args, err := settlementArguments()
	if err != nil {
		return SettlementContext{}, fmt.Errorf("parse settlement abi: %w", err)
	}
	values, err := args.Unpack(data)
	if err != nil {
		return SettlementContext{}, fmt.Errorf("unpack settlement context: %w", err)
	}
	if len(values) != 6 {
		return SettlementContext{}, fmt.Errorf("unexpected settlement values: %d", len(values))
	}

	var sc SettlementContext
	var ok bool
	if sc.Pool.Factory, ok = values[0].(common.Address); !ok {
		return SettlementContext{}, fmt.Errorf("factory: unsupported type %T", values[0])
	}
	if sc.Pool.Token0, ok = values[1].(common.Address); !ok {
		return SettlementContext{}, fmt.Errorf("token0: unsupported type %T", values[1])
	}
	if sc.Pool.Token1, ok = values[2].(common.Address); !ok {
		return SettlementContext{}, fmt.Errorf("token1: unsupported type %T", values[2])
	}
	fee, ok := values[3].(*big.Int)
	if !ok || !fee.IsUint64() || fee.Uint64() >= 1<<24 {
		return SettlementContext{}, fmt.Errorf("fee: unsupported value %v", values[3])
	}
	sc.Pool.Fee = uint32(fee.Uint64())
	if sc.Payer, ok = values[4].(common.Address); !ok {
		return SettlementContext{}, fmt.Errorf("payer: unsupported type %T", values[4])
	}
	if sc.Handle, ok = values[5].([32]byte); !ok {
		return SettlementContext{}, fmt.Errorf("handle: unsupported type %T", values[5])
	}
	return sc, nil
}
