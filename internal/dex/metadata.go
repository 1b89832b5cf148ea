package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lpManager/internal/model"
)

// ErrNoPool is returned when the factory has no pool for a token pair and fee.
var ErrNoPool = errors.New("pool not deployed")

// Caller is the eth_call surface pool reads need. *chain.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolState is a pool's identity and price as read from chain at one block.
// It satisfies position.PoolView, so deposits can be previewed against it.
type PoolState struct {
	address      common.Address
	factory      common.Address
	token0       common.Address
	token1       common.Address
	fee          uint32
	tickSpacing  int32
	sqrtPriceX96 *uint256.Int
	tick         int32
	liquidity    *uint256.Int
}

func (s *PoolState) Address() common.Address { return s.address }
func (s *PoolState) Factory() common.Address { return s.factory }
func (s *PoolState) Token0() common.Address  { return s.token0 }
func (s *PoolState) Token1() common.Address  { return s.token1 }
func (s *PoolState) Fee() uint32             { return s.fee }
func (s *PoolState) TickSpacing() int32      { return s.tickSpacing }

// Slot0 returns the price and tick read with the rest of the state.
func (s *PoolState) Slot0() (*uint256.Int, int32) {
	return s.sqrtPriceX96.Clone(), s.tick
}

// Liquidity returns the in-range liquidity.
func (s *PoolState) Liquidity() *uint256.Int {
	return s.liquidity.Clone()
}

// Identity returns the tuple the pool address derives from.
func (s *PoolState) Identity() model.PoolIdentity {
	return model.PoolIdentity{Factory: s.factory, Token0: s.token0, Token1: s.token1, Fee: s.fee}
}

// Meta returns the storage form of the state.
func (s *PoolState) Meta() model.PoolMeta {
	return model.PoolMeta{
		Address:     s.address.Hex(),
		Factory:     s.factory.Hex(),
		Token0:      s.token0.Hex(),
		Token1:      s.token1.Hex(),
		Fee:         s.fee,
		TickSpacing: s.tickSpacing,
		Liquidity:   s.liquidity.ToBig().String(),
		Slot0: &model.PoolSlot0{
			SqrtPriceX96: s.sqrtPriceX96.ToBig().String(),
			Tick:         s.tick,
		},
	}
}

// FetchPoolState reads the pool's identity, slot0 and liquidity. The calls
// run concurrently and are pinned to blockNumber when it is non-nil so the
// fields describe one state.
func FetchPoolState(ctx context.Context, caller Caller, pool common.Address, blockNumber *big.Int) (*PoolState, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	state := &PoolState{address: pool}
	g, gctx := errgroup.WithContext(ctx)
	read := func(method string, assign func([]interface{}) error) {
		g.Go(func() error {
			values, err := callMethod(gctx, caller, pool, poolABI, method, blockNumber)
			if err != nil {
				return err
			}
			if err := assign(values); err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
			return nil
		})
	}

	read("factory", func(v []interface{}) (err error) {
		state.factory, err = asAddress(v[0])
		return err
	})
	read("token0", func(v []interface{}) (err error) {
		state.token0, err = asAddress(v[0])
		return err
	})
	read("token1", func(v []interface{}) (err error) {
		state.token1, err = asAddress(v[0])
		return err
	})
	read("fee", func(v []interface{}) error {
		fee, err := asBigInt(v[0])
		if err != nil {
			return err
		}
		if !fee.IsUint64() || fee.Uint64() >= 1<<24 {
			return fmt.Errorf("uint24 overflow: %s", fee)
		}
		state.fee = uint32(fee.Uint64())
		return nil
	})
	read("tickSpacing", func(v []interface{}) error {
		spacing, err := asBigInt(v[0])
		if err != nil {
			return err
		}
		state.tickSpacing, err = int24FromBig(spacing)
		return err
	})
	read("liquidity", func(v []interface{}) error {
		liq, err := asBigInt(v[0])
		if err != nil {
			return err
		}
		state.liquidity, err = asUint256(liq)
		return err
	})
	read("slot0", func(v []interface{}) error {
		if len(v) < 2 {
			return fmt.Errorf("short slot0 output")
		}
		sqrt, err := asBigInt(v[0])
		if err != nil {
			return err
		}
		if state.sqrtPriceX96, err = asUint256(sqrt); err != nil {
			return err
		}
		tick, err := asBigInt(v[1])
		if err != nil {
			return err
		}
		state.tick, err = int24FromBig(tick)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// LookupPool asks the factory for the pool registered for the token pair and fee.
func LookupPool(ctx context.Context, caller Caller, factory, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	data, err := factoryABI.Pack("getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPool: %w", err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPool: %w", err)
	}
	values, err := factoryABI.Unpack("getPool", resp)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPool: %w", err)
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool: %w", err)
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s fee %d", ErrNoPool, tokenA.Hex(), tokenB.Hex(), fee)
	}
	return pool, nil
}

func callMethod(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty output", method)
	}
	return values, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls. A missing symbol is
// logged and left empty.
func FetchTokenMeta(ctx context.Context, caller Caller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := callMethod(ctx, caller, token, stringABI, "symbol", nil); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := callMethod(ctx, caller, token, bytes32ABI, "symbol", nil); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else {
		logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint256(value *big.Int) (*uint256.Int, error) {
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", value)
	}
	v, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: %s", model.ErrArithmeticOverflow, value)
	}
	return v, nil
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
