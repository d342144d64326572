package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"hookbook/internal/chain"
	"hookbook/internal/model"
)

// PoolState is a point-in-time observation of a live pool.
type PoolState struct {
	Key          model.PoolKey
	Tick         int32
	SqrtPriceX96 *big.Int
}

// FetchPoolState reads immutable key fields and the current slot0 of a V3
// pool contract. Used to seed the simulator from a live pool.
func FetchPoolState(ctx context.Context, chainClient *chain.Client, pool common.Address, hook common.Address) (PoolState, error) {
	if chainClient == nil {
		return PoolState{}, fmt.Errorf("chain client is nil")
	}

	parsed, err := PoolABI()
	if err != nil {
		return PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callPoolMethod(ctx, chainClient, pool, parsed, "token0")
	if err != nil {
		return PoolState{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callPoolMethod(ctx, chainClient, pool, parsed, "token1")
	if err != nil {
		return PoolState{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("token1: %w", err)
	}

	values, err = callPoolMethod(ctx, chainClient, pool, parsed, "fee")
	if err != nil {
		return PoolState{}, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("fee: %w", err)
	}

	values, err = callPoolMethod(ctx, chainClient, pool, parsed, "tickSpacing")
	if err != nil {
		return PoolState{}, err
	}
	spacingInt, err := asBigInt(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("tick spacing: %w", err)
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return PoolState{}, fmt.Errorf("tick spacing: %w", err)
	}

	values, err = callPoolMethod(ctx, chainClient, pool, parsed, "slot0")
	if err != nil {
		return PoolState{}, err
	}
	if len(values) < 2 {
		return PoolState{}, fmt.Errorf("slot0: unexpected output arity %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}

	return PoolState{
		Key: model.PoolKey{
			Token0:      token0,
			Token1:      token1,
			Fee:         uint32(feeInt.Uint64()),
			TickSpacing: spacing,
			Hook:        hook,
		},
		Tick:         tick,
		SqrtPriceX96: sqrtPrice,
	}, nil
}

func callPoolMethod(ctx context.Context, chainClient *chain.Client, pool common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := chainClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
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

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
