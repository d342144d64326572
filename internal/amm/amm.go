package amm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"hookbook/internal/model"
)

// StateReader exposes the pool's current price coordinate.
type StateReader interface {
	CurrentTick(ctx context.Context, poolID common.Hash) (tick int32, sqrtPriceX96 *big.Int, err error)
}

// Swapper executes an exact-input swap against the pool. The counterparty is
// the bank account that pays the input token and receives the output token.
type Swapper interface {
	Swap(ctx context.Context, poolID common.Hash, dir model.Direction, exactIn *big.Int, counterparty common.Address) (amountIn, amountOut *big.Int, err error)
}

// Pool combines the two collaborator roles a pool plays for the engine.
type Pool interface {
	StateReader
	Swapper
}
