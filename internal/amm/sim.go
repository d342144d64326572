package amm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"hookbook/internal/bank"
	"hookbook/internal/model"
)

// SimPool is a fixed-price pool collaborator for simulation and tests. It
// quotes a constant rational price per pool; curve math belongs to the real
// AMM and is out of scope here.
type SimPool struct {
	bank    bank.TokenBank
	reserve common.Address

	mu    sync.Mutex
	pools map[common.Hash]*simPoolState
}

type simPoolState struct {
	key          model.PoolKey
	tick         int32
	sqrtPriceX96 *big.Int
	// price of token0 in token1 as priceNum/priceDen
	priceNum *big.Int
	priceDen *big.Int
}

// NewSimPool creates a simulator whose reserves live under the reserve
// account at the token bank.
func NewSimPool(tokenBank bank.TokenBank, reserve common.Address) *SimPool {
	return &SimPool{
		bank:    tokenBank,
		reserve: reserve,
		pools:   make(map[common.Hash]*simPoolState),
	}
}

// Reserve returns the bank account holding pool-side liquidity.
func (p *SimPool) Reserve() common.Address { return p.reserve }

// AddPool registers a pool at an initial tick and price.
func (p *SimPool) AddPool(key model.PoolKey, tick int32, priceNum, priceDen *big.Int) error {
	if priceNum == nil || priceDen == nil || priceNum.Sign() <= 0 || priceDen.Sign() <= 0 {
		return fmt.Errorf("sim pool: price must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[key.ID()] = &simPoolState{
		key:          key,
		tick:         tick,
		sqrtPriceX96: big.NewInt(0),
		priceNum:     new(big.Int).Set(priceNum),
		priceDen:     new(big.Int).Set(priceDen),
	}
	return nil
}

// SetTick moves the pool's current tick without changing the quoted price.
func (p *SimPool) SetTick(poolID common.Hash, tick int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.pools[poolID]
	if !ok {
		return fmt.Errorf("sim pool: unknown pool %s", poolID.Hex())
	}
	state.tick = tick
	return nil
}

// SetSqrtPrice stores an observed sqrtPriceX96, typically seeded from chain.
func (p *SimPool) SetSqrtPrice(poolID common.Hash, sqrtPriceX96 *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.pools[poolID]
	if !ok {
		return fmt.Errorf("sim pool: unknown pool %s", poolID.Hex())
	}
	if sqrtPriceX96 == nil {
		sqrtPriceX96 = big.NewInt(0)
	}
	state.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	return nil
}

func (p *SimPool) CurrentTick(_ context.Context, poolID common.Hash) (int32, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.pools[poolID]
	if !ok {
		return 0, nil, fmt.Errorf("sim pool: unknown pool %s", poolID.Hex())
	}
	return state.tick, new(big.Int).Set(state.sqrtPriceX96), nil
}

// Swap settles an exact-input trade at the quoted price: the counterparty
// pays exactIn of the sell-side token to the reserve and receives the
// output token back.
func (p *SimPool) Swap(ctx context.Context, poolID common.Hash, dir model.Direction, exactIn *big.Int, counterparty common.Address) (*big.Int, *big.Int, error) {
	if exactIn == nil || exactIn.Sign() <= 0 {
		return nil, nil, fmt.Errorf("sim pool: exact input must be positive")
	}

	p.mu.Lock()
	state, ok := p.pools[poolID]
	if !ok {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("sim pool: unknown pool %s", poolID.Hex())
	}
	key := state.key
	num := new(big.Int).Set(state.priceNum)
	den := new(big.Int).Set(state.priceDen)
	p.mu.Unlock()

	var amountOut *big.Int
	if dir == model.SellToken0 {
		amountOut = new(big.Int).Div(new(big.Int).Mul(exactIn, num), den)
	} else {
		amountOut = new(big.Int).Div(new(big.Int).Mul(exactIn, den), num)
	}
	if amountOut.Sign() <= 0 {
		return nil, nil, fmt.Errorf("sim pool: output rounds to zero")
	}

	inToken := key.InputToken(dir)
	outToken := key.OutputToken(dir)

	if err := p.bank.Transfer(ctx, inToken, counterparty, p.reserve, exactIn); err != nil {
		return nil, nil, fmt.Errorf("sim pool: pull input: %w", err)
	}
	if err := p.bank.Transfer(ctx, outToken, p.reserve, counterparty, amountOut); err != nil {
		return nil, nil, fmt.Errorf("sim pool: pay output: %w", err)
	}

	return new(big.Int).Set(exactIn), amountOut, nil
}
