package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hookbook/internal/amm"
	"hookbook/internal/bank"
	"hookbook/internal/escrow"
	"hookbook/internal/events"
	"hookbook/internal/ladder"
	"hookbook/internal/model"
	"hookbook/internal/task"
)

var (
	// ErrNotOperator rejects custodial transfers from addresses outside the
	// operator whitelist.
	ErrNotOperator = errors.New("engine: caller is not a whitelisted operator")
	// ErrUnknownPair rejects operations on a token pair with no registered
	// pool.
	ErrUnknownPair = errors.New("engine: no pool registered for pair")
)

// Config carries the engine's external collaborators. Pool supplies both the
// tick reader for the interceptor and the swapper for ladder execution.
type Config struct {
	Bank          bank.TokenBank
	Pool          amm.Pool
	EscrowCustody common.Address
	LadderCustody common.Address
	Emitter       events.Emitter
	Logger        *zap.Logger
}

// Engine is the composition root: it owns the escrow ledger, the price
// ladder with its swap interceptor, the best-order records, and the task
// processor, and exposes the user and operator surfaces over them.
type Engine struct {
	bank    bank.TokenBank
	pool    amm.Pool
	ledger  *escrow.Ledger
	ladder  *ladder.Ladder
	records *task.Records
	proc    *task.Processor
	hooks   *ladder.Interceptor
	logger  *zap.Logger

	pairs     map[pairID]model.PoolKey
	operators map[common.Address]bool
}

type pairID struct {
	token0 common.Address
	token1 common.Address
}

func New(cfg Config) *Engine {
	if cfg.Emitter == nil {
		cfg.Emitter = events.NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	e := &Engine{
		bank:      cfg.Bank,
		pool:      cfg.Pool,
		logger:    cfg.Logger,
		pairs:     make(map[pairID]model.PoolKey),
		operators: make(map[common.Address]bool),
	}

	e.ledger = escrow.NewLedger(cfg.Bank, cfg.EscrowCustody, cfg.Emitter, cfg.Logger)
	e.ladder = ladder.New(cfg.Bank, cfg.LadderCustody, cfg.Pool, cfg.Emitter, cfg.Logger)
	e.records = task.NewRecords(cfg.Emitter)
	e.hooks = ladder.NewInterceptor(e.ladder, cfg.Pool, cfg.Emitter, cfg.Logger)

	// The settler reads back through the ladder, so it is wired after
	// construction.
	e.ladder.SetSettler(task.NewSettlement(e.ladder, e.ledger, e.records, cfg.Logger))
	e.proc = task.NewProcessor(e.ledger, e.ladder, e.records, e.lookupPool, cfg.Emitter, cfg.Logger)
	return e
}

func (e *Engine) lookupPool(token0, token1 common.Address) (model.PoolKey, bool) {
	key, ok := e.pairs[pairID{token0: token0, token1: token1}]
	return key, ok
}

// RegisterPool makes a pool tradable through the engine and returns its id.
func (e *Engine) RegisterPool(key model.PoolKey) common.Hash {
	e.pairs[pairID{token0: key.Token0, token1: key.Token1}] = key
	id := e.ladder.RegisterPool(key)
	e.logger.Info("pool registered",
		zap.String("pool", id.Hex()),
		zap.String("token0", key.Token0.Hex()),
		zap.String("token1", key.Token1.Hex()),
		zap.Int32("tick_spacing", key.TickSpacing),
	)
	return id
}

// Deposit moves external funds into the user's escrow balance.
func (e *Engine) Deposit(ctx context.Context, user, token common.Address, amount *big.Int) error {
	return e.ledger.Deposit(ctx, user, token, amount)
}

// Withdraw pays escrowed funds back out directly, without the task pipeline.
func (e *Engine) Withdraw(ctx context.Context, user, token common.Address, amount *big.Int) error {
	return e.ledger.Withdraw(ctx, user, token, amount)
}

// Balance reports a user's escrowed amount.
func (e *Engine) Balance(user, token common.Address) *big.Int {
	return e.ledger.Balance(user, token)
}

// Snapshot returns all nonzero escrow balances.
func (e *Engine) Snapshot() []model.BalanceSnapshot {
	return e.ledger.Snapshot()
}

// AuthorizeOperator whitelists an address for custodial transfers.
func (e *Engine) AuthorizeOperator(operator common.Address) {
	e.operators[operator] = true
	e.logger.Info("operator authorized", zap.String("operator", operator.Hex()))
}

// RevokeOperator removes an address from the whitelist.
func (e *Engine) RevokeOperator(operator common.Address) {
	delete(e.operators, operator)
	e.logger.Info("operator revoked", zap.String("operator", operator.Hex()))
}

// OperatorTransfer moves escrowed balance between users on behalf of a
// whitelisted operator.
func (e *Engine) OperatorTransfer(operator, from, to, token common.Address, amount *big.Int) error {
	if !e.operators[operator] {
		return ErrNotOperator
	}
	return e.ledger.Transfer(from, to, token, amount)
}

// PlaceOrder rests an order on the ladder at the quantized tick.
func (e *Engine) PlaceOrder(ctx context.Context, user common.Address, token0, token1 common.Address, rawTick int32, dir model.Direction, amount *big.Int, rounding model.TickRounding) (int32, error) {
	key, ok := e.lookupPool(token0, token1)
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownPair, token0.Hex(), token1.Hex())
	}
	return e.ladder.Place(ctx, user, key, rawTick, dir, amount, rounding)
}

// CancelOrder burns resting shares and refunds the input token.
func (e *Engine) CancelOrder(ctx context.Context, user common.Address, poolID common.Hash, tick int32, dir model.Direction, amount *big.Int) error {
	return e.ladder.Cancel(ctx, user, poolID, tick, dir, amount)
}

// RedeemOrder converts executed-order shares into the output token.
func (e *Engine) RedeemOrder(ctx context.Context, owner, recipient common.Address, poolID common.Hash, tick int32, dir model.Direction, shares *big.Int) (*big.Int, error) {
	return e.ladder.Redeem(ctx, owner, recipient, poolID, tick, dir, shares)
}

// Swap trades against the pool with the interception hooks on both sides.
// Crossable resting orders opposite the trade are executed before and after
// the price moves.
func (e *Engine) Swap(ctx context.Context, poolID common.Hash, dir model.Direction, exactIn *big.Int, trader common.Address) (*big.Int, *big.Int, error) {
	if err := e.hooks.BeforeSwap(ctx, poolID, dir); err != nil {
		return nil, nil, err
	}
	amountIn, amountOut, err := e.pool.Swap(ctx, poolID, dir, exactIn, trader)
	if err != nil {
		return nil, nil, err
	}
	if err := e.hooks.AfterSwap(ctx, poolID, dir); err != nil {
		return nil, nil, err
	}
	return amountIn, amountOut, nil
}

// SubmitTask replays one externally validated task. Proof bytes pass
// through unchecked; approval is asserted upstream and only the flag is
// enforced here.
func (e *Engine) SubmitTask(ctx context.Context, t model.Task) error {
	return e.proc.Process(ctx, t)
}

// Ladder exposes the resting-order store for read access.
func (e *Engine) Ladder() *ladder.Ladder { return e.ladder }

// Records exposes the best-order record store for read access.
func (e *Engine) Records() *task.Records { return e.records }
