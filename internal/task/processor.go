package task

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hookbook/internal/escrow"
	"hookbook/internal/events"
	"hookbook/internal/ladder"
	"hookbook/internal/model"
)

var (
	// ErrNotApproved rejects tasks the external quorum has not asserted.
	ErrNotApproved = errors.New("task: not approved by quorum")
	// ErrUnknownKind rejects task kinds outside the closed set.
	ErrUnknownKind = errors.New("task: unknown kind")
	// ErrNilPayload rejects tasks whose payload does not match the kind.
	ErrNilPayload = errors.New("task: missing payload for kind")
	// ErrOverfill rejects partial fills exceeding the resting order's
	// remaining recorded input.
	ErrOverfill = errors.New("task: fill exceeds remaining resting amount")
)

// PoolLookup resolves a token pair to its registered pool key.
type PoolLookup func(token0, token1 common.Address) (model.PoolKey, bool)

// Processor replays externally validated tasks against the escrow ledger,
// the best-order records, and the price ladder. A task either fully commits
// or leaves zero state change.
type Processor struct {
	ledger     *escrow.Ledger
	ladder     *ladder.Ladder
	records    *Records
	lookupPool PoolLookup
	emitter    events.Emitter
	logger     *zap.Logger
}

func NewProcessor(ledger *escrow.Ledger, l *ladder.Ladder, records *Records, lookup PoolLookup, emitter events.Emitter, logger *zap.Logger) *Processor {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:     ledger,
		ladder:     l,
		records:    records,
		lookupPool: lookup,
		emitter:    emitter,
		logger:     logger,
	}
}

// Process replays one task and reports the outcome. Every task, failed or
// not, produces a TaskProcessed event; retry is the caller's concern.
func (p *Processor) Process(ctx context.Context, t model.Task) error {
	err := p.apply(ctx, t)

	evt := model.TaskProcessedEvent{Index: t.Index, Kind: t.Kind.String(), Success: err == nil}
	if err != nil {
		evt.Error = err.Error()
		p.logger.Warn("task rejected", zap.Uint64("index", t.Index), zap.String("kind", t.Kind.String()), zap.Error(err))
	}
	p.emitter.Emit(model.EventTaskProcessed, evt)
	return err
}

func (p *Processor) apply(ctx context.Context, t model.Task) error {
	if !t.Approved {
		return ErrNotApproved
	}

	switch t.Kind {
	case model.TaskNoOp:
		return nil
	case model.TaskUpdateBestPrice:
		if t.UpdateBestPrice == nil {
			return ErrNilPayload
		}
		return p.applyUpdateBestPrice(ctx, *t.UpdateBestPrice)
	case model.TaskPartialFill:
		if t.PartialFill == nil {
			return ErrNilPayload
		}
		return p.applyPartialFill(*t.PartialFill)
	case model.TaskCompleteFill:
		if t.CompleteFill == nil {
			return ErrNilPayload
		}
		return p.applyCompleteFill(*t.CompleteFill)
	case model.TaskProcessWithdrawal:
		if t.ProcessWithdrawal == nil {
			return ErrNilPayload
		}
		w := t.ProcessWithdrawal
		return p.ledger.Withdraw(ctx, w.User, w.Token, w.Amount)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(t.Kind))
	}
}

// applyUpdateBestPrice places the order on the ladder and, only on success,
// mirrors it into the best-order record so both stores advance together.
func (p *Processor) applyUpdateBestPrice(ctx context.Context, u model.UpdateBestPrice) error {
	if u.User == (common.Address{}) {
		return escrow.ErrZeroAddress
	}
	if u.InputAmount == nil || u.InputAmount.Sign() <= 0 || u.OutputAmount == nil || u.OutputAmount.Sign() <= 0 {
		return escrow.ErrZeroAmount
	}
	if !u.Dir.Valid() {
		return fmt.Errorf("task: invalid direction %d", u.Dir)
	}
	key, ok := p.lookupPool(u.Token0, u.Token1)
	if !ok {
		return fmt.Errorf("task: unregistered pair %s/%s", u.Token0.Hex(), u.Token1.Hex())
	}

	if _, err := p.ladder.Place(ctx, u.User, key, u.Tick, u.Dir, u.InputAmount, u.Rounding); err != nil {
		return err
	}

	p.records.Put(model.PairKey{Token0: u.Token0, Token1: u.Token1, Dir: u.Dir}, model.BestOrderRecord{
		User:            u.User,
		Tick:            u.Tick,
		RemainingInput:  u.InputAmount,
		RemainingOutput: u.OutputAmount,
		Rounding:        u.Rounding,
	})
	return nil
}

// applyPartialFill exchanges part of the resting best order opposite the
// incoming order. The whole task is rejected when the fill exceeds the
// record's remaining input.
func (p *Processor) applyPartialFill(f model.PartialFill) error {
	pair, rec, err := p.restingRecord(f.Incoming)
	if err != nil {
		return err
	}
	fillIn, fillOut, err := fillLegs(pair.Dir, f.FillAmount0, f.FillAmount1)
	if err != nil {
		return err
	}
	if rec.RemainingInput == nil || rec.RemainingInput.Cmp(fillIn) < 0 {
		return ErrOverfill
	}
	if err := p.exchange(rec.User, f.Incoming.User, pair, fillIn, fillOut); err != nil {
		return err
	}
	return p.records.Decrement(pair, fillIn, fillOut)
}

// applyCompleteFill performs the same two-sided exchange without a
// remaining-amount check, then installs the replacement record or clears it
// when the replacement user is the null sentinel.
func (p *Processor) applyCompleteFill(f model.CompleteFill) error {
	pair, rec, err := p.restingRecord(f.Incoming)
	if err != nil {
		return err
	}
	fillIn, fillOut, err := fillLegs(pair.Dir, f.FillAmount0, f.FillAmount1)
	if err != nil {
		return err
	}
	if err := p.exchange(rec.User, f.Incoming.User, pair, fillIn, fillOut); err != nil {
		return err
	}

	if f.NextBest.User == (common.Address{}) {
		p.records.Clear(pair)
		return nil
	}
	p.records.Put(pair, model.BestOrderRecord{
		User:            f.NextBest.User,
		Tick:            f.NextBest.Tick,
		RemainingInput:  f.NextBest.InputAmount,
		RemainingOutput: f.NextBest.OutputAmount,
		Rounding:        f.NextBest.Rounding,
	})
	return nil
}

// restingRecord locates the best-order record opposite the incoming order.
// Same-direction matching is never attempted.
func (p *Processor) restingRecord(incoming model.OrderIntent) (model.PairKey, model.BestOrderRecord, error) {
	if incoming.User == (common.Address{}) {
		return model.PairKey{}, model.BestOrderRecord{}, escrow.ErrZeroAddress
	}
	if !incoming.Dir.Valid() {
		return model.PairKey{}, model.BestOrderRecord{}, fmt.Errorf("task: invalid direction %d", incoming.Dir)
	}
	pair := model.PairKey{Token0: incoming.Token0, Token1: incoming.Token1, Dir: incoming.Dir.Opposite()}
	rec, ok := p.records.Get(pair)
	if !ok || rec.IsZero() {
		return model.PairKey{}, model.BestOrderRecord{}, ErrNoRestingOrder
	}
	return pair, rec, nil
}

// exchange moves fillIn of the resting side's sell token to the incoming
// user and fillOut of the other token back. Both balances are verified
// before the first transfer so the pair of moves is atomic.
func (p *Processor) exchange(restingUser, incomingUser common.Address, pair model.PairKey, fillIn, fillOut *big.Int) error {
	inToken, outToken := pair.Token0, pair.Token1
	if pair.Dir == model.SellToken1 {
		inToken, outToken = pair.Token1, pair.Token0
	}

	if p.ledger.Balance(restingUser, inToken).Cmp(fillIn) < 0 {
		return escrow.ErrInsufficientBalance
	}
	if p.ledger.Balance(incomingUser, outToken).Cmp(fillOut) < 0 {
		return escrow.ErrInsufficientBalance
	}

	if err := p.ledger.Transfer(restingUser, incomingUser, inToken, fillIn); err != nil {
		return err
	}
	return p.ledger.Transfer(incomingUser, restingUser, outToken, fillOut)
}

// fillLegs maps the token0/token1 fill amounts onto the resting order's
// input and output legs.
func fillLegs(restingDir model.Direction, amount0, amount1 *big.Int) (fillIn, fillOut *big.Int, err error) {
	if amount0 == nil || amount0.Sign() <= 0 || amount1 == nil || amount1.Sign() <= 0 {
		return nil, nil, escrow.ErrZeroAmount
	}
	if restingDir == model.SellToken0 {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}
