package task

import (
	"errors"
	"math/big"

	"hookbook/internal/events"
	"hookbook/internal/model"
)

// ErrNoRestingOrder reports a fill against a pair with no recorded best
// order.
var ErrNoRestingOrder = errors.New("task: no resting best order recorded")

// Records is the denormalized mirror of the best resting order per
// (pair, direction). It is written by the task pipeline and cleared either
// by an explicit replacement or by the swap-settlement path, independently
// of the ladder's own best-tick cache.
type Records struct {
	emitter events.Emitter
	byPair  map[model.PairKey]model.BestOrderRecord
}

func NewRecords(emitter events.Emitter) *Records {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Records{
		emitter: emitter,
		byPair:  make(map[model.PairKey]model.BestOrderRecord),
	}
}

// Get returns a copy of the record for the pair.
func (r *Records) Get(pair model.PairKey) (model.BestOrderRecord, bool) {
	rec, ok := r.byPair[pair]
	if !ok {
		return model.BestOrderRecord{}, false
	}
	return rec.Clone(), true
}

// Put overwrites the record for the pair.
func (r *Records) Put(pair model.PairKey, rec model.BestOrderRecord) {
	r.byPair[pair] = rec.Clone()
	r.emitter.Emit(model.EventBestPriceUpdated, model.BestPriceUpdatedEvent{
		Token0: pair.Token0, Token1: pair.Token1, Dir: pair.Dir.String(),
		User: rec.User, Tick: rec.Tick,
	})
}

// Clear resets the pair to the null sentinel.
func (r *Records) Clear(pair model.PairKey) {
	delete(r.byPair, pair)
	r.emitter.Emit(model.EventBestPriceUpdated, model.BestPriceUpdatedEvent{
		Token0: pair.Token0, Token1: pair.Token1, Dir: pair.Dir.String(),
		Cleared: true,
	})
}

// Decrement reduces the record's remaining amounts after a partial fill.
func (r *Records) Decrement(pair model.PairKey, input, output *big.Int) error {
	rec, ok := r.byPair[pair]
	if !ok {
		return ErrNoRestingOrder
	}
	if rec.RemainingInput == nil || rec.RemainingInput.Cmp(input) < 0 {
		return errors.New("task: decrement exceeds remaining input")
	}
	next := rec.Clone()
	next.RemainingInput.Sub(next.RemainingInput, input)
	if next.RemainingOutput != nil && next.RemainingOutput.Cmp(output) >= 0 {
		next.RemainingOutput.Sub(next.RemainingOutput, output)
	} else {
		next.RemainingOutput = big.NewInt(0)
	}
	r.byPair[pair] = next
	return nil
}
