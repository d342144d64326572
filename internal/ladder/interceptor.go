package ladder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hookbook/internal/amm"
	"hookbook/internal/events"
	"hookbook/internal/model"
)

// Interceptor hooks the pool's swap path on both sides of the trade and
// opportunistically executes crossable resting orders against the pool.
type Interceptor struct {
	ladder  *Ladder
	reader  amm.StateReader
	emitter events.Emitter
	logger  *zap.Logger

	// active guards against re-entry: Execute issues a nested pool swap
	// that would otherwise call back into this routine.
	active bool
}

func NewInterceptor(l *Ladder, reader amm.StateReader, emitter events.Emitter, logger *zap.Logger) *Interceptor {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{ladder: l, reader: reader, emitter: emitter, logger: logger}
}

// BeforeSwap runs before the triggering trade touches the pool.
func (i *Interceptor) BeforeSwap(ctx context.Context, poolID common.Hash, swapDir model.Direction) error {
	return i.tryExecuteRestingOrders(ctx, poolID, swapDir, model.PhasePreTrade)
}

// AfterSwap runs after the triggering trade has moved the pool price.
func (i *Interceptor) AfterSwap(ctx context.Context, poolID common.Hash, swapDir model.Direction) error {
	return i.tryExecuteRestingOrders(ctx, poolID, swapDir, model.PhasePostTrade)
}

// tryExecuteRestingOrders checks whether the best resting order opposite the
// triggering swap crosses the pool's current tick and, if so, executes the
// entire bucket. The swap path never splits a bucket; partial consumption is
// reserved for the task pipeline.
func (i *Interceptor) tryExecuteRestingOrders(ctx context.Context, poolID common.Hash, swapDir model.Direction, phase string) error {
	if i.active {
		return nil
	}
	i.active = true
	defer func() { i.active = false }()

	opp := swapDir.Opposite()
	best := i.ladder.BestTick(poolID, opp)
	if best == 0 {
		return nil
	}

	current, _, err := i.reader.CurrentTick(ctx, poolID)
	if err != nil {
		return fmt.Errorf("interceptor: read pool tick: %w", err)
	}
	if !crossed(opp, best, current) {
		return nil
	}

	volume := i.ladder.BucketVolume(poolID, best, opp)
	if volume.Sign() <= 0 {
		return nil
	}

	amountIn, amountOut, err := i.ladder.Execute(ctx, poolID, best, opp, volume)
	if err != nil {
		// A bucket whose settlement preconditions fail is left resting;
		// the triggering trade itself proceeds.
		if errors.Is(err, ErrNotSettleable) {
			i.logger.Warn("resting orders skipped",
				zap.String("pool", poolID.Hex()),
				zap.Int32("tick", best),
				zap.String("direction", opp.String()),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	i.emitter.Emit(model.EventOrderExecuted, model.OrderExecutedEvent{
		PoolID:    poolID,
		Tick:      best,
		Dir:       opp.String(),
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
		Phase:     phase,
	})
	i.logger.Info("resting orders executed",
		zap.String("pool", poolID.Hex()),
		zap.Int32("tick", best),
		zap.String("direction", opp.String()),
		zap.String("phase", phase),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
	)
	return nil
}

// crossed reports whether a resting order at tick is executable at the
// current pool tick: an order selling token0 crosses once the price has
// risen to its tick, an order selling token1 once it has fallen to it.
func crossed(restingDir model.Direction, tick, current int32) bool {
	if restingDir == model.SellToken0 {
		return current >= tick
	}
	return current <= tick
}
