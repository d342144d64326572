package ladder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hookbook/internal/amm"
	"hookbook/internal/bank"
	"hookbook/internal/events"
	"hookbook/internal/model"
)

var (
	// ErrUnknownPool rejects operations on a pool never registered.
	ErrUnknownPool = errors.New("ladder: unknown pool")
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("ladder: amount must be positive")
	// ErrInsufficientShares rejects cancels and redeems beyond the caller's claim.
	ErrInsufficientShares = errors.New("ladder: insufficient claim shares")
	// ErrEmptyBucket rejects operations on a bucket with no resting volume.
	ErrEmptyBucket = errors.New("ladder: empty bucket")
	// ErrBucketOverdraw rejects consuming more than the bucket holds.
	ErrBucketOverdraw = errors.New("ladder: amount exceeds bucket volume")
	// ErrNotSettleable rejects an execution whose settlement preconditions
	// fail before any state is touched.
	ErrNotSettleable = errors.New("ladder: resting order not settleable")
)

// Settler receives the escrow-side settlement callback around a
// swap-triggered execution. Implemented by the task subsystem; nil disables
// settlement. CheckFill runs before the nested pool swap so a fill that
// cannot settle is refused while the ladder is still untouched; SettleFill
// commits the realized amounts afterwards.
type Settler interface {
	CheckFill(ctx context.Context, key model.PoolKey, dir model.Direction, amountIn *big.Int) error
	SettleFill(ctx context.Context, key model.PoolKey, dir model.Direction, amountIn, amountOut *big.Int, bucketEmptied bool) error
}

type bucketKey struct {
	pool common.Hash
	tick int32
	dir  model.Direction
}

type sideKey struct {
	pool common.Hash
	dir  model.Direction
}

// bucket aggregates resting volume at one (pool, tick, direction) together
// with the claim-share supply and the output proceeds claimable against it.
type bucket struct {
	volume      *big.Int
	claimable   *big.Int
	totalShares *big.Int
	shares      map[common.Address]*big.Int
}

func newBucket() *bucket {
	return &bucket{
		volume:      big.NewInt(0),
		claimable:   big.NewInt(0),
		totalShares: big.NewInt(0),
		shares:      make(map[common.Address]*big.Int),
	}
}

func (b *bucket) drained() bool {
	return b.volume.Sign() == 0 && b.totalShares.Sign() == 0 && b.claimable.Sign() == 0
}

// Ladder is the tick-bucketed resting-order store. Input tokens are parked
// under the ladder's custody account at the token bank until execution or
// cancel.
type Ladder struct {
	bank    bank.TokenBank
	custody common.Address
	swapper amm.Swapper
	settler Settler
	emitter events.Emitter
	logger  *zap.Logger

	buckets map[bucketKey]*bucket
	best    map[sideKey]int32
	pools   map[common.Hash]model.PoolKey
}

func New(tokenBank bank.TokenBank, custody common.Address, swapper amm.Swapper, emitter events.Emitter, logger *zap.Logger) *Ladder {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ladder{
		bank:    tokenBank,
		custody: custody,
		swapper: swapper,
		emitter: emitter,
		logger:  logger,
		buckets: make(map[bucketKey]*bucket),
		best:    make(map[sideKey]int32),
		pools:   make(map[common.Hash]model.PoolKey),
	}
}

// SetSettler installs the escrow settlement callback. Settlement is wired
// after construction because the settler itself reads back through the
// ladder.
func (l *Ladder) SetSettler(s Settler) { l.settler = s }

// Custody returns the bank account holding resting-order input tokens.
func (l *Ladder) Custody() common.Address { return l.custody }

// RegisterPool makes a pool known to the ladder.
func (l *Ladder) RegisterPool(key model.PoolKey) common.Hash {
	id := key.ID()
	l.pools[id] = key
	return id
}

// PoolKeyOf resolves a registered pool id back to its key.
func (l *Ladder) PoolKeyOf(poolID common.Hash) (model.PoolKey, bool) {
	key, ok := l.pools[poolID]
	return key, ok
}

// Place quantizes rawTick to the pool spacing, pulls the sell-side token
// from the placer, grows the bucket, mints claim shares one to one with the
// input amount, and advances the best tick when the new price is strictly
// better. Returns the quantized tick.
func (l *Ladder) Place(ctx context.Context, user common.Address, key model.PoolKey, rawTick int32, dir model.Direction, amount *big.Int, rounding model.TickRounding) (int32, error) {
	if user == (common.Address{}) {
		return 0, fmt.Errorf("ladder: zero placer address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if !dir.Valid() {
		return 0, fmt.Errorf("ladder: invalid direction %d", dir)
	}

	poolID := l.RegisterPool(key)
	tick := model.QuantizeTick(rawTick, key.TickSpacing, rounding)

	if err := l.bank.Transfer(ctx, key.InputToken(dir), user, l.custody, amount); err != nil {
		return 0, fmt.Errorf("ladder place: %w", err)
	}

	bk := bucketKey{pool: poolID, tick: tick, dir: dir}
	b := l.buckets[bk]
	if b == nil {
		b = newBucket()
		l.buckets[bk] = b
	}
	b.volume.Add(b.volume, amount)
	b.totalShares.Add(b.totalShares, amount)
	cur := b.shares[user]
	if cur == nil {
		cur = big.NewInt(0)
	}
	b.shares[user] = new(big.Int).Add(cur, amount)

	side := sideKey{pool: poolID, dir: dir}
	// Zero doubles as the empty sentinel, so a resting order exactly at tick
	// zero cannot seed the cache. Replicated from the source semantics.
	if best, ok := l.best[side]; !ok || best == 0 || betterTick(dir, tick, best) {
		l.best[side] = tick
	}

	l.emitter.Emit(model.EventOrderPlaced, model.OrderPlacedEvent{
		PoolID: poolID, User: user, Tick: tick, Dir: dir.String(), Amount: new(big.Int).Set(amount),
	})
	l.logger.Debug("order placed",
		zap.String("pool", poolID.Hex()),
		zap.Int32("tick", tick),
		zap.String("direction", dir.String()),
		zap.String("amount", amount.String()),
	)
	return tick, nil
}

// Cancel burns the caller's claim shares, shrinks the bucket, and refunds
// the input token.
func (l *Ladder) Cancel(ctx context.Context, user common.Address, poolID common.Hash, tick int32, dir model.Direction, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	key, ok := l.pools[poolID]
	if !ok {
		return ErrUnknownPool
	}
	bk := bucketKey{pool: poolID, tick: tick, dir: dir}
	b := l.buckets[bk]
	if b == nil {
		return ErrEmptyBucket
	}
	held := b.shares[user]
	if held == nil || held.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	if b.volume.Cmp(amount) < 0 {
		return ErrBucketOverdraw
	}

	b.volume.Sub(b.volume, amount)
	b.totalShares.Sub(b.totalShares, amount)
	rest := new(big.Int).Sub(held, amount)
	if rest.Sign() == 0 {
		delete(b.shares, user)
	} else {
		b.shares[user] = rest
	}

	if err := l.bank.Transfer(ctx, key.InputToken(dir), l.custody, user, amount); err != nil {
		// Roll the bucket back so a failed refund leaves zero state change.
		b.volume.Add(b.volume, amount)
		b.totalShares.Add(b.totalShares, amount)
		cur := b.shares[user]
		if cur == nil {
			cur = big.NewInt(0)
		}
		b.shares[user] = new(big.Int).Add(cur, amount)
		return fmt.Errorf("ladder cancel: %w", err)
	}

	l.clearBestIfEmpty(poolID, tick, dir, b)
	if b.drained() {
		delete(l.buckets, bk)
	}

	l.emitter.Emit(model.EventOrderCanceled, model.OrderCanceledEvent{
		PoolID: poolID, User: user, Tick: tick, Dir: dir.String(), Amount: new(big.Int).Set(amount),
	})
	return nil
}

// Execute consumes amount of the bucket through an exact-input swap against
// the pool and credits the proceeds to the bucket's claimable pool. The
// bucket is decremented before the nested swap is issued, so a reentrant
// caller cannot observe stale volume. Settlement preconditions are verified
// first and the callback is invoked with the realized amounts after.
func (l *Ladder) Execute(ctx context.Context, poolID common.Hash, tick int32, dir model.Direction, amount *big.Int) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	key, ok := l.pools[poolID]
	if !ok {
		return nil, nil, ErrUnknownPool
	}
	bk := bucketKey{pool: poolID, tick: tick, dir: dir}
	b := l.buckets[bk]
	if b == nil || b.volume.Sign() == 0 {
		return nil, nil, ErrEmptyBucket
	}
	if b.volume.Cmp(amount) < 0 {
		return nil, nil, ErrBucketOverdraw
	}

	// The nested swap cannot be unwound, so settlement preconditions are
	// checked while the bucket is still intact.
	if l.settler != nil {
		if err := l.settler.CheckFill(ctx, key, dir, amount); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotSettleable, err)
		}
	}

	b.volume.Sub(b.volume, amount)

	amountIn, amountOut, err := l.swapper.Swap(ctx, poolID, dir, amount, l.custody)
	if err != nil {
		b.volume.Add(b.volume, amount)
		return nil, nil, fmt.Errorf("ladder execute: %w", err)
	}

	b.claimable.Add(b.claimable, amountOut)
	emptied := b.volume.Sign() == 0
	if emptied {
		l.clearBestIfEmpty(poolID, tick, dir, b)
	}

	if l.settler != nil {
		if err := l.settler.SettleFill(ctx, key, dir, amountIn, amountOut, emptied); err != nil {
			return nil, nil, fmt.Errorf("ladder execute settle: %w", err)
		}
	}

	l.logger.Debug("bucket executed",
		zap.String("pool", poolID.Hex()),
		zap.Int32("tick", tick),
		zap.String("direction", dir.String()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
	)
	return amountIn, amountOut, nil
}

// Redeem pays the owner's proportional claim on the bucket's realized
// proceeds to the recipient, burning the shares.
func (l *Ladder) Redeem(ctx context.Context, owner, recipient common.Address, poolID common.Hash, tick int32, dir model.Direction, shareAmount *big.Int) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	key, ok := l.pools[poolID]
	if !ok {
		return nil, ErrUnknownPool
	}
	bk := bucketKey{pool: poolID, tick: tick, dir: dir}
	b := l.buckets[bk]
	if b == nil {
		return nil, ErrEmptyBucket
	}
	held := b.shares[owner]
	if held == nil || held.Cmp(shareAmount) < 0 {
		return nil, ErrInsufficientShares
	}

	// shareAmount * claimable / totalShares, floor division.
	payout := new(big.Int).Mul(shareAmount, b.claimable)
	payout.Div(payout, b.totalShares)

	b.totalShares.Sub(b.totalShares, shareAmount)
	b.claimable.Sub(b.claimable, payout)
	rest := new(big.Int).Sub(held, shareAmount)
	if rest.Sign() == 0 {
		delete(b.shares, owner)
	} else {
		b.shares[owner] = rest
	}

	if payout.Sign() > 0 {
		if err := l.bank.Transfer(ctx, key.OutputToken(dir), l.custody, recipient, payout); err != nil {
			b.totalShares.Add(b.totalShares, shareAmount)
			b.claimable.Add(b.claimable, payout)
			cur := b.shares[owner]
			if cur == nil {
				cur = big.NewInt(0)
			}
			b.shares[owner] = new(big.Int).Add(cur, shareAmount)
			return nil, fmt.Errorf("ladder redeem: %w", err)
		}
	}

	if b.drained() {
		delete(l.buckets, bk)
	}

	l.emitter.Emit(model.EventOrderRedeemed, model.OrderRedeemedEvent{
		PoolID: poolID, Owner: owner, Tick: tick, Dir: dir.String(),
		Shares: new(big.Int).Set(shareAmount), Payout: new(big.Int).Set(payout),
	})
	return payout, nil
}

// BestTick returns the cached best tick for (pool, direction); zero means
// empty.
func (l *Ladder) BestTick(poolID common.Hash, dir model.Direction) int32 {
	return l.best[sideKey{pool: poolID, dir: dir}]
}

// BucketVolume returns the unfilled input volume resting at the bucket.
func (l *Ladder) BucketVolume(poolID common.Hash, tick int32, dir model.Direction) *big.Int {
	b := l.buckets[bucketKey{pool: poolID, tick: tick, dir: dir}]
	if b == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.volume)
}

// Claimable returns the realized output proceeds not yet redeemed.
func (l *Ladder) Claimable(poolID common.Hash, tick int32, dir model.Direction) *big.Int {
	b := l.buckets[bucketKey{pool: poolID, tick: tick, dir: dir}]
	if b == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.claimable)
}

// ShareBalance returns the user's outstanding claim shares in the bucket.
func (l *Ladder) ShareBalance(poolID common.Hash, tick int32, dir model.Direction, user common.Address) *big.Int {
	b := l.buckets[bucketKey{pool: poolID, tick: tick, dir: dir}]
	if b == nil {
		return big.NewInt(0)
	}
	cur := b.shares[user]
	if cur == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(cur)
}

func (l *Ladder) clearBestIfEmpty(poolID common.Hash, tick int32, dir model.Direction, b *bucket) {
	if b.volume.Sign() != 0 {
		return
	}
	side := sideKey{pool: poolID, dir: dir}
	if l.best[side] == tick {
		delete(l.best, side)
	}
}

// betterTick reports whether a is a strictly better resting price than b for
// the direction: selling token0 favors higher ticks, selling token1 lower.
func betterTick(dir model.Direction, a, b int32) bool {
	if dir == model.SellToken0 {
		return a > b
	}
	return a < b
}
