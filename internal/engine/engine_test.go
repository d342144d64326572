package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"hookbook/internal/amm"
	"hookbook/internal/bank"
	"hookbook/internal/model"
)

var (
	token0        = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	token1        = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	userA         = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	userB         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	operator      = common.HexToAddress("0x000000000000000000000000000000000000090d")
	escrowCustody = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	ladderCustody = common.HexToAddress("0x000000000000000000000000000000000000001a")
	poolReserve   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type fixture struct {
	vault  *bank.Vault
	pool   *amm.SimPool
	engine *Engine
	key    model.PoolKey
	poolID common.Hash
}

// newFixture wires a full engine over a one-to-one simulated pool with deep
// reserves on both sides.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	vault := bank.NewVault()
	pool := amm.NewSimPool(vault, poolReserve)
	vault.Mint(token0, poolReserve, big.NewInt(1_000_000))
	vault.Mint(token1, poolReserve, big.NewInt(1_000_000))

	key := model.PoolKey{Token0: token0, Token1: token1, Fee: 3000, TickSpacing: 60}
	if err := pool.AddPool(key, 0, big.NewInt(1), big.NewInt(1)); err != nil {
		t.Fatalf("add pool: %v", err)
	}

	eng := New(Config{
		Bank:          vault,
		Pool:          pool,
		EscrowCustody: escrowCustody,
		LadderCustody: ladderCustody,
	})
	poolID := eng.RegisterPool(key)
	return &fixture{vault: vault, pool: pool, engine: eng, key: key, poolID: poolID}
}

func (f *fixture) mustDeposit(t *testing.T, user, token common.Address, amount int64) {
	t.Helper()
	f.vault.Mint(token, user, big.NewInt(amount))
	if err := f.engine.Deposit(context.Background(), user, token, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func externalBalance(t *testing.T, f *fixture, token, holder common.Address) *big.Int {
	t.Helper()
	got, err := f.vault.BalanceOf(context.Background(), token, holder)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return got
}

// A rests 100 token0 at tick -60 with a matching best-order record, then B
// swaps 100 token1 through the pool. A's bucket crosses and executes before
// B's leg moves the price; A's escrow is settled by the callback.
func TestSwapExecutesRestingOrderBeforeTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A funds both stores: escrow for the settlement debit, external for
	// the ladder pull.
	f.mustDeposit(t, userA, token0, 100)
	f.vault.Mint(token0, userA, big.NewInt(100))
	err := f.engine.SubmitTask(ctx, model.Task{
		Index: 1, Kind: model.TaskUpdateBestPrice, Approved: true,
		UpdateBestPrice: &model.UpdateBestPrice{
			Token0: token0, Token1: token1, Dir: model.SellToken0,
			Tick: -60, InputAmount: big.NewInt(100), OutputAmount: big.NewInt(100),
			User: userA, Rounding: model.RoundDown,
		},
	})
	if err != nil {
		t.Fatalf("update best price: %v", err)
	}

	f.vault.Mint(token1, userB, big.NewInt(100))
	_, amountOut, err := f.engine.Swap(ctx, f.poolID, model.SellToken1, big.NewInt(100), userB)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if amountOut.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("swap out = %s, want 100", amountOut)
	}

	// A's escrow: 100 token0 debited, pool proceeds credited.
	if got := f.engine.Balance(userA, token0); got.Sign() != 0 {
		t.Fatalf("A escrow token0 = %s, want 0", got)
	}
	if got := f.engine.Balance(userA, token1); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("A escrow token1 = %s, want 100", got)
	}
	// B received the full pool leg.
	if got := externalBalance(t, f, token0, userB); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("B token0 = %s, want 100", got)
	}
	if got := externalBalance(t, f, token1, userB); got.Sign() != 0 {
		t.Fatalf("B token1 = %s, want 0", got)
	}

	// The bucket emptied: best tick and record both cleared.
	if got := f.engine.Ladder().BucketVolume(f.poolID, -60, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("bucket volume = %s, want 0", got)
	}
	if got := f.engine.Ladder().BestTick(f.poolID, model.SellToken0); got != 0 {
		t.Fatalf("best tick = %d, want cleared", got)
	}
	pair := model.PairKey{Token0: token0, Token1: token1, Dir: model.SellToken0}
	if _, ok := f.engine.Records().Get(pair); ok {
		t.Fatal("best-order record survived emptied bucket")
	}
	// The realized proceeds were swept into escrow custody.
	if got := externalBalance(t, f, token1, escrowCustody); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow custody token1 = %s, want 100", got)
	}
}

// A rests 100 token0 at tick -60 through PlaceOrder alone, so no best-order
// record exists. The crossed bucket cannot settle, so B's swap goes through
// untouched and the bucket stays resting.
func TestSwapSkipsRecordlessRestingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.vault.Mint(token0, userA, big.NewInt(100))
	if _, err := f.engine.PlaceOrder(ctx, userA, token0, token1, -60, model.SellToken0, big.NewInt(100), model.RoundDown); err != nil {
		t.Fatalf("place order: %v", err)
	}

	f.vault.Mint(token1, userB, big.NewInt(100))
	_, amountOut, err := f.engine.Swap(ctx, f.poolID, model.SellToken1, big.NewInt(100), userB)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if amountOut.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("swap out = %s, want 100", amountOut)
	}
	if got := externalBalance(t, f, token0, userB); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("B token0 = %s, want 100", got)
	}

	// The bucket is untouched: still resting, nothing claimable.
	if got := f.engine.Ladder().BucketVolume(f.poolID, -60, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bucket volume = %s, want 100", got)
	}
	if got := f.engine.Ladder().Claimable(f.poolID, -60, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("claimable = %s, want 0", got)
	}
	if got := f.engine.Balance(userA, token0); got.Sign() != 0 {
		t.Fatalf("A escrow token0 = %s, want 0", got)
	}
}

// A's record exists but the escrow backing it was withdrawn, so the crossed
// bucket is skipped rather than half-settled.
func TestSwapSkipsUnderfundedRestingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustDeposit(t, userA, token0, 100)
	f.vault.Mint(token0, userA, big.NewInt(100))
	err := f.engine.SubmitTask(ctx, model.Task{
		Index: 1, Kind: model.TaskUpdateBestPrice, Approved: true,
		UpdateBestPrice: &model.UpdateBestPrice{
			Token0: token0, Token1: token1, Dir: model.SellToken0,
			Tick: -60, InputAmount: big.NewInt(100), OutputAmount: big.NewInt(100),
			User: userA, Rounding: model.RoundDown,
		},
	})
	if err != nil {
		t.Fatalf("update best price: %v", err)
	}
	// Drain the escrow that would back the fill.
	if err := f.engine.Withdraw(ctx, userA, token0, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	f.vault.Mint(token1, userB, big.NewInt(100))
	if _, _, err := f.engine.Swap(ctx, f.poolID, model.SellToken1, big.NewInt(100), userB); err != nil {
		t.Fatalf("swap: %v", err)
	}

	if got := f.engine.Ladder().BucketVolume(f.poolID, -60, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bucket volume = %s, want 100", got)
	}
	if got := f.engine.Ladder().Claimable(f.poolID, -60, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("claimable = %s, want 0", got)
	}
	pair := model.PairKey{Token0: token0, Token1: token1, Dir: model.SellToken0}
	if _, ok := f.engine.Records().Get(pair); !ok {
		t.Fatal("best-order record dropped by skipped fill")
	}
}

// Two opposite orders at tick zero settle through a complete fill with no
// replacement: escrow balances swap exactly and the record clears.
func TestCompleteFillAtTickZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustDeposit(t, userA, token0, 100)
	f.vault.Mint(token0, userA, big.NewInt(100))
	err := f.engine.SubmitTask(ctx, model.Task{
		Index: 1, Kind: model.TaskUpdateBestPrice, Approved: true,
		UpdateBestPrice: &model.UpdateBestPrice{
			Token0: token0, Token1: token1, Dir: model.SellToken0,
			Tick: 0, InputAmount: big.NewInt(100), OutputAmount: big.NewInt(100),
			User: userA, Rounding: model.RoundDown,
		},
	})
	if err != nil {
		t.Fatalf("update best price: %v", err)
	}

	f.mustDeposit(t, userB, token1, 100)
	err = f.engine.SubmitTask(ctx, model.Task{
		Index: 2, Kind: model.TaskCompleteFill, Approved: true,
		CompleteFill: &model.CompleteFill{
			Incoming: model.OrderIntent{
				User: userB, Token0: token0, Token1: token1, Dir: model.SellToken1,
				Tick: 0, InputAmount: big.NewInt(100), OutputAmount: big.NewInt(100),
			},
			FillAmount0: big.NewInt(100),
			FillAmount1: big.NewInt(100),
		},
	})
	if err != nil {
		t.Fatalf("complete fill: %v", err)
	}

	if got := f.engine.Balance(userA, token1); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("A escrow token1 = %s, want 100", got)
	}
	if got := f.engine.Balance(userA, token0); got.Sign() != 0 {
		t.Fatalf("A escrow token0 = %s, want 0", got)
	}
	if got := f.engine.Balance(userB, token0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("B escrow token0 = %s, want 100", got)
	}
	if got := f.engine.Balance(userB, token1); got.Sign() != 0 {
		t.Fatalf("B escrow token1 = %s, want 0", got)
	}
	pair := model.PairKey{Token0: token0, Token1: token1, Dir: model.SellToken0}
	if _, ok := f.engine.Records().Get(pair); ok {
		t.Fatal("record not cleared to the null sentinel")
	}
	// Tick zero collides with the empty sentinel, so the ladder's best-tick
	// cache never saw this order.
	if got := f.engine.Ladder().BestTick(f.poolID, model.SellToken0); got != 0 {
		t.Fatalf("best tick = %d, want 0", got)
	}
}

func TestOperatorTransferWhitelist(t *testing.T) {
	f := newFixture(t)
	f.mustDeposit(t, userA, token0, 100)

	err := f.engine.OperatorTransfer(operator, userA, userB, token0, big.NewInt(40))
	if !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}

	f.engine.AuthorizeOperator(operator)
	if err := f.engine.OperatorTransfer(operator, userA, userB, token0, big.NewInt(40)); err != nil {
		t.Fatalf("operator transfer: %v", err)
	}
	if got := f.engine.Balance(userB, token0); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("B escrow token0 = %s, want 40", got)
	}

	f.engine.RevokeOperator(operator)
	err = f.engine.OperatorTransfer(operator, userA, userB, token0, big.NewInt(1))
	if !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator after revoke, got %v", err)
	}
}

func TestPlaceOrderUnknownPair(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	_, err := f.engine.PlaceOrder(context.Background(), userA, token0, other, -60, model.SellToken0, big.NewInt(1), model.RoundDown)
	if !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
}

func TestPlaceCancelRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.vault.Mint(token0, userA, big.NewInt(100))

	tick, err := f.engine.PlaceOrder(ctx, userA, token0, token1, -61, model.SellToken0, big.NewInt(100), model.RoundDown)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if tick != -120 {
		t.Fatalf("quantized tick = %d, want -120", tick)
	}
	if err := f.engine.CancelOrder(ctx, userA, f.poolID, tick, model.SellToken0, big.NewInt(100)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := externalBalance(t, f, token0, userA); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("external balance after cancel = %s, want 100", got)
	}
	if got := f.engine.Ladder().ShareBalance(f.poolID, tick, model.SellToken0, userA); got.Sign() != 0 {
		t.Fatalf("shares remain after cancel: %s", got)
	}
}
