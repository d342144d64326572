package ladder

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"hookbook/internal/bank"
	"hookbook/internal/model"
)

var (
	ladderCustody = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolReserve   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	token0        = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	token1        = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	maker         = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	other         = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

func testPoolKey() model.PoolKey {
	return model.PoolKey{Token0: token0, Token1: token1, Fee: 3000, TickSpacing: 60}
}

// unitSwapper settles swaps 1:1 between the counterparty and the reserve.
type unitSwapper struct {
	vault *bank.Vault
	key   model.PoolKey
	calls int
}

func (s *unitSwapper) Swap(ctx context.Context, _ common.Hash, dir model.Direction, exactIn *big.Int, counterparty common.Address) (*big.Int, *big.Int, error) {
	s.calls++
	if err := s.vault.Transfer(ctx, s.key.InputToken(dir), counterparty, poolReserve, exactIn); err != nil {
		return nil, nil, err
	}
	out := new(big.Int).Set(exactIn)
	if err := s.vault.Transfer(ctx, s.key.OutputToken(dir), poolReserve, counterparty, out); err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(exactIn), out, nil
}

type recordingSettler struct {
	key       model.PoolKey
	dir       model.Direction
	amountIn  *big.Int
	amountOut *big.Int
	emptied   bool
	calls     int
	checkErr  error
}

func (r *recordingSettler) CheckFill(_ context.Context, _ model.PoolKey, _ model.Direction, _ *big.Int) error {
	return r.checkErr
}

func (r *recordingSettler) SettleFill(_ context.Context, key model.PoolKey, dir model.Direction, amountIn, amountOut *big.Int, emptied bool) error {
	r.calls++
	r.key = key
	r.dir = dir
	r.amountIn = new(big.Int).Set(amountIn)
	r.amountOut = new(big.Int).Set(amountOut)
	r.emptied = emptied
	return nil
}

func newTestLadder(t *testing.T) (*Ladder, *bank.Vault, *unitSwapper) {
	t.Helper()
	vault := bank.NewVault()
	vault.Mint(token0, maker, big.NewInt(1_000))
	vault.Mint(token1, maker, big.NewInt(1_000))
	vault.Mint(token0, other, big.NewInt(1_000))
	vault.Mint(token1, other, big.NewInt(1_000))
	vault.Mint(token0, poolReserve, big.NewInt(100_000))
	vault.Mint(token1, poolReserve, big.NewInt(100_000))
	swapper := &unitSwapper{vault: vault, key: testPoolKey()}
	return New(vault, ladderCustody, swapper, nil, nil), vault, swapper
}

func TestPlaceQuantizesAndMintsShares(t *testing.T) {
	l, vault, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	tick, err := l.Place(ctx, maker, key, -61, model.SellToken0, big.NewInt(100), model.RoundDown)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if tick != -120 {
		t.Fatalf("quantized tick = %d, want -120", tick)
	}
	if got := l.BucketVolume(poolID, -120, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bucket volume = %s, want 100", got)
	}
	if got := l.ShareBalance(poolID, -120, model.SellToken0, maker); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("share balance = %s, want 100", got)
	}
	if got, _ := vault.BalanceOf(ctx, token0, maker); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("maker external balance = %s, want 900", got)
	}
	if got := l.BestTick(poolID, model.SellToken0); got != -120 {
		t.Fatalf("best tick = %d, want -120", got)
	}
}

func TestPlaceBestTickUpdates(t *testing.T) {
	l, _, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	if _, err := l.Place(ctx, maker, key, -120, model.SellToken0, big.NewInt(10), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	// Higher tick is strictly better when selling token0.
	if _, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(10), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := l.BestTick(poolID, model.SellToken0); got != -60 {
		t.Fatalf("best tick = %d, want -60", got)
	}
	// A worse tick must not displace the best.
	if _, err := l.Place(ctx, maker, key, -180, model.SellToken0, big.NewInt(10), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := l.BestTick(poolID, model.SellToken0); got != -60 {
		t.Fatalf("best tick after worse place = %d, want -60", got)
	}

	// Lower tick is better when selling token1.
	if _, err := l.Place(ctx, maker, key, 120, model.SellToken1, big.NewInt(10), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := l.Place(ctx, maker, key, 60, model.SellToken1, big.NewInt(10), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := l.BestTick(poolID, model.SellToken1); got != 60 {
		t.Fatalf("sell_token1 best tick = %d, want 60", got)
	}
}

func TestCancelRestoresExternalBalance(t *testing.T) {
	l, vault, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	before, _ := vault.BalanceOf(ctx, token0, maker)
	tick, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(250), model.RoundDown)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := l.Cancel(ctx, maker, poolID, tick, model.SellToken0, big.NewInt(250)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	after, _ := vault.BalanceOf(ctx, token0, maker)
	if before.Cmp(after) != 0 {
		t.Fatalf("external balance %s != pre-order %s", after, before)
	}
	if got := l.ShareBalance(poolID, tick, model.SellToken0, maker); got.Sign() != 0 {
		t.Fatalf("shares remain after full cancel: %s", got)
	}
	if got := l.BestTick(poolID, model.SellToken0); got != 0 {
		t.Fatalf("best tick not cleared, got %d", got)
	}
}

func TestCancelChecks(t *testing.T) {
	l, _, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	tick, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(100), model.RoundDown)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := l.Cancel(ctx, other, poolID, tick, model.SellToken0, big.NewInt(1)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("non-owner cancel error = %v, want ErrInsufficientShares", err)
	}
	if err := l.Cancel(ctx, maker, poolID, tick, model.SellToken0, big.NewInt(101)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("oversized cancel error = %v, want ErrInsufficientShares", err)
	}
	if got := l.BucketVolume(poolID, tick, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed cancels must not change volume, got %s", got)
	}
}

func TestExecuteAndRedeem(t *testing.T) {
	l, vault, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	settler := &recordingSettler{}
	l.SetSettler(settler)

	tick, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(100), model.RoundDown)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	amountIn, amountOut, err := l.Execute(ctx, poolID, tick, model.SellToken0, big.NewInt(100))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if amountIn.Cmp(big.NewInt(100)) != 0 || amountOut.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("execute amounts = %s/%s, want 100/100", amountIn, amountOut)
	}
	if got := l.BucketVolume(poolID, tick, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("bucket volume after full execute = %s, want 0", got)
	}
	if got := l.BestTick(poolID, model.SellToken0); got != 0 {
		t.Fatalf("best tick after full execute = %d, want 0", got)
	}
	if got := l.Claimable(poolID, tick, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("claimable = %s, want 100", got)
	}
	if settler.calls != 1 || !settler.emptied || settler.dir != model.SellToken0 {
		t.Fatalf("settler call = %+v", settler)
	}

	payout, err := l.Redeem(ctx, maker, maker, poolID, tick, model.SellToken0, big.NewInt(100))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payout.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("payout = %s, want 100", payout)
	}
	if got, _ := vault.BalanceOf(ctx, token1, maker); got.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("maker token1 balance = %s, want 1100", got)
	}
	if got := l.Claimable(poolID, tick, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("claimable after redeem = %s, want 0", got)
	}
}

func TestRedeemProportional(t *testing.T) {
	l, _, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	if _, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(75), model.RoundDown); err != nil {
		t.Fatalf("place maker: %v", err)
	}
	if _, err := l.Place(ctx, other, key, -60, model.SellToken0, big.NewInt(25), model.RoundDown); err != nil {
		t.Fatalf("place other: %v", err)
	}
	if _, _, err := l.Execute(ctx, poolID, -60, model.SellToken0, big.NewInt(100)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// 30 of 100 shares over 100 claimable -> floor(30*100/100) = 30.
	payout, err := l.Redeem(ctx, maker, maker, poolID, -60, model.SellToken0, big.NewInt(30))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payout.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("payout = %s, want 30", payout)
	}
	if got := l.Claimable(poolID, -60, model.SellToken0); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("claimable after partial redeem = %s, want 70", got)
	}
}

func TestExecuteOverdraw(t *testing.T) {
	l, _, _ := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	if _, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(50), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, _, err := l.Execute(ctx, poolID, -60, model.SellToken0, big.NewInt(51)); !errors.Is(err, ErrBucketOverdraw) {
		t.Fatalf("overdraw error = %v, want ErrBucketOverdraw", err)
	}
	if got := l.BucketVolume(poolID, -60, model.SellToken0); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("failed execute must not change volume, got %s", got)
	}
}

func TestExecuteRefusedBeforeSwapWhenUnsettleable(t *testing.T) {
	l, _, swapper := newTestLadder(t)
	ctx := context.Background()
	key := testPoolKey()
	poolID := key.ID()

	settler := &recordingSettler{checkErr: errors.New("owner escrow short")}
	l.SetSettler(settler)

	if _, err := l.Place(ctx, maker, key, -60, model.SellToken0, big.NewInt(100), model.RoundDown); err != nil {
		t.Fatalf("place: %v", err)
	}

	_, _, err := l.Execute(ctx, poolID, -60, model.SellToken0, big.NewInt(100))
	if !errors.Is(err, ErrNotSettleable) {
		t.Fatalf("execute error = %v, want ErrNotSettleable", err)
	}
	// Refused before the swap: no pool leg ran and the bucket is intact.
	if swapper.calls != 0 {
		t.Fatalf("swapper ran %d times on a refused execute", swapper.calls)
	}
	if got := l.BucketVolume(poolID, -60, model.SellToken0); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bucket volume = %s, want 100", got)
	}
	if got := l.Claimable(poolID, -60, model.SellToken0); got.Sign() != 0 {
		t.Fatalf("claimable = %s, want 0", got)
	}
	if settler.calls != 0 {
		t.Fatalf("settlement committed %d times on a refused execute", settler.calls)
	}
}
