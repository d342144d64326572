package task

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"hookbook/internal/escrow"
	"hookbook/internal/ladder"
	"hookbook/internal/model"
)

func newSettlementFixture(t *testing.T) (*procFixture, *Settlement) {
	t.Helper()
	f := newProcFixture(t)
	return f, NewSettlement(f.ladder, f.ledger, f.records, nil)
}

func TestSettleFillMovesEscrowBalances(t *testing.T) {
	f, s := newSettlementFixture(t)
	f.escrowFund(t, alice, token0, 100)
	f.records.Put(f.pair(model.SellToken0), model.BestOrderRecord{
		User: alice, Tick: -60,
		RemainingInput: big.NewInt(100), RemainingOutput: big.NewInt(90),
		Rounding: model.RoundDown,
	})

	err := s.SettleFill(context.Background(), f.key, model.SellToken0, big.NewInt(100), big.NewInt(90), false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := f.ledger.Balance(alice, token0); got.Sign() != 0 {
		t.Fatalf("alice token0 = %s, want 0", got)
	}
	if got := f.ledger.Balance(alice, token1); got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("alice token1 = %s, want 90", got)
	}
	if _, ok := f.records.Get(f.pair(model.SellToken0)); !ok {
		t.Fatal("record cleared although bucket was not emptied")
	}
}

func TestSettleFillClearsRecordOnEmptiedBucket(t *testing.T) {
	f, s := newSettlementFixture(t)
	f.escrowFund(t, alice, token0, 100)
	f.records.Put(f.pair(model.SellToken0), model.BestOrderRecord{
		User: alice, Tick: -60,
		RemainingInput: big.NewInt(100), RemainingOutput: big.NewInt(90),
	})

	err := s.SettleFill(context.Background(), f.key, model.SellToken0, big.NewInt(100), big.NewInt(90), true)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, ok := f.records.Get(f.pair(model.SellToken0)); ok {
		t.Fatal("record survived emptied bucket")
	}
}

func TestSettleFillNoRecord(t *testing.T) {
	f, s := newSettlementFixture(t)
	err := s.SettleFill(context.Background(), f.key, model.SellToken0, big.NewInt(1), big.NewInt(1), false)
	if !errors.Is(err, ErrNoRestingOrder) {
		t.Fatalf("expected ErrNoRestingOrder, got %v", err)
	}
}

func TestSettleFillInsufficientEscrow(t *testing.T) {
	f, s := newSettlementFixture(t)
	f.escrowFund(t, alice, token0, 10)
	f.records.Put(f.pair(model.SellToken0), model.BestOrderRecord{
		User: alice, Tick: -60,
		RemainingInput: big.NewInt(100), RemainingOutput: big.NewInt(90),
	})

	err := s.SettleFill(context.Background(), f.key, model.SellToken0, big.NewInt(100), big.NewInt(90), true)
	if !errors.Is(err, escrow.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.ledger.Balance(alice, token0); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("alice token0 mutated on failed settle: %s", got)
	}
	if _, ok := f.records.Get(f.pair(model.SellToken0)); !ok {
		t.Fatal("record cleared by failed settle")
	}
}

func TestDecrementClampsOutput(t *testing.T) {
	records := NewRecords(nil)
	pair := model.PairKey{Token0: token0, Token1: token1, Dir: model.SellToken0}
	records.Put(pair, model.BestOrderRecord{
		User: alice, Tick: -60,
		RemainingInput: big.NewInt(100), RemainingOutput: big.NewInt(10),
	})
	if err := records.Decrement(pair, big.NewInt(40), big.NewInt(40)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	rec, _ := records.Get(pair)
	if rec.RemainingInput.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("remaining input = %s, want 60", rec.RemainingInput)
	}
	if rec.RemainingOutput.Sign() != 0 {
		t.Fatalf("remaining output = %s, want 0", rec.RemainingOutput)
	}
}

var _ ladder.Settler = (*Settlement)(nil)
