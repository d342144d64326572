package task

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"hookbook/internal/escrow"
	"hookbook/internal/ladder"
	"hookbook/internal/model"
)

// Settlement is the swap-triggered settlement callback from the ladder into
// the escrow ledger. It runs only on the interceptor's execute path; fills
// on this path were not externally validated, so the counterpart is the AMM
// pool and the escrow mutation is one-sided.
type Settlement struct {
	ladder  *ladder.Ladder
	ledger  *escrow.Ledger
	records *Records
	logger  *zap.Logger
}

func NewSettlement(l *ladder.Ladder, ledger *escrow.Ledger, records *Records, logger *zap.Logger) *Settlement {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settlement{ladder: l, ledger: ledger, records: records, logger: logger}
}

// CheckFill verifies that a fill of amountIn could settle: a best-order
// record exists for the pair and its owner's escrow covers the debit. The
// ladder runs this before its nested pool swap.
func (s *Settlement) CheckFill(_ context.Context, key model.PoolKey, dir model.Direction, amountIn *big.Int) error {
	_, err := s.settleableRecord(key, dir, amountIn)
	return err
}

// settleableRecord resolves the record backing a fill and validates the
// one-sided escrow debit so a failure cannot strand a partially settled
// fill.
func (s *Settlement) settleableRecord(key model.PoolKey, dir model.Direction, amountIn *big.Int) (model.BestOrderRecord, error) {
	pair := model.PairKey{Token0: key.Token0, Token1: key.Token1, Dir: dir}
	rec, ok := s.records.Get(pair)
	if !ok || rec.IsZero() {
		return model.BestOrderRecord{}, fmt.Errorf("settlement: %w", ErrNoRestingOrder)
	}
	if s.ledger.Balance(rec.User, key.InputToken(dir)).Cmp(amountIn) < 0 {
		return model.BestOrderRecord{}, fmt.Errorf("settlement: %w", escrow.ErrInsufficientBalance)
	}
	return rec, nil
}

// SettleFill realizes the resting-order owner's claim and moves their escrow
// balances by the executed amounts. The execution tick is recomputed from
// the record's stored rounding mode because the recorded tick and the
// ladder's quantized tick can diverge.
func (s *Settlement) SettleFill(ctx context.Context, key model.PoolKey, dir model.Direction, amountIn, amountOut *big.Int, bucketEmptied bool) error {
	pair := model.PairKey{Token0: key.Token0, Token1: key.Token1, Dir: dir}
	rec, err := s.settleableRecord(key, dir, amountIn)
	if err != nil {
		return err
	}

	inToken := key.InputToken(dir)
	outToken := key.OutputToken(dir)

	execTick := model.QuantizeTick(rec.Tick, key.TickSpacing, rec.Rounding)
	poolID := key.ID()

	shares := s.ladder.ShareBalance(poolID, execTick, dir, rec.User)
	if shares.Sign() > 0 {
		if _, err := s.ladder.Redeem(ctx, rec.User, s.ledger.Custody(), poolID, execTick, dir, shares); err != nil {
			return fmt.Errorf("settlement redeem: %w", err)
		}
	}

	if err := s.ledger.Debit(rec.User, inToken, amountIn); err != nil {
		return fmt.Errorf("settlement debit: %w", err)
	}
	if err := s.ledger.Credit(rec.User, outToken, amountOut); err != nil {
		return fmt.Errorf("settlement credit: %w", err)
	}

	if bucketEmptied {
		s.records.Clear(pair)
	}

	s.logger.Debug("swap fill settled",
		zap.String("owner", rec.User.Hex()),
		zap.Int32("tick", execTick),
		zap.String("direction", dir.String()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
	)
	return nil
}
