package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hookbook/internal/bank"
	"hookbook/internal/events"
	"hookbook/internal/model"
)

var (
	// ErrZeroAddress rejects operations on the zero user or token address.
	ErrZeroAddress = errors.New("escrow: zero address")
	// ErrZeroAmount rejects zero or negative amounts.
	ErrZeroAmount = errors.New("escrow: amount must be positive")
	// ErrInsufficientBalance rejects debits exceeding the escrowed amount.
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
)

type balanceKey struct {
	user  common.Address
	token common.Address
}

// Ledger keeps custodial per-user per-token balances, separate from external
// wallet balances held by the token bank.
type Ledger struct {
	bank    bank.TokenBank
	custody common.Address
	emitter events.Emitter
	logger  *zap.Logger

	balances map[balanceKey]*big.Int
}

// NewLedger builds a ledger whose pulled funds are parked under the custody
// address at the token bank.
func NewLedger(tokenBank bank.TokenBank, custody common.Address, emitter events.Emitter, logger *zap.Logger) *Ledger {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		bank:     tokenBank,
		custody:  custody,
		emitter:  emitter,
		logger:   logger,
		balances: make(map[balanceKey]*big.Int),
	}
}

// Custody returns the bank account holding escrowed funds.
func (l *Ledger) Custody() common.Address { return l.custody }

// Deposit pulls amount from the user's external balance into custody and
// credits the escrow balance.
func (l *Ledger) Deposit(ctx context.Context, user, token common.Address, amount *big.Int) error {
	if err := validateEntry(user, token, amount); err != nil {
		return err
	}
	if err := l.bank.Transfer(ctx, token, user, l.custody, amount); err != nil {
		return fmt.Errorf("escrow deposit: %w", err)
	}
	l.credit(user, token, amount)
	l.emitter.Emit(model.EventDeposit, model.DepositEvent{User: user, Token: token, Amount: new(big.Int).Set(amount)})
	l.logger.Debug("escrow deposit", zap.String("user", user.Hex()), zap.String("token", token.Hex()), zap.String("amount", amount.String()))
	return nil
}

// Withdraw debits the escrow balance and pays out externally. The balance is
// reduced before the external transfer is issued.
func (l *Ledger) Withdraw(ctx context.Context, user, token common.Address, amount *big.Int) error {
	if err := validateEntry(user, token, amount); err != nil {
		return err
	}
	if err := l.debit(user, token, amount); err != nil {
		return err
	}
	if err := l.bank.Transfer(ctx, token, l.custody, user, amount); err != nil {
		// Restore the ledger entry so a failed payout leaves zero state change.
		l.credit(user, token, amount)
		return fmt.Errorf("escrow withdraw: %w", err)
	}
	l.emitter.Emit(model.EventWithdraw, model.WithdrawEvent{User: user, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves escrowed balance between two users without touching the
// bank. Reserved for the task pipeline and whitelisted operators; the engine
// enforces that boundary.
func (l *Ledger) Transfer(from, to, token common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := validateEntry(to, token, amount); err != nil {
		return err
	}
	if err := l.debit(from, token, amount); err != nil {
		return err
	}
	l.credit(to, token, amount)
	l.emitter.Emit(model.EventEscrowTransfer, model.EscrowTransferEvent{From: from, To: to, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

// Credit adds to a user's escrow balance without a counterparty. Used by the
// swap-settlement path where the pool, not another user, is the other side.
func (l *Ledger) Credit(user, token common.Address, amount *big.Int) error {
	if err := validateEntry(user, token, amount); err != nil {
		return err
	}
	l.credit(user, token, amount)
	return nil
}

// Debit removes from a user's escrow balance without a counterparty.
func (l *Ledger) Debit(user, token common.Address, amount *big.Int) error {
	if err := validateEntry(user, token, amount); err != nil {
		return err
	}
	return l.debit(user, token, amount)
}

// Balance returns the escrowed amount for (user, token).
func (l *Ledger) Balance(user, token common.Address) *big.Int {
	cur := l.balances[balanceKey{user: user, token: token}]
	if cur == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(cur)
}

// Snapshot returns all nonzero balances in a stable order.
func (l *Ledger) Snapshot() []model.BalanceSnapshot {
	out := make([]model.BalanceSnapshot, 0, len(l.balances))
	for key, val := range l.balances {
		if val == nil || val.Sign() == 0 {
			continue
		}
		out = append(out, model.BalanceSnapshot{User: key.user, Token: key.token, Balance: new(big.Int).Set(val)})
	}
	sort.Slice(out, func(i, j int) bool {
		ui, uj := out[i].User.Hex(), out[j].User.Hex()
		if ui != uj {
			return ui < uj
		}
		return out[i].Token.Hex() < out[j].Token.Hex()
	})
	return out
}

func (l *Ledger) credit(user, token common.Address, amount *big.Int) {
	key := balanceKey{user: user, token: token}
	cur := l.balances[key]
	if cur == nil {
		cur = big.NewInt(0)
	}
	l.balances[key] = new(big.Int).Add(cur, amount)
}

func (l *Ledger) debit(user, token common.Address, amount *big.Int) error {
	key := balanceKey{user: user, token: token}
	cur := l.balances[key]
	if cur == nil || cur.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	next := new(big.Int).Sub(cur, amount)
	if next.Sign() == 0 {
		delete(l.balances, key)
		return nil
	}
	l.balances[key] = next
	return nil
}

func validateEntry(user, token common.Address, amount *big.Int) error {
	if user == (common.Address{}) || token == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}
