package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBank is the external token custody collaborator. The engine never
// implements token accounting itself; it only moves balances between holders
// through this interface.
type TokenBank interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Vault is an in-memory TokenBank used by the simulator and tests.
type Vault struct {
	mu       sync.Mutex
	balances map[holding]*big.Int
}

type holding struct {
	token  common.Address
	holder common.Address
}

func NewVault() *Vault {
	return &Vault{balances: make(map[holding]*big.Int)}
}

// Mint credits a holder out of thin air, for seeding scenarios.
func (v *Vault) Mint(token, holder common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := holding{token: token, holder: holder}
	cur := v.balances[key]
	if cur == nil {
		cur = big.NewInt(0)
	}
	v.balances[key] = new(big.Int).Add(cur, amount)
}

func (v *Vault) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fromKey := holding{token: token, holder: from}
	cur := v.balances[fromKey]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("bank: insufficient balance of %s for %s", token.Hex(), from.Hex())
	}

	v.balances[fromKey] = new(big.Int).Sub(cur, amount)
	toKey := holding{token: token, holder: to}
	dst := v.balances[toKey]
	if dst == nil {
		dst = big.NewInt(0)
	}
	v.balances[toKey] = new(big.Int).Add(dst, amount)
	return nil
}

func (v *Vault) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur := v.balances[holding{token: token, holder: holder}]
	if cur == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cur), nil
}
