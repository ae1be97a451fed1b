package bank

import (
	"sync"

	"github.com/escrowhouse/auction-engine/pkg/errors"
)

// Ledger is the consumed value-transfer capability. A Transfer either
// fully credits the recipient or fails with no partial credit; the
// engine never finalizes a transaction when it fails.
type Ledger interface {
	Transfer(from, to string, amount int64) error
	BalanceOf(account string) int64
}

// Memory is an in-process account ledger backing local deployments and
// the test suite.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]int64)}
}

// Deposit credits an account directly. Only local setups use it; in
// production funding happens outside the engine.
func (m *Memory) Deposit(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

func (m *Memory) BalanceOf(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

func (m *Memory) Transfer(from, to string, amount int64) error {
	if amount < 0 {
		return errors.New(errors.ErrIncorrectPayment, "negative transfer amount")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from] < amount {
		return errors.New(errors.ErrNoFunds, "insufficient funds")
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}
