package bank_test

import (
	"testing"

	"github.com/escrowhouse/auction-engine/internal/bank"
	"github.com/escrowhouse/auction-engine/pkg/errors"
)

func TestTransferMovesFunds(t *testing.T) {
	ledger := bank.NewMemory()
	ledger.Deposit("alice", 100)

	if err := ledger.Transfer("alice", "bob", 30); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.BalanceOf("alice"); got != 70 {
		t.Fatalf("alice balance %d", got)
	}
	if got := ledger.BalanceOf("bob"); got != 30 {
		t.Fatalf("bob balance %d", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger := bank.NewMemory()
	ledger.Deposit("alice", 10)

	err := ledger.Transfer("alice", "bob", 11)
	if !errors.Is(err, errors.ErrNoFunds) {
		t.Fatalf("expected no-funds error, got %v", err)
	}
	if ledger.BalanceOf("alice") != 10 || ledger.BalanceOf("bob") != 0 {
		t.Fatal("failed transfer must not move funds")
	}
}

func TestTransferRejectsNegativeAmount(t *testing.T) {
	ledger := bank.NewMemory()
	ledger.Deposit("alice", 10)
	ledger.Deposit("bob", 10)

	err := ledger.Transfer("alice", "bob", -5)
	if !errors.Is(err, errors.ErrIncorrectPayment) {
		t.Fatalf("expected incorrect-payment error, got %v", err)
	}
	if ledger.BalanceOf("alice") != 10 || ledger.BalanceOf("bob") != 10 {
		t.Fatal("rejected transfer must not move funds")
	}
}

func TestBalanceOfUnknownAccount(t *testing.T) {
	ledger := bank.NewMemory()
	if got := ledger.BalanceOf("nobody"); got != 0 {
		t.Fatalf("unknown account balance %d", got)
	}
}

func TestTransferZeroAmount(t *testing.T) {
	ledger := bank.NewMemory()
	if err := ledger.Transfer("alice", "bob", 0); err != nil {
		t.Fatalf("zero transfer should be a no-op, got %v", err)
	}
}
