package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/wallet"
)

var (
	// ErrInvalidAmount occurs when an operation amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidOperation occurs when the operation kind is neither deposit nor withdraw.
	ErrInvalidOperation = errors.New("invalid operation type")

	// ErrInsufficientFunds occurs when a withdrawal exceeds the balance read
	// in the current attempt.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrencyConflict is returned once the retry budget is spent
	// without winning a conditional save. Callers may retry the whole call.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrWalletNotFound is the store's not-found error, re-exported for callers
	// that only depend on the ledger.
	ErrWalletNotFound = wallet.ErrNotFound
)

// Kind identifies the balance mutation requested by an operation.
type Kind string

const (
	Deposit  Kind = "DEPOSIT"
	Withdraw Kind = "WITHDRAW"
)

// ParseKind maps a case-insensitive operation name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Deposit, Withdraw:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
}

// Operation is a single deposit or withdrawal request against one wallet.
type Operation struct {
	WalletID string
	Kind     Kind
	Amount   decimal.Decimal
}

// Validate checks the request without touching any wallet state.
func (op Operation) Validate() error {
	if op.Kind != Deposit && op.Kind != Withdraw {
		return fmt.Errorf("%w: %q", ErrInvalidOperation, op.Kind)
	}
	if !op.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Apply computes the wallet that results from op. It is pure: w is not
// modified and the returned wallet keeps w's version so it can be passed
// straight to a conditional save.
func Apply(w wallet.Wallet, op Operation) (wallet.Wallet, error) {
	if err := op.Validate(); err != nil {
		return wallet.Wallet{}, err
	}
	switch op.Kind {
	case Deposit:
		return w.WithBalance(w.Balance.Add(op.Amount)), nil
	default:
		if w.Balance.LessThan(op.Amount) {
			return wallet.Wallet{}, ErrInsufficientFunds
		}
		return w.WithBalance(w.Balance.Sub(op.Amount)), nil
	}
}
