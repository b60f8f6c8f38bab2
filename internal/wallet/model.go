package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a single balance record guarded by an optimistic version token.
type Wallet struct {
	ID        string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithBalance returns a copy of the wallet carrying the provided balance. The
// version is left untouched so the copy can be handed to ConditionalSave.
func (w Wallet) WithBalance(balance decimal.Decimal) Wallet {
	w.Balance = balance
	return w
}
