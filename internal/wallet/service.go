package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidInitialBalance is returned when a wallet is provisioned below zero.
var ErrInvalidInitialBalance = errors.New("initial balance must not be negative")

// Service provisions wallets. Balance mutations go through the ledger engine.
type Service struct {
	store Store
}

// NewService builds a wallet service instance.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	InitialBalance decimal.Decimal
}

// Create provisions a wallet at version 0.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.InitialBalance.IsNegative() {
		return Wallet{}, ErrInvalidInitialBalance
	}

	wallet := Wallet{
		ID:        uuid.New().String(),
		Balance:   input.InitialBalance,
		Version:   0,
		CreatedAt: time.Now().UTC(),
	}
	return s.store.Create(ctx, wallet)
}

// Get retrieves the committed wallet record.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.store.Get(ctx, id)
}
