package wallet

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no wallet exists for the requested id.
	ErrNotFound = errors.New("wallet not found")

	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("wallet already exists")

	// ErrVersionConflict signals that the stored version moved since the caller
	// read the wallet. The store is left untouched.
	ErrVersionConflict = errors.New("wallet version conflict")

	// ErrNegativeBalance is returned when a write would persist a balance below zero.
	ErrNegativeBalance = errors.New("wallet balance cannot be negative")
)

// Store persists wallet records with optimistic concurrency on Version.
type Store interface {
	Create(ctx context.Context, w Wallet) (Wallet, error)
	Get(ctx context.Context, id string) (Wallet, error)
	// ConditionalSave writes w.Balance only if the stored version still equals
	// w.Version. On success the returned wallet carries Version+1.
	ConditionalSave(ctx context.Context, w Wallet) (Wallet, error)
}
