package wallet

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/001_wallets.sql
var walletsSchema string

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// PostgresStore stores wallets in PostgreSQL. The version column carries the
// optimistic concurrency token; no row locks are taken.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallets table if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, walletsSchema); err != nil {
		return fmt.Errorf("apply wallets schema: %w", err)
	}
	return nil
}

// Create inserts a wallet record.
func (s *PostgresStore) Create(ctx context.Context, w Wallet) (Wallet, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse wallet id: %w", err)
	}
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	const query = `
        INSERT INTO wallets (id, balance, version, created_at, updated_at)
        VALUES ($1, $2::numeric, $3, $4, $4)
        RETURNING updated_at`
	if err := s.db.QueryRow(ctx, query, id, w.Balance.String(), w.Version, w.CreatedAt.UTC()).Scan(&w.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Wallet{}, ErrExists
		}
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// Get fetches the committed wallet record.
func (s *PostgresStore) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}

	const query = `
        SELECT id, balance::text, version, created_at, updated_at
        FROM wallets WHERE id = $1`
	w, err := scanWallet(s.db.QueryRow(ctx, query, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

// ConditionalSave updates the balance only when the stored version matches
// w.Version and bumps the version in the same statement.
func (s *PostgresStore) ConditionalSave(ctx context.Context, w Wallet) (Wallet, error) {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}

	const query = `
        UPDATE wallets
        SET balance = $1::numeric, version = version + 1, updated_at = NOW()
        WHERE id = $2 AND version = $3
        RETURNING id, balance::text, version, created_at, updated_at`
	saved, err := scanWallet(s.db.QueryRow(ctx, query, w.Balance.String(), walletID, w.Version))
	if err == nil {
		return saved, nil
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation:
		return Wallet{}, ErrNegativeBalance
	case !errors.Is(err, pgx.ErrNoRows):
		return Wallet{}, fmt.Errorf("update wallet: %w", err)
	}

	// Zero rows: either the wallet is gone or another writer bumped the version.
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); err != nil {
		return Wallet{}, fmt.Errorf("wallet existence check: %w", err)
	}
	if !exists {
		return Wallet{}, ErrNotFound
	}
	return Wallet{}, ErrVersionConflict
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		id         uuid.UUID
		balanceTxt string
		w          Wallet
	)
	if err := row.Scan(&id, &balanceTxt, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	balance, err := decimal.NewFromString(balanceTxt)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance %q: %w", balanceTxt, err)
	}
	w.ID = id.String()
	w.Balance = balance
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
