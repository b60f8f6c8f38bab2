package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/logging"
	"github.com/congo-pay/walletd/internal/notification"
	"github.com/congo-pay/walletd/internal/wallet"
)

// DefaultMaxAttempts bounds the read-modify-write cycles of one ApplyOperation call.
const DefaultMaxAttempts = 3

// Engine applies deposits and withdrawals using optimistic concurrency on the
// wallet store. It holds no locks; conflicting writers are resolved by the
// store's conditional save and a bounded retry.
type Engine struct {
	store       wallet.Store
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	notifier    notification.Notifier
}

// Option customises an Engine.
type Option func(*Engine)

// WithMaxAttempts sets the retry budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff waits attempt*d before re-reading after a version conflict.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoff = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifier registers a sink for committed balance changes.
func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine builds an engine over the given store.
func NewEngine(store wallet.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyOperation deposits into or withdraws from a wallet and returns the
// committed balance.
func (e *Engine) ApplyOperation(ctx context.Context, walletID string, kind Kind, amount decimal.Decimal) (decimal.Decimal, error) {
	op := Operation{WalletID: walletID, Kind: kind, Amount: amount}
	if err := op.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return decimal.Decimal{}, err
		}

		saved, err := e.attempt(ctx, op)
		switch {
		case err == nil:
			e.publish(ctx, op, saved)
			return saved.Balance, nil
		case !errors.Is(err, wallet.ErrVersionConflict):
			return decimal.Decimal{}, err
		}

		e.logger.Debug("wallet version conflict, retrying",
			slog.String("wallet_id", walletID),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
		)
		if attempt < e.maxAttempts {
			if err := e.wait(ctx, attempt); err != nil {
				return decimal.Decimal{}, err
			}
		}
	}

	e.logger.Warn("wallet retry budget exhausted",
		slog.String("wallet_id", walletID),
		slog.String("kind", string(kind)),
		slog.Int("attempts", e.maxAttempts),
	)
	return decimal.Decimal{}, fmt.Errorf("%w: wallet %s after %d attempts", ErrConcurrencyConflict, walletID, e.maxAttempts)
}

// GetBalance returns the committed balance of a wallet.
func (e *Engine) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	w, err := e.store.Get(ctx, walletID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return w.Balance, nil
}

// attempt runs one read-validate-save cycle. The funds check always runs
// against the wallet read in this cycle.
func (e *Engine) attempt(ctx context.Context, op Operation) (wallet.Wallet, error) {
	current, err := e.store.Get(ctx, op.WalletID)
	if err != nil {
		return wallet.Wallet{}, err
	}

	next, err := Apply(current, op)
	if err != nil {
		return wallet.Wallet{}, err
	}

	return e.store.ConditionalSave(ctx, next)
}

func (e *Engine) wait(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(attempt) * e.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) publish(ctx context.Context, op Operation, saved wallet.Wallet) {
	if e.notifier == nil {
		return
	}
	kind := notification.KindDeposit
	if op.Kind == Withdraw {
		kind = notification.KindWithdraw
	}
	err := e.notifier.Send(ctx, notification.Message{
		Kind:       kind,
		WalletID:   saved.ID,
		Amount:     op.Amount.String(),
		Balance:    saved.Balance.String(),
		Version:    saved.Version,
		OccurredAt: saved.UpdatedAt,
	})
	if err != nil {
		e.logger.Warn("balance notification failed",
			slog.String("wallet_id", saved.ID),
			slog.Any("error", err),
		)
	}
}
