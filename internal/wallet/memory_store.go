package wallet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memoryStore keeps each wallet behind its own atomic pointer so that
// ConditionalSave is a lock-free compare-and-swap scoped to one wallet.
type memoryStore struct {
	wallets sync.Map // id -> *atomic.Pointer[Wallet]
	now     func() time.Time
}

// NewMemoryStore constructs a concurrency-safe in-memory store useful for
// tests and local development.
func NewMemoryStore() Store {
	return &memoryStore{now: func() time.Time { return time.Now().UTC() }}
}

func (s *memoryStore) Create(_ context.Context, w Wallet) (Wallet, error) {
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	ts := s.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = ts
	}
	w.UpdatedAt = ts

	slot := new(atomic.Pointer[Wallet])
	slot.Store(&w)
	if _, loaded := s.wallets.LoadOrStore(w.ID, slot); loaded {
		return Wallet{}, ErrExists
	}
	return w, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Wallet, error) {
	slot, ok := s.slot(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return *slot.Load(), nil
}

func (s *memoryStore) ConditionalSave(_ context.Context, w Wallet) (Wallet, error) {
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	slot, ok := s.slot(w.ID)
	if !ok {
		return Wallet{}, ErrNotFound
	}

	current := slot.Load()
	if current.Version != w.Version {
		return Wallet{}, ErrVersionConflict
	}

	next := *current
	next.Balance = w.Balance
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()

	if !slot.CompareAndSwap(current, &next) {
		return Wallet{}, ErrVersionConflict
	}
	return next, nil
}

func (s *memoryStore) slot(id string) (*atomic.Pointer[Wallet], bool) {
	v, ok := s.wallets.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*atomic.Pointer[Wallet]), true
}
