package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletd/internal/notification"
	"github.com/congo-pay/walletd/internal/wallet"
)

// MockStore implements wallet.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(wallet.Wallet), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, id string) (wallet.Wallet, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(wallet.Wallet), args.Error(1)
}

func (m *MockStore) ConditionalSave(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(wallet.Wallet), args.Error(1)
}

// interferingStore lets another writer commit a deposit between the engine's
// read and its conditional save, for the first n saves.
type interferingStore struct {
	wallet.Store
	remaining atomic.Int32
	deposit   decimal.Decimal
	gets      atomic.Int32
}

func (s *interferingStore) Get(ctx context.Context, id string) (wallet.Wallet, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, id)
}

func (s *interferingStore) ConditionalSave(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	if s.remaining.Add(-1) >= 0 {
		current, err := s.Store.Get(ctx, w.ID)
		if err != nil {
			return wallet.Wallet{}, err
		}
		if _, err := s.Store.ConditionalSave(ctx, current.WithBalance(current.Balance.Add(s.deposit))); err != nil {
			return wallet.Wallet{}, err
		}
	}
	return s.Store.ConditionalSave(ctx, w)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func newWallet(t *testing.T, store wallet.Store, balance string) wallet.Wallet {
	t.Helper()
	w, err := store.Create(context.Background(), wallet.Wallet{ID: uuid.NewString(), Balance: dec(balance)})
	require.NoError(t, err)
	return w
}

func TestEngineScenario(t *testing.T) {
	store := wallet.NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	w := newWallet(t, store, "400.00")

	balance, err := engine.ApplyOperation(ctx, w.ID, Deposit, dec("400.00"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("800.00")), "after deposit: %s", balance)

	balance, err = engine.ApplyOperation(ctx, w.ID, Withdraw, dec("400.00"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("400.00")), "after withdraw: %s", balance)

	_, err = engine.ApplyOperation(ctx, w.ID, Withdraw, dec("500.00"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err = engine.GetBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("400.00")), "final: %s", balance)
	assert.Equal(t, "400.00", balance.StringFixed(2))
}

func TestEngineInvalidAmountLeavesBalance(t *testing.T) {
	store := wallet.NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	w := newWallet(t, store, "50")

	for _, amount := range []string{"0", "0.00", "-10"} {
		for _, kind := range []Kind{Deposit, Withdraw} {
			_, err := engine.ApplyOperation(ctx, w.ID, kind, dec(amount))
			assert.ErrorIs(t, err, ErrInvalidAmount, "%s %s", kind, amount)
		}
	}

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("50")))
	assert.Equal(t, int64(0), got.Version)
}

func TestEngineInvalidOperationSkipsStore(t *testing.T) {
	store := new(MockStore)
	engine := NewEngine(store)

	_, err := engine.ApplyOperation(context.Background(), "w", Kind("FREEZE"), dec("1"))

	assert.ErrorIs(t, err, ErrInvalidOperation)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestEngineWalletNotFound(t *testing.T) {
	engine := NewEngine(wallet.NewMemoryStore())
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := engine.ApplyOperation(ctx, missing, Deposit, dec("1"))
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = engine.GetBalance(ctx, missing)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestEngineNotFoundIsNotRetried(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "w").Return(wallet.Wallet{}, wallet.ErrNotFound).Once()
	engine := NewEngine(store, WithMaxAttempts(5))

	_, err := engine.ApplyOperation(context.Background(), "w", Deposit, dec("1"))

	assert.ErrorIs(t, err, ErrWalletNotFound)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "ConditionalSave", mock.Anything, mock.Anything)
}

func TestEngineInsufficientFundsIsNotRetried(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "w").Return(wallet.Wallet{ID: "w", Balance: dec("50")}, nil).Once()
	engine := NewEngine(store, WithMaxAttempts(5))

	_, err := engine.ApplyOperation(context.Background(), "w", Withdraw, dec("50.01"))

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "ConditionalSave", mock.Anything, mock.Anything)
}

func TestEngineStoreErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection reset")
	store := new(MockStore)
	store.On("Get", mock.Anything, "w").Return(wallet.Wallet{ID: "w", Balance: dec("10")}, nil).Once()
	store.On("ConditionalSave", mock.Anything, mock.Anything).Return(wallet.Wallet{}, boom).Once()
	engine := NewEngine(store)

	_, err := engine.ApplyOperation(context.Background(), "w", Deposit, dec("1"))

	assert.ErrorIs(t, err, boom)
	store.AssertExpectations(t)
}

func TestEngineRetriesWithFreshRead(t *testing.T) {
	mem := wallet.NewMemoryStore()
	w := newWallet(t, mem, "100")
	store := &interferingStore{Store: mem, deposit: dec("25")}
	store.remaining.Store(2)
	engine := NewEngine(store)

	balance, err := engine.ApplyOperation(context.Background(), w.ID, Withdraw, dec("30"))
	require.NoError(t, err)

	// Two foreign deposits of 25 landed before our withdrawal won on attempt 3.
	assert.True(t, balance.Equal(dec("120")), "balance %s", balance)
	assert.Equal(t, int32(3), store.gets.Load())

	got, err := mem.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestEngineRevalidatesFundsOnRetry(t *testing.T) {
	mem := wallet.NewMemoryStore()
	w := newWallet(t, mem, "10")
	// The interfering writer withdraws 5 before our save.
	store := &interferingStore{Store: mem, deposit: dec("-5")}
	store.remaining.Store(1)
	engine := NewEngine(store)

	_, err := engine.ApplyOperation(context.Background(), w.ID, Withdraw, dec("8"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	got, err := mem.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("5")))
}

func TestEngineExhaustsRetryBudget(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "w").Return(wallet.Wallet{ID: "w", Balance: dec("10"), Version: 4}, nil).Times(3)
	store.On("ConditionalSave", mock.Anything, mock.Anything).Return(wallet.Wallet{}, wallet.ErrVersionConflict).Times(3)
	engine := NewEngine(store)

	_, err := engine.ApplyOperation(context.Background(), "w", Deposit, dec("1"))

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, wallet.ErrVersionConflict)
	store.AssertExpectations(t)
}

func TestEngineBackoffHonoursContext(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, "w").Return(wallet.Wallet{ID: "w", Balance: dec("10")}, nil)
	store.On("ConditionalSave", mock.Anything, mock.Anything).Return(wallet.Wallet{}, wallet.ErrVersionConflict)
	engine := NewEngine(store, WithBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := engine.ApplyOperation(ctx, "w", Deposit, dec("1"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	store.AssertNumberOfCalls(t, "ConditionalSave", 1)
}

func TestEngineCancelledContext(t *testing.T) {
	store := new(MockStore)
	engine := NewEngine(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.ApplyOperation(ctx, "w", Deposit, dec("1"))

	assert.ErrorIs(t, err, context.Canceled)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestEngineConservation(t *testing.T) {
	store := wallet.NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	w := newWallet(t, store, "0.00")

	deposits := []string{"0.10", "0.20", "0.30", "1000000000000.01", "0.000000001"}
	withdrawals := []string{"0.60", "1000000000000", "0.01"}

	expected := decimal.Zero
	for _, d := range deposits {
		_, err := engine.ApplyOperation(ctx, w.ID, Deposit, dec(d))
		require.NoError(t, err)
		expected = expected.Add(dec(d))
	}
	for _, wd := range withdrawals {
		_, err := engine.ApplyOperation(ctx, w.ID, Withdraw, dec(wd))
		require.NoError(t, err)
		expected = expected.Sub(dec(wd))
	}

	balance, err := engine.GetBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("0.000000001")), "balance %s", balance)
	assert.True(t, balance.Equal(expected))

	again, err := engine.GetBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, again.Equal(balance), "reads must be stable without writes")
}

func TestEngineConcurrentWithdrawalsDrainExactly(t *testing.T) {
	const writers = 10
	store := wallet.NewMemoryStore()
	// With n contenders each lost attempt means another writer committed,
	// so n attempts always suffice.
	engine := NewEngine(store, WithMaxAttempts(writers))
	ctx := context.Background()
	w := newWallet(t, store, "1000")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			balance, err := engine.ApplyOperation(ctx, w.ID, Withdraw, dec("100"))
			if err != nil {
				t.Errorf("withdraw failed: %v", err)
				return
			}
			if balance.IsNegative() {
				t.Errorf("negative balance observed: %s", balance)
			}
			successes.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(writers), successes.Load())
	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero(), "balance %s", got.Balance)
	assert.Equal(t, int64(writers), got.Version)
}

func TestEngineConcurrentOvershoot(t *testing.T) {
	for round := 0; round < 50; round++ {
		store := wallet.NewMemoryStore()
		engine := NewEngine(store)
		ctx := context.Background()
		w := newWallet(t, store, "100")

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make(chan error, 2)
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := engine.ApplyOperation(ctx, w.ID, Withdraw, dec("100"))
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)

		var ok, insufficient int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		require.Equal(t, 1, ok, "round %d", round)
		require.Equal(t, 1, insufficient, "round %d", round)

		got, err := store.Get(ctx, w.ID)
		require.NoError(t, err)
		require.True(t, got.Balance.IsZero())
	}
}

func TestEngineIndependentWallets(t *testing.T) {
	store := wallet.NewMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	wallets := make([]wallet.Wallet, 8)
	for i := range wallets {
		wallets[i] = newWallet(t, store, "0")
	}

	var wg sync.WaitGroup
	for _, w := range wallets {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				// Twenty writers share each wallet, so the default budget can run out.
				for {
					_, err := engine.ApplyOperation(ctx, id, Deposit, dec("1.5"))
					if err == nil {
						return
					}
					if !errors.Is(err, ErrConcurrencyConflict) {
						t.Errorf("deposit failed: %v", err)
						return
					}
				}
			}(w.ID)
		}
	}
	wg.Wait()

	for _, w := range wallets {
		balance, err := engine.GetBalance(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("30")), "wallet %s balance %s", w.ID, balance)
	}
}

func TestEngineNotifiesAfterCommit(t *testing.T) {
	store := wallet.NewMemoryStore()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	engine := NewEngine(store, WithNotifier(notifier))
	ctx := context.Background()
	w := newWallet(t, store, "400")

	balance, err := engine.ApplyOperation(ctx, w.ID, Deposit, dec("400"))
	require.NoError(t, err, "notifier failures must not fail the operation")
	assert.True(t, balance.Equal(dec("800")))

	_, err = engine.ApplyOperation(ctx, w.ID, Withdraw, dec("1000"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.Len(t, notifier.messages, 1, "failed operations are not announced")
	msg := notifier.messages[0]
	assert.Equal(t, notification.KindDeposit, msg.Kind)
	assert.Equal(t, w.ID, msg.WalletID)
	assert.Equal(t, "400", msg.Amount)
	assert.Equal(t, "800", msg.Balance)
	assert.Equal(t, int64(1), msg.Version)
}
