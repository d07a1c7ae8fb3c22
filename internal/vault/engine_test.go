package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/collateralvault/internal/custody"
	"github.com/terminal-bench/collateralvault/pkg/lock"
)

// memStore keeps vaults in encoded form, like the real store: the engine
// always works on a decoded copy, so nothing leaks back without PutVault.
type memStore struct {
	mu     sync.Mutex
	vaults map[uuid.UUID][]byte
	saves  int
}

func newMemStore() *memStore {
	return &memStore{vaults: make(map[uuid.UUID][]byte)}
}

func (s *memStore) GetVault(ctx context.Context, id uuid.UUID) (*Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.vaults[id]
	if !ok {
		return nil, ErrNotFound
	}
	return UnmarshalVault(data)
}

func (s *memStore) PutVault(ctx context.Context, v *Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.ID()] = MarshalVault(v)
	return nil
}

func (s *memStore) SaveRegistry(ctx context.Context, r *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

type fakeCustody struct {
	mu        sync.Mutex
	transfers []custody.TransferRequest
	fail      error
}

func (f *fakeCustody) Transfer(ctx context.Context, req custody.TransferRequest) (*custody.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.transfers = append(f.transfers, req)
	return &custody.Receipt{
		ID:        uuid.New(),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Timestamp: time.Now(),
	}, nil
}

type memSink struct {
	mu      sync.Mutex
	records []TransactionRecord
}

func (s *memSink) Record(ctx context.Context, rec TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) all() []TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransactionRecord(nil), s.records...)
}

type fixture struct {
	engine  *Engine
	store   *memStore
	custody *fakeCustody
	sink    *memSink
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		custody: &fakeCustody{},
		sink:    &memSink{},
		now:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Config{
		Store:         f.store,
		Registry:      NewRegistry(DefaultRegistryCap),
		RegistryStore: f.store,
		Custody:       f.custody,
		Records:       f.sink,
		Locks:         lock.NewKeyedMutex(),
		Now:           func() time.Time { return f.now },
	})
	return f
}

func TestInitialize(t *testing.T) {
	t.Run("should create a zeroed vault", func(t *testing.T) {
		f := newFixture(t)
		owner, acct := uuid.New(), uuid.New()

		v, err := f.engine.Initialize(context.Background(), owner, acct)
		require.NoError(t, err)

		assert.Equal(t, owner, v.Owner)
		assert.Equal(t, acct, v.CustodyAccount)
		assert.Equal(t, uint64(0), v.TotalBalance)
		assert.Equal(t, uint64(0), v.LockedBalance)
		assert.Equal(t, uint64(0), v.AvailableBalance)
		assert.Equal(t, uint64(0), v.TotalDeposited)
		assert.Equal(t, uint64(0), v.TotalWithdrawn)
		assert.Equal(t, f.now, v.CreatedAt)
		assert.Equal(t, SchemaVersion, v.Version)
	})

	t.Run("should reject a second vault for the same owner", func(t *testing.T) {
		f := newFixture(t)
		owner := uuid.New()

		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)

		_, err = f.engine.Initialize(context.Background(), owner, uuid.New())
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
	})
}

func TestDeposit(t *testing.T) {
	t.Run("should credit vault after confirmed custody transfer", func(t *testing.T) {
		f := newFixture(t)
		owner, funding := uuid.New(), uuid.New()
		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)

		v, err := f.engine.Deposit(context.Background(), owner, funding, 100)
		require.NoError(t, err)

		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(100), v.AvailableBalance)
		assert.Equal(t, uint64(0), v.LockedBalance)
		assert.Equal(t, uint64(100), v.TotalDeposited)

		require.Len(t, f.custody.transfers, 1)
		assert.Equal(t, funding, f.custody.transfers[0].From)
		assert.Equal(t, v.CustodyAccount, f.custody.transfers[0].To)

		recs := f.sink.all()
		require.Len(t, recs, 1)
		assert.Equal(t, TxDeposit, recs[0].Type)
		assert.Equal(t, uint64(100), recs[0].Amount)
		assert.Equal(t, f.now, recs[0].Timestamp)
	})

	t.Run("should reject a zero amount", func(t *testing.T) {
		f := newFixture(t)
		owner := uuid.New()
		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)

		_, err = f.engine.Deposit(context.Background(), owner, uuid.New(), 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("should leave vault untouched when the custody transfer fails", func(t *testing.T) {
		f := newFixture(t)
		owner := uuid.New()
		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)

		transportErr := &custody.TransportError{Op: "transfer", Err: errors.New("connection refused")}
		f.custody.fail = transportErr

		_, err = f.engine.Deposit(context.Background(), owner, uuid.New(), 100)
		var te *custody.TransportError
		assert.ErrorAs(t, err, &te)

		stored, err := f.store.GetVault(context.Background(), DeriveVaultID(owner))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), stored.TotalBalance)
		assert.Empty(t, f.sink.all())
	})

	t.Run("should fail for an unknown owner", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Deposit(context.Background(), uuid.New(), uuid.New(), 100)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWithdraw(t *testing.T) {
	setup := func(t *testing.T) (*fixture, uuid.UUID) {
		f := newFixture(t)
		owner := uuid.New()
		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)
		_, err = f.engine.Deposit(context.Background(), owner, uuid.New(), 100)
		require.NoError(t, err)
		return f, owner
	}

	t.Run("should debit the vault and pay out with derived authority", func(t *testing.T) {
		f, owner := setup(t)
		dest := uuid.New()

		v, err := f.engine.Withdraw(context.Background(), owner, owner, dest, 60)
		require.NoError(t, err)

		assert.Equal(t, uint64(40), v.TotalBalance)
		assert.Equal(t, uint64(40), v.AvailableBalance)
		assert.Equal(t, uint64(60), v.TotalWithdrawn)

		require.Len(t, f.custody.transfers, 2)
		out := f.custody.transfers[1]
		assert.Equal(t, v.CustodyAccount, out.From)
		assert.Equal(t, dest, out.To)
		assert.Equal(t, DeriveAuthority(v.ID()).Token(), out.Authority)
	})

	t.Run("should reject a non-owner caller before looking at balances", func(t *testing.T) {
		f, owner := setup(t)

		// More than the balance: an ownership failure must win.
		_, err := f.engine.Withdraw(context.Background(), uuid.New(), owner, uuid.New(), 1000)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("should reject withdrawal beyond available", func(t *testing.T) {
		f, owner := setup(t)

		_, err := f.engine.Withdraw(context.Background(), owner, owner, uuid.New(), 101)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		stored, err := f.store.GetVault(context.Background(), DeriveVaultID(owner))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), stored.TotalBalance)
	})

	t.Run("should keep the debit when the payout transfer fails", func(t *testing.T) {
		f, owner := setup(t)
		f.custody.fail = &custody.TransportError{Op: "transfer", Err: errors.New("timeout")}

		_, err := f.engine.Withdraw(context.Background(), owner, owner, uuid.New(), 60)
		var te *custody.TransportError
		assert.ErrorAs(t, err, &te)

		// Ledger claims less than custody holds: the safe direction.
		stored, err := f.store.GetVault(context.Background(), DeriveVaultID(owner))
		require.NoError(t, err)
		assert.Equal(t, uint64(40), stored.TotalBalance)
		assert.Equal(t, uint64(60), stored.TotalWithdrawn)
	})
}

func TestLockUnlock(t *testing.T) {
	setup := func(t *testing.T) (*fixture, uuid.UUID, uuid.UUID, uuid.UUID) {
		f := newFixture(t)
		owner := uuid.New()
		_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
		require.NoError(t, err)
		_, err = f.engine.Deposit(context.Background(), owner, uuid.New(), 100)
		require.NoError(t, err)

		program := uuid.New()
		require.NoError(t, f.engine.Authorize(context.Background(), program))
		return f, owner, DeriveVaultID(owner), program
	}

	t.Run("should lock available collateral for an authorized caller", func(t *testing.T) {
		f, _, vaultID, program := setup(t)

		v, err := f.engine.Lock(context.Background(), program, vaultID, 40)
		require.NoError(t, err)

		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(40), v.LockedBalance)
		assert.Equal(t, uint64(60), v.AvailableBalance)

		recs := f.sink.all()
		assert.Equal(t, TxLock, recs[len(recs)-1].Type)
	})

	t.Run("should report authorization before insufficiency", func(t *testing.T) {
		f, _, vaultID, program := setup(t)
		_, err := f.engine.Lock(context.Background(), program, vaultID, 40)
		require.NoError(t, err)

		// Unauthorized caller asking for more than is available: the
		// error must not reveal anything about balances.
		_, err = f.engine.Lock(context.Background(), uuid.New(), vaultID, 1000)
		assert.ErrorIs(t, err, ErrUnauthorizedProgram)
	})

	t.Run("should reject an unauthorized caller and leave state alone", func(t *testing.T) {
		f, owner, vaultID, program := setup(t)
		_, err := f.engine.Lock(context.Background(), program, vaultID, 40)
		require.NoError(t, err)

		_, err = f.engine.Lock(context.Background(), uuid.New(), vaultID, 10)
		assert.ErrorIs(t, err, ErrUnauthorizedProgram)

		stored, err := f.store.GetVault(context.Background(), DeriveVaultID(owner))
		require.NoError(t, err)
		assert.Equal(t, uint64(40), stored.LockedBalance)
		assert.Equal(t, uint64(60), stored.AvailableBalance)
	})

	t.Run("should reject lock beyond available", func(t *testing.T) {
		f, _, vaultID, program := setup(t)

		_, err := f.engine.Lock(context.Background(), program, vaultID, 101)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("should unlock back to available", func(t *testing.T) {
		f, _, vaultID, program := setup(t)
		_, err := f.engine.Lock(context.Background(), program, vaultID, 40)
		require.NoError(t, err)

		v, err := f.engine.Unlock(context.Background(), program, vaultID, 15)
		require.NoError(t, err)

		assert.Equal(t, uint64(100), v.TotalBalance)
		assert.Equal(t, uint64(25), v.LockedBalance)
		assert.Equal(t, uint64(75), v.AvailableBalance)
	})

	t.Run("should report math error when unlocking beyond locked", func(t *testing.T) {
		f, _, vaultID, program := setup(t)
		_, err := f.engine.Lock(context.Background(), program, vaultID, 40)
		require.NoError(t, err)

		_, err = f.engine.Unlock(context.Background(), program, vaultID, 41)
		assert.ErrorIs(t, err, ErrMath)
	})
}

func TestOwnerWithdrawAfterLock(t *testing.T) {
	// Scenario: deposit 100, lock 40, then the owner tries 70 (fails)
	// and 60 (succeeds).
	f := newFixture(t)
	owner := uuid.New()
	_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
	require.NoError(t, err)
	_, err = f.engine.Deposit(context.Background(), owner, uuid.New(), 100)
	require.NoError(t, err)

	program := uuid.New()
	require.NoError(t, f.engine.Authorize(context.Background(), program))
	_, err = f.engine.Lock(context.Background(), program, DeriveVaultID(owner), 40)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(context.Background(), owner, owner, uuid.New(), 70)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	v, err := f.engine.Withdraw(context.Background(), owner, owner, uuid.New(), 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), v.TotalBalance)
	assert.Equal(t, uint64(0), v.AvailableBalance)
	assert.Equal(t, uint64(40), v.LockedBalance)
	assert.Equal(t, uint64(60), v.TotalWithdrawn)
}

func TestCountersNeverDecrease(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	_, err := f.engine.Initialize(context.Background(), owner, uuid.New())
	require.NoError(t, err)

	program := uuid.New()
	require.NoError(t, f.engine.Authorize(context.Background(), program))
	vaultID := DeriveVaultID(owner)

	var lastDeposited, lastWithdrawn uint64
	checkpoint := func() {
		v, err := f.store.GetVault(context.Background(), vaultID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v.TotalDeposited, lastDeposited)
		assert.GreaterOrEqual(t, v.TotalWithdrawn, lastWithdrawn)
		assert.Equal(t, v.TotalBalance, v.LockedBalance+v.AvailableBalance)
		lastDeposited, lastWithdrawn = v.TotalDeposited, v.TotalWithdrawn
	}

	ctx := context.Background()
	_, _ = f.engine.Deposit(ctx, owner, uuid.New(), 500)
	checkpoint()
	_, _ = f.engine.Lock(ctx, program, vaultID, 200)
	checkpoint()
	_, _ = f.engine.Withdraw(ctx, owner, owner, uuid.New(), 250)
	checkpoint()
	_, _ = f.engine.Unlock(ctx, program, vaultID, 200)
	checkpoint()
	_, _ = f.engine.Deposit(ctx, owner, uuid.New(), 50)
	checkpoint()
	_, _ = f.engine.Withdraw(ctx, owner, owner, uuid.New(), 300)
	checkpoint()
}

func TestRegistryPersistence(t *testing.T) {
	f := newFixture(t)
	caller := uuid.New()

	require.NoError(t, f.engine.Authorize(context.Background(), caller))
	assert.Equal(t, 1, f.store.saves)

	// Idempotent authorize still persists the (unchanged) registry.
	require.NoError(t, f.engine.Authorize(context.Background(), caller))
	assert.Equal(t, 1, f.engine.Registry().Len())

	require.NoError(t, f.engine.Revoke(context.Background(), caller))
	assert.False(t, f.engine.Registry().IsAuthorized(caller))
}
