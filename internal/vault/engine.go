package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/collateralvault/internal/custody"
)

// TransactionType labels emitted transaction records.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxLock       TransactionType = "lock"
	TxUnlock     TransactionType = "unlock"
	TxTransfer   TransactionType = "transfer"
)

// TransactionRecord is emitted after every successful transition. Records
// are append-only and consumed by observers; they are not part of the
// vault's own consistency invariants.
type TransactionRecord struct {
	VaultID   uuid.UUID       `json:"vault_id"`
	Type      TransactionType `json:"type"`
	Amount    uint64          `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store is the durable key-value store holding vault records.
type Store interface {
	GetVault(ctx context.Context, id uuid.UUID) (*Vault, error)
	PutVault(ctx context.Context, v *Vault) error
}

// RegistryStore persists the authorization allow-list.
type RegistryStore interface {
	SaveRegistry(ctx context.Context, r *Registry) error
}

// RecordSink receives transaction records.
type RecordSink interface {
	Record(ctx context.Context, rec TransactionRecord) error
}

// Locker provides per-vault mutual exclusion. Acquire blocks until the
// key is held and returns the release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Engine applies validated transitions to vaults. Every operation is
// atomic per vault: either all checks and mutations succeed, or the
// stored vault is unchanged. Authorization is always checked before
// balance sufficiency so an unauthorized caller learns nothing about
// balances from the error kind.
type Engine struct {
	store    Store
	registry *Registry
	regStore RegistryStore
	custody  custody.Transferer
	records  RecordSink
	locks    Locker
	now      func() time.Time
}

// Config holds Engine dependencies. Store, Registry, Custody and Locks
// are required; RegistryStore, Records and Now are optional.
type Config struct {
	Store         Store
	Registry      *Registry
	RegistryStore RegistryStore
	Custody       custody.Transferer
	Records       RecordSink
	Locks         Locker
	Now           func() time.Time
}

// NewEngine creates the ledger state machine.
func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		regStore: cfg.RegistryStore,
		custody:  cfg.Custody,
		records:  cfg.Records,
		locks:    cfg.Locks,
		now:      now,
	}
}

// Registry exposes the allow-list for read-side callers.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Initialize creates a zeroed vault for the owner.
func (e *Engine) Initialize(ctx context.Context, owner, custodyAccount uuid.UUID) (*Vault, error) {
	id := DeriveVaultID(owner)
	release, err := e.locks.Acquire(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	defer release()

	if _, err := e.store.GetVault(ctx, id); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	v := &Vault{
		Owner:          owner,
		CustodyAccount: custodyAccount,
		CreatedAt:      e.now().UTC(),
		Version:        SchemaVersion,
	}
	if err := e.store.PutVault(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to persist vault: %w", err)
	}
	return v, nil
}

// Deposit moves amount from the depositor's funding account into custody
// and credits the vault. The custody transfer is confirmed before the
// ledger is touched, so a crash between the two steps leaves the ledger
// claiming less than custody truly holds.
func (e *Engine) Deposit(ctx context.Context, owner, fundingAccount uuid.UUID, amount uint64) (*Vault, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	id := DeriveVaultID(owner)
	release, err := e.locks.Acquire(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	defer release()

	v, err := e.store.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := e.custody.Transfer(ctx, custody.TransferRequest{
		From:   fundingAccount,
		To:     v.CustodyAccount,
		Amount: amount,
	}); err != nil {
		return nil, err
	}

	if err := v.credit(amount); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, v, TxDeposit, amount); err != nil {
		return nil, err
	}
	return v, nil
}

// Withdraw debits the vault and pays amount out of custody to the
// destination account, signed with the vault's derived authority. The
// ledger debit is persisted before the custody transfer is issued.
func (e *Engine) Withdraw(ctx context.Context, caller, owner, destAccount uuid.UUID, amount uint64) (*Vault, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	id := DeriveVaultID(owner)
	release, err := e.locks.Acquire(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	defer release()

	v, err := e.store.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != v.Owner {
		return nil, ErrUnauthorized
	}
	if v.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}

	if err := v.debit(amount); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, v, TxWithdrawal, amount); err != nil {
		return nil, err
	}

	if _, err := e.custody.Transfer(ctx, custody.TransferRequest{
		From:      v.CustodyAccount,
		To:        destAccount,
		Amount:    amount,
		Authority: DeriveAuthority(id).Token(),
	}); err != nil {
		// The debit is already durable. Custody still holds the funds,
		// which is the safe direction; the reconciler will flag the
		// drift until the transfer is re-issued.
		return nil, err
	}
	return v, nil
}

// Lock reserves amount of the vault's available balance for an
// authorized caller.
func (e *Engine) Lock(ctx context.Context, caller, vaultID uuid.UUID, amount uint64) (*Vault, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !e.registry.IsAuthorized(caller) {
		return nil, ErrUnauthorizedProgram
	}

	release, err := e.locks.Acquire(ctx, vaultID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	defer release()

	v, err := e.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}

	if err := v.moveToLocked(amount); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, v, TxLock, amount); err != nil {
		return nil, err
	}
	return v, nil
}

// Unlock releases amount of locked collateral back to the available
// balance. A locked-balance shortfall reports ErrMath, the historical
// kind for this case.
func (e *Engine) Unlock(ctx context.Context, caller, vaultID uuid.UUID, amount uint64) (*Vault, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !e.registry.IsAuthorized(caller) {
		return nil, ErrUnauthorizedProgram
	}

	release, err := e.locks.Acquire(ctx, vaultID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire vault lock: %w", err)
	}
	defer release()

	v, err := e.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v.LockedBalance < amount {
		return nil, ErrMath
	}

	if err := v.moveToAvailable(amount); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, v, TxUnlock, amount); err != nil {
		return nil, err
	}
	return v, nil
}

// Authorize adds a caller to the allow-list and persists the registry.
func (e *Engine) Authorize(ctx context.Context, caller uuid.UUID) error {
	if err := e.registry.Authorize(caller); err != nil {
		return err
	}
	return e.saveRegistry(ctx)
}

// Revoke removes a caller from the allow-list and persists the registry.
func (e *Engine) Revoke(ctx context.Context, caller uuid.UUID) error {
	e.registry.Revoke(caller)
	return e.saveRegistry(ctx)
}

// Get returns the current state of a vault.
func (e *Engine) Get(ctx context.Context, vaultID uuid.UUID) (*Vault, error) {
	return e.store.GetVault(ctx, vaultID)
}

func (e *Engine) saveRegistry(ctx context.Context) error {
	if e.regStore == nil {
		return nil
	}
	if err := e.regStore.SaveRegistry(ctx, e.registry); err != nil {
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	return nil
}

// commit verifies the balance identity, persists the vault and emits the
// transaction record for the transition.
func (e *Engine) commit(ctx context.Context, v *Vault, txType TransactionType, amount uint64) error {
	if v.TotalBalance != v.LockedBalance+v.AvailableBalance {
		return fmt.Errorf("balance identity violated: total=%d locked=%d available=%d",
			v.TotalBalance, v.LockedBalance, v.AvailableBalance)
	}
	if err := e.store.PutVault(ctx, v); err != nil {
		return fmt.Errorf("failed to persist vault: %w", err)
	}

	if e.records != nil {
		rec := TransactionRecord{
			VaultID:   v.ID(),
			Type:      txType,
			Amount:    amount,
			Timestamp: e.now().UTC(),
		}
		if err := e.records.Record(ctx, rec); err != nil {
			// The transition is already durable; a sink failure must
			// not roll it back.
			log.Printf("vault %s: failed to emit %s record: %v", rec.VaultID, txType, err)
		}
	}
	return nil
}
