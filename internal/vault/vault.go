package vault

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written into every persisted vault record. Bump it when
// the codec layout or the authority derivation changes.
const SchemaVersion uint8 = 1

// vaultNamespace seeds the deterministic owner -> vault ID derivation.
var vaultNamespace = uuid.MustParse("6f1c2a4e-9b7d-4c3a-8e5f-0d2b6a913c47")

// Vault is the per-depositor collateral ledger. Balances are held in the
// custody account's smallest denomination. TotalBalance is always the sum
// of LockedBalance and AvailableBalance; the Engine preserves that by
// calling the mutation primitives in matched pairs.
type Vault struct {
	Owner          uuid.UUID `json:"owner"`
	CustodyAccount uuid.UUID `json:"custody_account"`

	TotalBalance     uint64 `json:"total_balance"`
	LockedBalance    uint64 `json:"locked_balance"`
	AvailableBalance uint64 `json:"available_balance"`
	TotalDeposited   uint64 `json:"total_deposited"`
	TotalWithdrawn   uint64 `json:"total_withdrawn"`

	CreatedAt time.Time `json:"created_at"`
	Version   uint8     `json:"version"`
}

// DeriveVaultID maps an owner identity to its vault identity. The mapping
// is deterministic and one-way; two owners never share a vault ID.
func DeriveVaultID(owner uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(vaultNamespace, append([]byte("vault:"), owner[:]...))
}

// ID returns the vault's derived identity.
func (v *Vault) ID() uuid.UUID {
	return DeriveVaultID(v.Owner)
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// credit adds amount to the total and available balances and bumps the
// lifetime deposit counter. All three additions are staged before any
// field is written, so a failed check leaves the vault untouched.
func (v *Vault) credit(amount uint64) error {
	total, err := checkedAdd(v.TotalBalance, amount)
	if err != nil {
		return err
	}
	available, err := checkedAdd(v.AvailableBalance, amount)
	if err != nil {
		return err
	}
	deposited, err := checkedAdd(v.TotalDeposited, amount)
	if err != nil {
		return err
	}
	v.TotalBalance = total
	v.AvailableBalance = available
	v.TotalDeposited = deposited
	return nil
}

// debit removes amount from the total and available balances and bumps the
// lifetime withdrawal counter.
func (v *Vault) debit(amount uint64) error {
	total, err := checkedSub(v.TotalBalance, amount)
	if err != nil {
		return err
	}
	available, err := checkedSub(v.AvailableBalance, amount)
	if err != nil {
		return err
	}
	withdrawn, err := checkedAdd(v.TotalWithdrawn, amount)
	if err != nil {
		return err
	}
	v.TotalBalance = total
	v.AvailableBalance = available
	v.TotalWithdrawn = withdrawn
	return nil
}

// moveToLocked shifts amount from available to locked. Total is unchanged.
func (v *Vault) moveToLocked(amount uint64) error {
	available, err := checkedSub(v.AvailableBalance, amount)
	if err != nil {
		return err
	}
	locked, err := checkedAdd(v.LockedBalance, amount)
	if err != nil {
		return err
	}
	v.AvailableBalance = available
	v.LockedBalance = locked
	return nil
}

// moveToAvailable shifts amount from locked back to available.
func (v *Vault) moveToAvailable(amount uint64) error {
	locked, err := checkedSub(v.LockedBalance, amount)
	if err != nil {
		return err
	}
	available, err := checkedAdd(v.AvailableBalance, amount)
	if err != nil {
		return err
	}
	v.LockedBalance = locked
	v.AvailableBalance = available
	return nil
}
