package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/terminal-bench/collateralvault/internal/custody"
	"github.com/terminal-bench/collateralvault/internal/vault"
)

// Result is produced fresh on every check; it is never persisted.
type Result struct {
	VaultID      uuid.UUID `json:"vault_id"`
	LedgerTotal  uint64    `json:"ledger_total"`
	CustodyTotal uint64    `json:"custody_total"`
	Consistent   bool      `json:"consistent"`
}

// Reconciler compares a vault's recorded total against the custody
// account's true balance. It never mutates the vault; correcting drift
// is an operator decision.
type Reconciler struct {
	balances custody.BalanceReader
}

// NewReconciler creates a reconciler backed by the given balance source.
func NewReconciler(balances custody.BalanceReader) *Reconciler {
	return &Reconciler{balances: balances}
}

// Reconcile fetches the custody balance and compares it for exact
// equality with the vault's total. Any difference, in either direction,
// is a discrepancy. A failure to reach the custody layer is returned as
// an error so callers never conflate "drift detected" with "could not
// check".
func (r *Reconciler) Reconcile(ctx context.Context, v *vault.Vault) (*Result, error) {
	custodyTotal, err := r.balances.BalanceOf(ctx, v.CustodyAccount)
	if err != nil {
		return nil, err
	}

	return &Result{
		VaultID:      v.ID(),
		LedgerTotal:  v.TotalBalance,
		CustodyTotal: custodyTotal,
		Consistent:   v.TotalBalance == custodyTotal,
	}, nil
}
