package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	SubjectDeposit    = "vault.deposit"
	SubjectWithdrawal = "vault.withdrawal"
	SubjectLock       = "vault.lock"
	SubjectUnlock     = "vault.unlock"
	SubjectTransfer   = "vault.transfer"

	SubjectDrift          = "vault.drift"
	SubjectReconcileError = "vault.reconcile_error"
)

// TransactionEvent mirrors an emitted transaction record. Amounts are in
// base units.
type TransactionEvent struct {
	VaultID   uuid.UUID `json:"vault_id"`
	Type      string    `json:"type"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// DriftAlertEvent reports a mismatch between a vault's recorded total and
// the custody account's true balance.
type DriftAlertEvent struct {
	VaultID      uuid.UUID `json:"vault_id"`
	LedgerTotal  uint64    `json:"ledger_total"`
	CustodyTotal uint64    `json:"custody_total"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReconcileErrorEvent reports that a vault's check could not be performed
// this cycle. It is distinct from drift: the custody layer was
// unreachable, not inconsistent.
type ReconcileErrorEvent struct {
	VaultID   uuid.UUID `json:"vault_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
