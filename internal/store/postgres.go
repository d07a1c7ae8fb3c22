package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/terminal-bench/collateralvault/internal/vault"
)

// RecordArchive is the append-only Postgres archive of transaction
// records. It exists for observers and audits; the ledger's own
// consistency never depends on it.
type RecordArchive struct {
	db *sql.DB
}

// NewRecordArchive creates the archive on an existing connection pool.
func NewRecordArchive(db *sql.DB) *RecordArchive {
	return &RecordArchive{db: db}
}

// EnsureSchema creates the archive table if it does not exist.
func (a *RecordArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_transactions (
			id         BIGSERIAL PRIMARY KEY,
			vault_id   UUID        NOT NULL,
			tx_type    TEXT        NOT NULL,
			amount     NUMERIC(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create vault_transactions: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS vault_transactions_vault_idx
		ON vault_transactions (vault_id, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("failed to index vault_transactions: %w", err)
	}
	return nil
}

// Record appends a transaction record. Satisfies vault.RecordSink.
func (a *RecordArchive) Record(ctx context.Context, rec vault.TransactionRecord) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO vault_transactions (vault_id, tx_type, amount, created_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.VaultID, string(rec.Type), rec.Amount, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to archive record: %w", err)
	}
	return nil
}

// List returns the most recent records for a vault, newest first.
func (a *RecordArchive) List(ctx context.Context, vaultID uuid.UUID, limit int) ([]vault.TransactionRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT vault_id, tx_type, amount, created_at
		 FROM vault_transactions
		 WHERE vault_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		vaultID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []vault.TransactionRecord
	for rows.Next() {
		var rec vault.TransactionRecord
		var txType string
		if err := rows.Scan(&rec.VaultID, &txType, &rec.Amount, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Type = vault.TransactionType(txType)
		records = append(records, rec)
	}
	return records, rows.Err()
}
