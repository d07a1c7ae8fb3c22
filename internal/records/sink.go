// Package records wires transaction records and drift alerts to their
// consumers: NATS subjects for live observers, Postgres for the audit
// archive.
package records

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/collateralvault/internal/reconcile"
	"github.com/terminal-bench/collateralvault/internal/vault"
	"github.com/terminal-bench/collateralvault/pkg/messaging"
)

// Publisher is the messaging surface the sinks need.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// NATSSink publishes transaction records as events.
type NATSSink struct {
	pub Publisher
}

// NewNATSSink creates a record sink on a messaging client.
func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

// Record publishes the record on its per-type subject.
func (s *NATSSink) Record(ctx context.Context, rec vault.TransactionRecord) error {
	subject, err := subjectFor(rec.Type)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, subject, messaging.TransactionEvent{
		VaultID:   rec.VaultID,
		Type:      string(rec.Type),
		Amount:    rec.Amount,
		Timestamp: rec.Timestamp,
	})
}

func subjectFor(t vault.TransactionType) (string, error) {
	switch t {
	case vault.TxDeposit:
		return messaging.SubjectDeposit, nil
	case vault.TxWithdrawal:
		return messaging.SubjectWithdrawal, nil
	case vault.TxLock:
		return messaging.SubjectLock, nil
	case vault.TxUnlock:
		return messaging.SubjectUnlock, nil
	case vault.TxTransfer:
		return messaging.SubjectTransfer, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", t)
	}
}

// MultiSink fans a record out to several sinks. Every sink sees the
// record even when an earlier one fails; the first error is returned.
type MultiSink struct {
	sinks []vault.RecordSink
}

// NewMultiSink combines record sinks.
func NewMultiSink(sinks ...vault.RecordSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record delivers the record to every sink.
func (m *MultiSink) Record(ctx context.Context, rec vault.TransactionRecord) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NATSAlertSink publishes monitor outcomes. Satisfies
// reconcile.AlertSink.
type NATSAlertSink struct {
	pub Publisher
	now func() time.Time
}

// NewNATSAlertSink creates an alert sink on a messaging client.
func NewNATSAlertSink(pub Publisher) *NATSAlertSink {
	return &NATSAlertSink{pub: pub, now: time.Now}
}

// DriftDetected publishes a drift alert with both observed balances.
func (s *NATSAlertSink) DriftDetected(ctx context.Context, res reconcile.Result) {
	err := s.pub.Publish(ctx, messaging.SubjectDrift, messaging.DriftAlertEvent{
		VaultID:      res.VaultID,
		LedgerTotal:  res.LedgerTotal,
		CustodyTotal: res.CustodyTotal,
		Timestamp:    s.now().UTC(),
	})
	if err != nil {
		log.Printf("alerts: vault %s: failed to publish drift alert: %v", res.VaultID, err)
	}
}

// CheckFailed publishes a transport-level reconciliation failure.
func (s *NATSAlertSink) CheckFailed(ctx context.Context, vaultID uuid.UUID, checkErr error) {
	err := s.pub.Publish(ctx, messaging.SubjectReconcileError, messaging.ReconcileErrorEvent{
		VaultID:   vaultID,
		Error:     checkErr.Error(),
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		log.Printf("alerts: vault %s: failed to publish check failure: %v", vaultID, err)
	}
}
