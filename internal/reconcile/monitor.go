package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/collateralvault/internal/vault"
)

// VaultReader loads vault state for reconciliation.
type VaultReader interface {
	GetVault(ctx context.Context, id uuid.UUID) (*vault.Vault, error)
}

// AlertSink receives monitoring outcomes. DriftDetected carries both
// observed balances; CheckFailed means the check could not be performed
// at all this cycle.
type AlertSink interface {
	DriftDetected(ctx context.Context, res Result)
	CheckFailed(ctx context.Context, vaultID uuid.UUID, err error)
}

// MetricsWriter records the outcome of every completed check.
type MetricsWriter interface {
	RecordCheck(ctx context.Context, res Result)
}

// Monitor drives the reconciler across a watched set of vaults on a
// polling cadence. Checks for distinct vaults run concurrently within a
// cycle; a vault is checked at most once per cycle and cycles never
// overlap, so per-vault checks are sequential.
type Monitor struct {
	store    VaultReader
	rec      *Reconciler
	alerts   AlertSink
	metrics  MetricsWriter
	interval time.Duration
	maxPar   int

	mu      sync.RWMutex
	watched map[uuid.UUID]struct{}
}

// MonitorConfig holds monitor configuration. Alerts and Metrics are
// optional; Interval defaults to 30s and MaxConcurrent to 8.
type MonitorConfig struct {
	Store         VaultReader
	Reconciler    *Reconciler
	Alerts        AlertSink
	Metrics       MetricsWriter
	Interval      time.Duration
	MaxConcurrent int
}

// NewMonitor creates a vault monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	maxPar := cfg.MaxConcurrent
	if maxPar == 0 {
		maxPar = 8
	}
	return &Monitor{
		store:    cfg.Store,
		rec:      cfg.Reconciler,
		alerts:   cfg.Alerts,
		metrics:  cfg.Metrics,
		interval: interval,
		maxPar:   maxPar,
		watched:  make(map[uuid.UUID]struct{}),
	}
}

// Watch adds a vault to the watched set.
func (m *Monitor) Watch(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[id] = struct{}{}
}

// Unwatch removes a vault from the watched set.
func (m *Monitor) Unwatch(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, id)
}

// Watched returns the currently watched vault IDs.
func (m *Monitor) Watched() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(m.watched))
	for id := range m.watched {
		out = append(out, id)
	}
	return out
}

// Run executes reconciliation cycles until the context is cancelled.
// Cancellation is cooperative: the loop stops between cycles.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First cycle immediately; the ticker paces the rest.
	m.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle checks every watched vault once. A single vault's failure is
// reported and does not abort the rest of the cycle; there is no retry
// beyond the next cycle.
func (m *Monitor) RunCycle(ctx context.Context) {
	ids := m.Watched()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxPar)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			m.check(gctx, id)
			return nil
		})
	}
	// Workers never return errors; failures are isolated per vault.
	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, id uuid.UUID) {
	v, err := m.store.GetVault(ctx, id)
	if err != nil {
		log.Printf("monitor: vault %s: failed to load: %v", id, err)
		if m.alerts != nil {
			m.alerts.CheckFailed(ctx, id, err)
		}
		return
	}

	res, err := m.rec.Reconcile(ctx, v)
	if err != nil {
		log.Printf("monitor: vault %s: reconciliation failed: %v", id, err)
		if m.alerts != nil {
			m.alerts.CheckFailed(ctx, id, err)
		}
		return
	}

	if !res.Consistent {
		log.Printf("monitor: vault %s: drift detected: ledger=%d custody=%d",
			id, res.LedgerTotal, res.CustodyTotal)
		if m.alerts != nil {
			m.alerts.DriftDetected(ctx, *res)
		}
	}
	if m.metrics != nil {
		m.metrics.RecordCheck(ctx, *res)
	}
}
