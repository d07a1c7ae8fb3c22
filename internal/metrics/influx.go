// Package metrics records reconciliation outcomes as InfluxDB time
// series so drift and coverage are visible on dashboards.
package metrics

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/terminal-bench/collateralvault/internal/reconcile"
)

// InfluxWriter writes one point per completed check. Satisfies
// reconcile.MetricsWriter.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewInfluxWriter creates the metrics writer.
func NewInfluxWriter(cfg Config) *InfluxWriter {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxWriter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

// RecordCheck writes the reconciliation outcome. Metrics are advisory;
// a write failure is logged and never fails the check.
func (w *InfluxWriter) RecordCheck(ctx context.Context, res reconcile.Result) {
	point := influxdb2.NewPoint(
		"reconciliation",
		map[string]string{
			"vault_id": res.VaultID.String(),
		},
		map[string]interface{}{
			"ledger_total":  int64(res.LedgerTotal),
			"custody_total": int64(res.CustodyTotal),
			"consistent":    res.Consistent,
		},
		time.Now(),
	)
	if err := w.writeAPI.WritePoint(ctx, point); err != nil {
		log.Printf("metrics: vault %s: failed to write reconciliation point: %v", res.VaultID, err)
	}
}

// Close releases the InfluxDB client.
func (w *InfluxWriter) Close() {
	w.client.Close()
}
