package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide counters the supervisor exposes: records
// decoded and dropped, and backfill jobs currently in flight. Telemetry
// exporters themselves are an external collaborator (out of scope), but
// the counters are cheap to keep and register so a scrape endpoint wired
// up outside this package has something to read.
type Metrics struct {
	RecordsDecoded prometheus.Counter
	RecordsDropped prometheus.Counter
	BackfillJobs   prometheus.Gauge
}

// NewMetrics creates and registers the supervisor's counters against reg.
// Passing prometheus.NewRegistry() keeps tests isolated from the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_records_decoded_total",
			Help: "Firehose events decoded and written; backfill archive records are not counted.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_records_dropped_total",
			Help: "Firehose frames and records dropped as malformed.",
		}),
		BackfillJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_backfill_jobs_in_flight",
			Help: "Backfill jobs currently running.",
		}),
	}
	reg.MustRegister(m.RecordsDecoded, m.RecordsDropped, m.BackfillJobs)
	return m
}
