package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the counters of one process run. A nil *Registry is valid
// and records nothing.
type Registry struct {
	reg            *prometheus.Registry
	RowsLoaded     *prometheus.CounterVec
	Lookups        *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	RateLimitWaits prometheus.Counter
	LookupLatency  prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	rowsLoaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "movielens_rows_loaded_total",
		Help: "Source records processed by the bulk loader.",
	}, []string{"table", "outcome"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "movielens_lookups_total",
		Help: "Metadata lookups by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "movielens_enrich_transitions_total",
		Help: "Enrichment status transitions by target status.",
	}, []string{"status"})
	rateLimitWaits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "movielens_rate_limit_waits_total",
		Help: "Cooldowns entered after the metadata API rate limited a request.",
	})
	lookupLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "movielens_lookup_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(rowsLoaded, lookups, transitions, rateLimitWaits, lookupLatency)
	return &Registry{
		reg:            r,
		RowsLoaded:     rowsLoaded,
		Lookups:        lookups,
		Transitions:    transitions,
		RateLimitWaits: rateLimitWaits,
		LookupLatency:  lookupLatency,
	}
}

func (r *Registry) RowLoaded(table, outcome string) {
	if r == nil {
		return
	}
	r.RowsLoaded.WithLabelValues(table, outcome).Inc()
}

func (r *Registry) Lookup(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.Lookups.WithLabelValues(outcome).Inc()
	r.LookupLatency.Observe(took.Seconds())
}

func (r *Registry) Transition(status string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(status).Inc()
}

func (r *Registry) RateLimitWait() {
	if r == nil {
		return
	}
	r.RateLimitWaits.Inc()
}

// WriteTextfile dumps all metrics in the text exposition format, suitable
// for the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
