// Package metrics holds the Prometheus instruments of the history engine.
//
// Metrics are registered on a per-engine registry rather than the global
// default one, so several engines (and tests) can coexist in one process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "visitdb"

// Deletion reasons used as the "reason" label of VisitsDeleted.
const (
	ReasonExpired  = "expired"
	ReasonExplicit = "explicit"
	ReasonForeign  = "foreign"
	ReasonAll      = "all"
)

// History is the set of engine instruments.
type History struct {
	Registry *prometheus.Registry

	// VisitsAdded counts recorded visits. Labels: source (browsed, synced,
	// imported, extension).
	VisitsAdded *prometheus.CounterVec
	// VisitsDeleted counts removed visits by reason.
	VisitsDeleted *prometheus.CounterVec
	// URLsDeleted counts removed url rows.
	URLsDeleted prometheus.Counter
	// Commits counts singleton transaction commits. Labels: trigger
	// (timer, forced, shutdown).
	Commits *prometheus.CounterVec
	// TransactionErrors counts failed begin/commit calls.
	TransactionErrors prometheus.Counter
	// Razes counts destructive resets after catastrophic errors.
	Razes prometheus.Counter
	// DBTasks counts queued read tasks by outcome (done, canceled).
	DBTasks *prometheus.CounterVec
	// RedirectCacheEntries is the current size of the redirect cache.
	RedirectCacheEntries prometheus.Gauge
	// CommitSeconds observes how long a commit takes.
	CommitSeconds prometheus.Histogram
}

// New creates the instruments on a fresh registry.
func New() *History {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &History{
		Registry: reg,
		VisitsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_added_total",
			Help:      "Visits recorded, by source.",
		}, []string{"source"}),
		VisitsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_deleted_total",
			Help:      "Visits deleted, by reason.",
		}, []string{"reason"}),
		URLsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_deleted_total",
			Help:      "URL rows deleted.",
		}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits of the long-lived transaction, by trigger.",
		}, []string{"trigger"}),
		TransactionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_errors_total",
			Help:      "Failed transaction begin or commit calls.",
		}),
		Razes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "razes_total",
			Help:      "Database resets after catastrophic errors.",
		}),
		DBTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_tasks_total",
			Help:      "Queued database tasks finished, by outcome.",
		}, []string{"outcome"}),
		RedirectCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redirect_cache_entries",
			Help:      "Entries in the redirect cache.",
		}),
		CommitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of transaction commits.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}

// Snapshot returns the current value of every counter and gauge keyed by
// metric name plus labels, e.g. `visitdb_visits_added_total{source="browsed"}`.
// Histograms report their sample count.
func (h *History) Snapshot() (map[string]float64, error) {
	families, err := h.Registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if lp := m.GetLabel(); len(lp) > 0 {
				key += "{"
				for i, l := range lp {
					if i > 0 {
						key += ","
					}
					key += l.GetName() + `="` + l.GetValue() + `"`
				}
				key += "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
