// Package metrics exposes Prometheus counters for crawl activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide counter set. A nil *Metrics is a valid
// no-op receiver so collaborators never need nil checks at call sites.
type Metrics struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	itemsIngested    prometheus.Counter
	itemsFailed      prometheus.Counter
	catalogsWalked   prometheus.Counter
}

// New registers the counter set on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_crawler",
			Name:      "sessions_started_total",
			Help:      "Crawl sessions started, by mode.",
		}, []string{"mode"}),
		sessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_crawler",
			Name:      "sessions_finished_total",
			Help:      "Crawl sessions reaching a terminal state, by status.",
		}, []string{"status"}),
		itemsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog_crawler",
			Name:      "items_ingested_total",
			Help:      "Product pages fetched, extracted and stored.",
		}),
		itemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog_crawler",
			Name:      "items_failed_total",
			Help:      "Product pages that failed to fetch, extract or store.",
		}),
		catalogsWalked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog_crawler",
			Name:      "catalogs_walked_total",
			Help:      "Catalog listings traversed for URL collection.",
		}),
	}
}

func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ItemIngested() {
	if m == nil {
		return
	}
	m.itemsIngested.Inc()
}

func (m *Metrics) ItemFailed() {
	if m == nil {
		return
	}
	m.itemsFailed.Inc()
}

func (m *Metrics) CatalogWalked() {
	if m == nil {
		return
	}
	m.catalogsWalked.Inc()
}
