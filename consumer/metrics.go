package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	polls              prometheus.Counter
	pollErrors         prometheus.Counter
	fetchesOutstanding prometheus.Gauge
	bufferedRecords    prometheus.Gauge
	pendingCommits     prometheus.Gauge
	rebalances         *prometheus.CounterVec
	commitLatency      prometheus.Histogram
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		polls: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "fs2kafka_consumer_polls_total",
			Help: "The number of polls issued to the client.",
		}),
		pollErrors: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "fs2kafka_consumer_poll_errors_total",
			Help: "The number of polls that returned an error.",
		}),
		fetchesOutstanding: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "fs2kafka_consumer_fetches_outstanding",
			Help: "The number of fetch tokens currently waiting for records.",
		}),
		bufferedRecords: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "fs2kafka_consumer_buffered_records",
			Help: "Records fetched but not yet claimed by any stream.",
		}),
		pendingCommits: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "fs2kafka_consumer_pending_commits",
			Help: "Commits held back by an in-progress rebalance.",
		}),
		rebalances: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "fs2kafka_consumer_rebalances_total",
			Help: "Rebalance callbacks observed, by phase.",
		}, []string{"phase"}),
		commitLatency: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "fs2kafka_consumer_commit_latency_seconds",
			Help:    "Time from commit submission to client acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// observeState refreshes the state-derived gauges. Called by handlers after
// their modify step; cheap enough to run on every request.
func (m *metrics) observeState(r *stateRef) {
	var tokens, buffered, pending int
	r.view(func(s *state) {
		for _, ff := range s.fetches {
			tokens += len(ff)
		}
		for _, rr := range s.records {
			buffered += len(rr)
		}
		pending = len(s.pendingCommits)
	})
	m.fetchesOutstanding.Set(float64(tokens))
	m.bufferedRecords.Set(float64(buffered))
	m.pendingCommits.Set(float64(pending))
}
