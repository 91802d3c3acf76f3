package chatsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the sync counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	staleDiscards *prometheus.CounterVec
	sends         *prometheus.CounterVec
	ticks         prometheus.Counter
	dropped       *prometheus.CounterVec
	refreshTime   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "refreshes_total",
			Help:      "Store refreshes by store and outcome.",
		}, []string{"store", "outcome"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "stale_responses_total",
			Help:      "Refresh responses discarded because a newer one was already applied.",
		}, []string{"store"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Send pipeline runs by outcome.",
		}, []string{"outcome"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "poll_ticks_total",
			Help:      "Sync scheduler ticks.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "dropped_records_total",
			Help:      "Server records dropped by normalization.",
		}, []string{"kind"}),
		refreshTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatsync",
			Name:      "refresh_duration_seconds",
			Help:      "Gateway latency of store refreshes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.staleDiscards, m.sends, m.ticks, m.dropped, m.refreshTime)
	}
	return m
}

func (m *Metrics) refresh(store string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(store, outcome).Inc()
	m.refreshTime.WithLabelValues(store).Observe(seconds)
}

func (m *Metrics) stale(store string) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(store).Inc()
}

func (m *Metrics) send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) drop(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(kind).Add(float64(n))
}
