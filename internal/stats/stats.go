package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Counter names registered by the packages in this module.
const (
	MetricConnectAttempts  = "connect_attempts_total"
	MetricConnectFailures  = "connect_failures_total"
	MetricReconnects       = "reconnects_total"
	MetricMessagesReceived = "messages_received_total"
	MetricMessagesSent     = "messages_sent_total"
	MetricHistoryFetches   = "history_fetches_total"
	MetricFetchFailures    = "fetch_failures_total"
)

type StatsProvider interface {
	Incr(name string)
	RegisterMetric(name, help string)
}

// StatsUpdater is a prometheus-backed StatsProvider. Unregistered names
// are dropped rather than panicking, since counters are best effort.
type StatsUpdater struct {
	namespace string
	registry  prometheus.Registerer
	counters  map[string]prometheus.Counter
}

func NewStatsUpdater(reg prometheus.Registerer) *StatsUpdater {
	su := &StatsUpdater{
		namespace: "chatkit",
		registry:  reg,
		counters:  make(map[string]prometheus.Counter),
	}

	for name, help := range map[string]string{
		MetricConnectAttempts:  "Connection attempts made against the messaging backend.",
		MetricConnectFailures:  "Connection attempts that ended in an error.",
		MetricReconnects:       "Automatic reconnections after an unexpected drop.",
		MetricMessagesReceived: "Messages dispatched to topic subscriptions.",
		MetricMessagesSent:     "Messages published over the realtime channel.",
		MetricHistoryFetches:   "History pages fetched over REST.",
		MetricFetchFailures:    "History or send requests that failed.",
	} {
		su.RegisterMetric(name, help)
	}

	return su
}

func (su *StatsUpdater) RegisterMetric(name, help string) {
	if _, ok := su.counters[name]; ok {
		return
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: su.namespace,
		Name:      name,
		Help:      help,
	})
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Incr(name string) {
	if c, ok := su.counters[name]; ok {
		c.Inc()
	}
}
