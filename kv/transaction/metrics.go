package transaction

import (
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	transactionCounter  *prometheus.CounterVec
	transactionDuration prometheus.Histogram
	unlockFailedCounter prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		transactionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tinybundle",
				Subsystem: "transaction",
				Name:      "total",
				Help:      "Counter of bundle transactions by result.",
			}, []string{"result"}),

		transactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tinybundle",
				Subsystem: "transaction",
				Name:      "duration_seconds",
				Help:      "Bucketed histogram of bundle transaction duration (s).",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			}),

		unlockFailedCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tinybundle",
				Subsystem: "transaction",
				Name:      "unlock_failed_total",
				Help:      "Counter of lock records which could not be released.",
			}),
	}
	if reg != nil {
		m.transactionCounter = register(reg, m.transactionCounter).(*prometheus.CounterVec)
		m.transactionDuration = register(reg, m.transactionDuration).(prometheus.Histogram)
		m.unlockFailedCounter = register(reg, m.unlockFailedCounter).(prometheus.Counter)
	}
	return m
}

// register adds c to reg. When an identical collector is already registered, for example by another coordinator
// sharing the registry, the existing one is returned instead.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(resp bundle.BundleResponse, elapsed time.Duration) {
	result := "success"
	if !resp.Success {
		result = string(resp.ErrorKind)
	}
	m.transactionCounter.WithLabelValues(result).Inc()
	m.transactionDuration.Observe(elapsed.Seconds())
}
