package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "espilink",
			Subsystem: "link",
			Name:      "transactions_total",
			Help:      "Completed master transactions by outcome.",
		},
		[]string{"op", "result"},
	)
	transactionCycles = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "espilink",
			Subsystem: "link",
			Name:      "transaction_clock_cycles",
			Help:      "Clock cycles consumed per transaction, retries included.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		},
		[]string{"op"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "espilink",
			Subsystem: "link",
			Name:      "retries_total",
			Help:      "Retry exchanges issued after DEFER or WAIT_STATE.",
		},
		[]string{"op", "reason"},
	)
	crcErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "espilink",
			Subsystem: "link",
			Name:      "crc_errors_total",
			Help:      "Inbound frames rejected on checksum.",
		},
	)
	scriptMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "espilink",
			Subsystem: "slave",
			Name:      "script_mismatches_total",
			Help:      "Scripted-slave request mismatches and overruns.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transactions, transactionCycles, retries, crcErrors, scriptMismatches)
	})
}

func RecordTransaction(op, result string, cycles float64) {
	RegisterMetrics()
	transactions.WithLabelValues(op, result).Inc()
	transactionCycles.WithLabelValues(op).Observe(cycles)
}

func RecordRetry(op, reason string) {
	RegisterMetrics()
	retries.WithLabelValues(op, reason).Inc()
}

func RecordCRCError() {
	RegisterMetrics()
	crcErrors.Inc()
}

func RecordScriptMismatch() {
	RegisterMetrics()
	scriptMismatches.Inc()
}
