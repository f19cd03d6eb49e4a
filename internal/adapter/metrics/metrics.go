package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// findingsTotal tracks processed findings by outcome
	findingsTotal *prometheus.CounterVec

	// classificationsTotal tracks taxonomy classification by purpose and recognition
	classificationsTotal *prometheus.CounterVec

	// tiersTotal tracks the distribution of presentation tiers
	tiersTotal *prometheus.CounterVec

	// dispatchErrorsTotal tracks dispatch transport errors by type
	dispatchErrorsTotal *prometheus.CounterVec

	// dispatchDuration tracks latency of notifier calls
	dispatchDuration *prometheus.HistogramVec

	// configReloadsTotal tracks presentation config reloads by result
	configReloadsTotal *prometheus.CounterVec
)

// InitMetrics registers all Prometheus metrics.
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		findingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardybot_findings_total",
				Help: "Total number of findings processed by outcome",
			},
			[]string{"outcome"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardybot_classifications_total",
				Help: "Total number of classified finding types by threat purpose and recognition",
			},
			[]string{"purpose", "recognized"},
		)

		tiersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardybot_severity_tier_total",
				Help: "Distribution of presentation tiers",
			},
			[]string{"tier"},
		)

		dispatchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardybot_dispatch_errors_total",
				Help: "Total number of dispatch errors by error type",
			},
			[]string{"error_type"},
		)

		dispatchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardybot_dispatch_duration_seconds",
				Help:    "Duration of notifier calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"notifier"},
		)

		configReloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardybot_config_reloads_total",
				Help: "Total number of presentation config reloads by result",
			},
			[]string{"result"},
		)
	})
}

// RecordFinding records a processed finding
// outcome: "sent", "muted", "duplicate", "rejected", "failed", "preview"
func RecordFinding(outcome string) {
	if findingsTotal != nil {
		findingsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordClassification records the classifier result. Unrecognized purposes
// are folded into "other" to keep label cardinality bounded.
func RecordClassification(purpose string, knownPurpose, recognized bool) {
	if classificationsTotal == nil {
		return
	}
	if !knownPurpose {
		purpose = "other"
	}
	classificationsTotal.WithLabelValues(purpose, strconv.FormatBool(recognized)).Inc()
}

// RecordTier records the presentation tier of a finding
func RecordTier(tier string) {
	if tiersTotal != nil {
		tiersTotal.WithLabelValues(tier).Inc()
	}
}

// RecordDispatchError records a dispatch error by type
// errorType: "timeout", "auth", "rate_limit", "server_error", "connection", "rejected", "circuit_open"
func RecordDispatchError(errorType string) {
	if dispatchErrorsTotal != nil {
		dispatchErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// RecordDispatchDuration records how long a notifier call took
func RecordDispatchDuration(notifier string, duration time.Duration) {
	if dispatchDuration != nil {
		dispatchDuration.WithLabelValues(notifier).Observe(duration.Seconds())
	}
}

// RecordConfigReload records a presentation config reload
func RecordConfigReload(ok bool) {
	if configReloadsTotal == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	configReloadsTotal.WithLabelValues(result).Inc()
}

// DispatchTimer is a helper for timing notifier calls
type DispatchTimer struct {
	notifier string
	start    time.Time
}

// StartTimer creates a new timer for measuring dispatch duration
func StartTimer(notifier string) *DispatchTimer {
	return &DispatchTimer{notifier: notifier, start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started
func (t *DispatchTimer) ObserveDuration() {
	if t != nil {
		RecordDispatchDuration(t.notifier, time.Since(t.start))
	}
}
