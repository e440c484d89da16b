package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletflow",
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Access guard decisions by capability and outcome.",
		},
		[]string{"capability", "decision"},
	)

	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletflow",
			Subsystem: "money_requests",
			Name:      "transitions_total",
			Help:      "Money request operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	paymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletflow",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment intent operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	verifyReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "walletflow",
			Subsystem: "payments",
			Name:      "verify_replays_total",
			Help:      "Verifications answered from the recorded outcome.",
		},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletflow",
			Subsystem: "gateway",
			Name:      "confirm_duration_seconds",
			Help:      "Duration of gateway confirmation calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		guardDecisions,
		requestTransitions,
		paymentTransitions,
		verifyReplays,
		gatewayDuration,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordDecision(capability, decision string) {
	guardDecisions.WithLabelValues(capability, decision).Inc()
}

func RecordRequestTransition(operation string, err error) {
	requestTransitions.WithLabelValues(operation, result(err)).Inc()
}

func RecordPaymentTransition(operation string, err error) {
	paymentTransitions.WithLabelValues(operation, result(err)).Inc()
}

func RecordVerifyReplay() {
	verifyReplays.Inc()
}

func ObserveGateway(outcome string, started time.Time) {
	gatewayDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func RecordHTTPRequest(method, route string, status int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
