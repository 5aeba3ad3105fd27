// Package metrics provides Prometheus instrumentation for the risk-scoring service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rugdetector",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts contract analyses by chain and outcome.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "analyses_total",
			Help:      "Total contract analyses by chain and outcome.",
		},
		[]string{"chain", "outcome"},
	)

	// RiskCategoryTotal counts completed analyses by risk category.
	RiskCategoryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "risk_category_total",
			Help:      "Completed analyses by resulting risk category.",
		},
		[]string{"category"},
	)

	// PaymentVerificationsTotal counts payment verification attempts by result.
	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "payment_verifications_total",
			Help:      "Payment verification attempts by result.",
		},
		[]string{"result"},
	)

	// ReplayRejectionsTotal counts requests rejected for payment reuse.
	ReplayRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "replay_rejections_total",
			Help:      "Requests rejected because the payment id was already used.",
		},
	)

	// TrackedPayments tracks currently active (non-expired) payment records.
	TrackedPayments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rugdetector",
			Name:      "tracked_payments",
			Help:      "Number of active payment records in the replay tracker.",
		},
	)

	// ExtractionDuration observes feature extraction latency by chain.
	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rugdetector",
			Name:      "extraction_duration_seconds",
			Help:      "Feature extraction subprocess duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"chain"},
	)

	// ExtractionFailuresTotal counts feature extraction failures by reason.
	ExtractionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "extraction_failures_total",
			Help:      "Feature extraction failures by reason.",
		},
		[]string{"reason"},
	)

	// InferenceDuration observes model inference latency.
	InferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rugdetector",
			Name:      "inference_duration_seconds",
			Help:      "Model inference duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// ProofGenerationDuration observes proof generation latency by backend.
	ProofGenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rugdetector",
			Name:      "proof_generation_seconds",
			Help:      "Proof generation duration in seconds by backend.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"backend"},
	)

	// ProofsTotal counts proof generation outcomes by backend and result.
	ProofsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "proofs_total",
			Help:      "Proof generation outcomes by backend and result.",
		},
		[]string{"backend", "result"},
	)

	// ProofVerificationsTotal counts proof verification outcomes.
	ProofVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rugdetector",
			Name:      "proof_verifications_total",
			Help:      "Proof verification outcomes.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		RiskCategoryTotal,
		PaymentVerificationsTotal,
		ReplayRejectionsTotal,
		TrackedPayments,
		ExtractionDuration,
		ExtractionFailuresTotal,
		InferenceDuration,
		ProofGenerationDuration,
		ProofsTotal,
		ProofVerificationsTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
