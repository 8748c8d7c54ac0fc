package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerifyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "verify_decisions_total",
		Help:      "Verification outcomes by decision band",
	}, []string{"outcome"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "enrollments_total",
		Help:      "Face enrollment attempts by result",
	}, []string{"result"})

	DuplicateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "duplicate_rejections_total",
		Help:      "Faces rejected because another user already owns them",
	}, []string{"stage"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatepass",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	TransactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatepass",
		Name:      "transaction_duration_seconds",
		Help:      "Duration of biometric storage transactions",
		Buckets:   prometheus.ExponentialBuckets(0.002, 2, 10),
	}, []string{"op", "result"})

	StagingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatepass",
		Name:      "staging_entries",
		Help:      "Number of validated captures waiting in the staging cache",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatepass",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatepass",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
