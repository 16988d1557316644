package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CSRFFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csrf_fetches_total",
		Help: "Total number of CSRF token fetches",
	})

	CSRFRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csrf_retries_total",
		Help: "Total number of requests re-issued after a CSRF-invalid response",
	})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total number of backend API requests",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Backend API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts started",
	})

	PaymentSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_succeeded_total",
		Help: "Total number of payment attempts reaching Succeeded",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of payment attempts reaching Failed",
	}, []string{"reason"})

	GatewayLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_loads_total",
		Help: "Total number of gateway client library loads",
	})

	VerificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_latency_seconds",
		Help:    "Latency of payment verification calls",
		Buckets: prometheus.DefBuckets,
	})
)
