// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classpresence",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "classpresence",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// Verifications counts verification passes by phase and outcome
	// (created, existing, verified, failed, rejected).
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classpresence",
		Name:      "verifications_total",
		Help:      "Verification attempts by phase and outcome.",
	}, []string{"phase", "outcome"})

	ConfidenceScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classpresence",
		Name:      "confidence_score",
		Help:      "Confidence scores of accepted verification attempts.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	PortDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classpresence",
		Name:      "qr_port_decisions_total",
		Help:      "QR port requests decided by staff.",
	}, []string{"status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classpresence",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classpresence",
		Name:      "events_consumed_total",
		Help:      "Domain events processed by the worker.",
	}, []string{"type", "result"})
)
