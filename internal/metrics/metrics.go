// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "checkins_total",
		Help:      "Student check-in attempts by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "classroll",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	PhotoReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "photo_releases_total",
		Help:      "Queued photo deletions by result.",
	}, []string{"result"})
)
