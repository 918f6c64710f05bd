// Package metrics exposes Prometheus collectors for the storefront server.
//
// Collectors are package-level so that auth, audit and rate limiting code can
// record outcomes without threading a registry through every constructor.
// Register must be called once (the serve command does it) before the
// /metrics handler returns anything useful; unregistered collectors still
// accept observations, which keeps tests free of global registry state.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LoginOutcomes counts login results by method (password, google) and
	// outcome (success, invalid_credentials, invalid_token, locked, inactive,
	// forbidden, error).
	LoginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_outcomes_total",
			Help:      "Login attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// AccountLockouts counts transitions into the locked state.
	AccountLockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "account_lockouts_total",
		Help:      "Accounts locked after repeated failed logins.",
	})

	// TokenRefreshes counts refresh attempts by outcome.
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	// RateLimitRejections counts requests rejected by a limiter, by scope.
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by rate limiting.",
		},
		[]string{"scope"},
	)

	// AuditWriteFailures counts audit records that could not be persisted.
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Audit records dropped because the store rejected them.",
	})

	// RetentionPurged counts records removed by the retention sweeper.
	RetentionPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "purged_total",
			Help:      "Records purged by retention policies.",
		},
		[]string{"category"},
	)

	// CatalogCacheLookups counts catalog read cache lookups by result (hit, miss).
	CatalogCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog read cache lookups by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		LoginOutcomes,
		AccountLockouts,
		TokenRefreshes,
		RateLimitRejections,
		AuditWriteFailures,
		RetentionPurged,
		CatalogCacheLookups,
	}
}

// Register adds all collectors to reg. Collectors that are already
// registered are skipped so Register is safe to call more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records in-flight count, request totals and latency.
// The route label uses the chi route pattern so path parameters do not
// explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routePattern(r)
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
