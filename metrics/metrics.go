// Package metrics provides Prometheus metrics for console session and backend operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console.
type Metrics struct {
	enabled bool

	// Session lifecycle metrics
	loginsTotal         *prometheus.CounterVec
	logoutsTotal        *prometheus.CounterVec
	expiryEpisodesTotal *prometheus.CounterVec
	guardRedirectsTotal *prometheus.CounterVec

	// Backend call metrics
	authFailuresTotal  prometheus.Counter
	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec

	// Cache metrics
	cacheEntries   *prometheus.GaugeVec
	cacheHitsTotal *prometheus.CounterVec
	cacheMissTotal *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	return NewWithRegisterer(enabled, prometheus.DefaultRegisterer)
}

// NewWithRegisterer is New with an explicit registry.
func NewWithRegisterer(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}
	factory := promauto.With(reg)

	m.loginsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_logins_total",
		Help: "Total operator login attempts",
	}, []string{"result"})

	m.logoutsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_logouts_total",
		Help: "Total session teardowns",
	}, []string{"cause"})

	m.expiryEpisodesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_expiry_episodes_total",
		Help: "Total session expiry episodes",
	}, []string{"reason"})

	m.guardRedirectsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_guard_redirects_total",
		Help: "Total redirects issued by guarded views",
	}, []string{"reason"})

	m.authFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "console_backend_auth_failures_total",
		Help: "Total backend responses rejecting the credential",
	})

	m.apiRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_api_requests_total",
		Help: "Total backend API requests",
	}, []string{"endpoint", "outcome"})

	m.apiRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_api_request_duration_seconds",
		Help:    "Backend API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	m.cacheEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_cache_entries",
		Help: "Current number of entries in cache",
	}, []string{"cache_type"})

	m.cacheHitsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache_type"})

	m.cacheMissTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "console_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache_type"})

	return m
}

// Enabled reports whether metrics are recorded.
func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

// RecordLogin records a login attempt outcome (success, failure, rejected).
func (m *Metrics) RecordLogin(result string) {
	if !m.Enabled() {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordLogout records a session teardown (operator, expired).
func (m *Metrics) RecordLogout(cause string) {
	if !m.Enabled() {
		return
	}
	m.logoutsTotal.WithLabelValues(cause).Inc()
}

// RecordExpiry records the start of an expiry episode.
func (m *Metrics) RecordExpiry(reason string) {
	if !m.Enabled() {
		return
	}
	m.expiryEpisodesTotal.WithLabelValues(reason).Inc()
}

// RecordGuardRedirect records a redirect issued by a guarded view.
func (m *Metrics) RecordGuardRedirect(reason string) {
	if !m.Enabled() {
		return
	}
	m.guardRedirectsTotal.WithLabelValues(reason).Inc()
}

// RecordAuthFailure records a backend response that rejected the credential.
func (m *Metrics) RecordAuthFailure() {
	if !m.Enabled() {
		return
	}
	m.authFailuresTotal.Inc()
}

// RecordRequest records a backend request outcome and duration.
func (m *Metrics) RecordRequest(endpoint, outcome string, durationSeconds float64) {
	if !m.Enabled() {
		return
	}
	m.apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.apiRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	if !m.Enabled() {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if !m.Enabled() {
		return
	}
	m.cacheMissTotal.WithLabelValues(cacheType).Inc()
}

// SetCacheSize sets the current cache size.
func (m *Metrics) SetCacheSize(cacheType string, size float64) {
	if !m.Enabled() {
		return
	}
	m.cacheEntries.WithLabelValues(cacheType).Set(size)
}
