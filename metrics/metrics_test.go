package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewWithRegisterer(true, prometheus.NewRegistry())
}

func TestMetricsDisabled(t *testing.T) {
	metrics := New(false)

	if metrics == nil {
		t.Fatal("metrics should not be nil (noop)")
	}
	if metrics.Enabled() {
		t.Fatal("metrics should report disabled")
	}

	// These should not panic even though they're noop
	metrics.RecordLogin("success")
	metrics.RecordLogout("operator")
	metrics.RecordExpiry("bridge")
	metrics.RecordGuardRedirect("no_credential")
	metrics.RecordAuthFailure()
	metrics.RecordRequest("/devices", "ok", 0.01)
	metrics.RecordCacheHit("dict")
	metrics.RecordCacheMiss("dict")
	metrics.SetCacheSize("dict", 42)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordLogin("success")
	m.RecordExpiry("local")
}

func TestRecordLogin(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordLogin("success")
	m.RecordLogin("success")
	m.RecordLogin("failure")

	if got := testutil.ToFloat64(m.loginsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success logins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.loginsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed logins = %v, want 1", got)
	}
}

func TestRecordExpiryAndLogout(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordExpiry("bridge")
	m.RecordLogout("expired")

	if got := testutil.ToFloat64(m.expiryEpisodesTotal.WithLabelValues("bridge")); got != 1 {
		t.Errorf("expiry episodes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.logoutsTotal.WithLabelValues("expired")); got != 1 {
		t.Errorf("expired logouts = %v, want 1", got)
	}
}

func TestRecordAuthFailure(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordAuthFailure()
	m.RecordAuthFailure()

	if got := testutil.ToFloat64(m.authFailuresTotal); got != 2 {
		t.Errorf("auth failures = %v, want 2", got)
	}
}

func TestRecordCacheMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCacheHit("dict")
	m.RecordCacheMiss("dict")
	m.SetCacheSize("dict", 3)

	if got := testutil.ToFloat64(m.cacheHitsTotal.WithLabelValues("dict")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheEntries.WithLabelValues("dict")); got != 3 {
		t.Errorf("cache entries = %v, want 3", got)
	}
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRequest("/devices", "ok", 0.02)
	m.RecordRequest("/devices", "unauthorized", 0.01)

	if got := testutil.ToFloat64(m.apiRequestsTotal.WithLabelValues("/devices", "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
}
