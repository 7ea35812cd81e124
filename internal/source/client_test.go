package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

func newClient(t *testing.T, cfg source.ClientConfig) (*source.Client, *observability.Metrics) {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	m := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	return source.NewClient("TEST", cfg, clock, m, nil), m
}

func TestClient_GetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, m := newClient(t, source.ClientConfig{RateLimit: 100, Concurrency: 2})
	body, err := c.Get(context.Background(), srv.URL, http.Header{"X-Key": {"secret"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.InDelta(t, 1, testutil.ToFloat64(m.RetrieveRequests.WithLabelValues("TEST", "success")), 0)
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantKind   domain.RetrievalKind
		wantRetry  bool
		wantAfter  time.Duration
		wantMetric string
	}{
		{name: "rate limited with seconds", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, wantKind: domain.RetrievalRateLimited, wantRetry: true, wantAfter: 7 * time.Second, wantMetric: "rate_limited"},
		{name: "rate limited without header", status: http.StatusTooManyRequests, wantKind: domain.RetrievalRateLimited, wantRetry: true, wantMetric: "rate_limited"},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: domain.RetrievalAuthenticationFailed, wantMetric: "authentication_failed"},
		{name: "forbidden", status: http.StatusForbidden, wantKind: domain.RetrievalAuthenticationFailed, wantMetric: "authentication_failed"},
		{name: "server error", status: http.StatusBadGateway, wantKind: domain.RetrievalFailed, wantMetric: "failed"},
		{name: "not found", status: http.StatusNotFound, wantKind: domain.RetrievalFailed, wantMetric: "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			c, m := newClient(t, source.ClientConfig{})
			_, err := c.Get(context.Background(), srv.URL, nil)

			var retErr *domain.RetrievalError
			require.ErrorAs(t, err, &retErr)
			assert.Equal(t, tt.wantKind, retErr.Kind)
			assert.Equal(t, tt.status, retErr.StatusCode)
			assert.Equal(t, "nope", retErr.Message)
			assert.Equal(t, tt.wantRetry, domain.IsRetryable(err))
			assert.Equal(t, tt.wantAfter, retErr.RetryAfter)
			assert.InDelta(t, 1, testutil.ToFloat64(m.RetrieveRequests.WithLabelValues("TEST", tt.wantMetric)), 0)
		})
	}
}

func TestClient_CircuitOpensAfterServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, m := newClient(t, source.ClientConfig{FailureThreshold: 2, OpenTimeout: time.Hour})
	for range 2 {
		_, err := c.Get(context.Background(), srv.URL, nil)
		require.Error(t, err)
	}

	_, err := c.Get(context.Background(), srv.URL, nil)
	var retErr *domain.RetrievalError
	require.ErrorAs(t, err, &retErr)
	assert.Equal(t, domain.RetrievalCircuitOpen, retErr.Kind)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the request")
	assert.InDelta(t, 2, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("TEST")), 0)
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newClient(t, source.ClientConfig{FailureThreshold: 1})
	for range 3 {
		_, err := c.Get(context.Background(), srv.URL, nil)
		require.True(t, domain.IsAuthenticationFailed(err))
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PostKeepsSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		http.SetCookie(w, &http.Cookie{Name: "SESS", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /data", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("SESS")
		if err != nil || ck.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newClient(t, source.ClientConfig{})
	require.NoError(t, c.EnableCookies())

	_, err := c.Post(context.Background(), srv.URL+"/login", []byte(`{"name":"a"}`), nil)
	require.NoError(t, err)
	body, err := c.Get(context.Background(), srv.URL+"/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestClient_ContextCancelled(t *testing.T) {
	c, _ := newClient(t, source.ClientConfig{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "http://127.0.0.1:1", nil)
	require.ErrorIs(t, err, context.Canceled)
}
