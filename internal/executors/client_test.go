package executors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestClient_OversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := NewClient(HTTPConfig{MaxResponseBody: 16, RatePerHost: 100, Burst: 100}, nil)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := c.Do(req)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNonRetryable))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breakers := NewBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	c := NewClient(HTTPConfig{RatePerHost: 100, Burst: 100}, breakers)

	for i := 0; i < 2; i++ {
		_, err := c.PostJSON(context.Background(), srv.URL, map[string]any{})
		assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
	}

	_, err := c.PostJSON(context.Background(), srv.URL, map[string]any{})
	fe, ok := schema.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCircuitOpen, fe.Code)
	assert.True(t, fe.IsRetryable())
}

func TestClient_TransportErrorHidesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(HTTPConfig{RatePerHost: 100, Burst: 100}, nil)
	_, err := c.PostJSON(context.Background(), url+"/bot123:SECRET/sendMessage", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestClient_CanceledContextIsNotWrapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(HTTPConfig{RatePerHost: 0.001, Burst: 1}, nil)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	_, err := c.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_OversizedHalfOpenResponseClosesCircuit(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	breakers := NewBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	breakers.now = func() time.Time { return now }
	c := NewClient(HTTPConfig{MaxResponseBody: 16, RatePerHost: 100, Burst: 100}, breakers)

	get := func() error {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		_, err := c.Do(req)
		return err
	}

	_ = get()
	host := strings.TrimPrefix(srv.URL, "http://")
	require.Equal(t, CircuitOpen, breakers.State(host))

	failing.Store(false)
	now = now.Add(2 * time.Second)
	err := get()
	assert.True(t, schema.HasCode(err, schema.ErrCodeNonRetryable))
	assert.Equal(t, CircuitClosed, breakers.State(host))

	// later calls reach the host instead of failing with CIRCUIT_OPEN
	now = now.Add(time.Hour)
	err = get()
	assert.False(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
	assert.True(t, schema.HasCode(err, schema.ErrCodeNonRetryable))
}
