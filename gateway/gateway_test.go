package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return srv, srv.Close
}

func tokenHandler(token string, expireInMs int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"dmaToken": token,
			"expire":   time.Now().Add(time.Duration(expireInMs) * time.Millisecond).UnixMilli(),
		})
	}
}

func TestRequest_AuthenticatesAndSucceeds(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok-1", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	resp, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, url.Values{"pageSize": {"10"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequest_SingleRetryOn401ThenSuccess(t *testing.T) {
	var tokenCalls, alertCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenCalls, 1)
		tokenHandler("tok-"+strconv.Itoa(int(n)), 60000)(w, r)
	})
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&alertCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	resp, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&alertCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls), "one initial auth plus one refresh")
}

func TestRequest_TwoConsecutive401sSurfaceConfigError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	_, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestRequest_RateLimitRetryHonorsResetHeader(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("X-RateLimit-Reset", "300")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	start := time.Now()
	resp, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(300))
}

func TestRequest_NotFoundNormalized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	_, err := gw.Request(context.Background(), "/v1/alerts/missing", http.MethodGet, nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestParallelRequests_IndividualFailuresDontAbortFanOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		if q == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})

	reqs := []ParallelRequest{
		{ResultID: "good", Route: "/v1/alerts", Method: http.MethodGet, Query: url.Values{"query": {"good"}}},
		{ResultID: "bad", Route: "/v1/alerts", Method: http.MethodGet, Query: url.Values{"query": {"bad"}}},
	}
	results := gw.ParallelRequests(context.Background(), reqs)
	require.Len(t, results, 2)

	byID := map[string]ParallelResult{}
	for _, r := range results {
		byID[r.ResultID] = r
	}
	assert.NoError(t, byID["good"].Err)
	assert.Error(t, byID["bad"].Err)
}

func TestRequest_QueueFullDropsImmediatelyWhenCapacityExhausted(t *testing.T) {
	const capacity = 2

	started := make(chan struct{}, capacity)
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", MaxQueueSize: capacity, Logger: core.NoOpLogger{}})

	var wg sync.WaitGroup
	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
		}()
	}
	for i := 0; i < capacity; i++ {
		<-started
	}

	// Every slot is now held by an in-flight request; the next enqueue
	// must fail immediately rather than wait for one to free up.
	start := time.Now()
	_, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrQueueFull))
	assert.Less(t, elapsed.Milliseconds(), int64(500), "a full queue must be rejected immediately, not after a wait")

	close(release)
	wg.Wait()
}

func TestRequest_RateLimitWaitExceedingQueueTimeoutIsDistinctFromQueueFull(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenHandler("tok", 60000))
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			// Announce a rate-limit window far longer than this
			// gateway's queue timeout, so the second call's wait
			// for the window to reopen exceeds the budget.
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "5000")
		}
		w.Write([]byte(`{"alerts":[]}`))
	})
	srv, closeFn := newTestServer(t, mux.ServeHTTP)
	defer closeFn()

	gw := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", QueueRequestTimeoutMs: 100, Logger: core.NoOpLogger{}})

	_, err := gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	require.NoError(t, err)

	_, err = gw.Request(context.Background(), "/v1/alerts", http.MethodGet, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrQueueTimeout))
	assert.False(t, errors.Is(err, core.ErrQueueFull), "a slow-draining wait must not be reported as a full queue")
}
