package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/gateway"
	"github.com/polarityio/dataminr-pulse-limited/polling"
	"github.com/polarityio/dataminr-pulse-limited/store"
)

func testEngine(t *testing.T) *polling.Engine {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"dmaToken":"tok","expire":%d}`, time.Now().Add(time.Hour).UnixMilli())
	})
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"alerts":[]}`))
	})
	mux.HandleFunc("/v1/lists", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lists":{}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gw := gateway.New(gateway.Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})
	st := store.New(100, 0, nil, core.NoOpLogger{})
	return polling.New(gw, st, polling.Config{PollInterval: 30 * time.Second, ListsPollInterval: time.Minute, Logger: core.NoOpLogger{}})
}

func TestEnsurePolling_NoOpWithoutCredentials(t *testing.T) {
	sup := New(testEngine(t))
	sup.EnsurePolling(context.Background(), "", "")
	assert.False(t, sup.Initialized())
}

func TestEnsurePolling_IdempotentUntilShutdown(t *testing.T) {
	sup := New(testEngine(t))
	sup.Startup(core.NoOpLogger{})

	sup.EnsurePolling(context.Background(), "id", "secret")
	require.True(t, sup.Initialized())

	sup.EnsurePolling(context.Background(), "id", "secret")
	assert.True(t, sup.Initialized())

	sup.Shutdown()
	assert.False(t, sup.Initialized())
}

func TestEnsurePolling_SurvivesCallerContextCancellation(t *testing.T) {
	sup := New(testEngine(t))
	sup.Startup(core.NoOpLogger{})

	reqCtx, cancel := context.WithCancel(context.Background())
	sup.EnsurePolling(reqCtx, "id", "secret")
	cancel()

	time.Sleep(50 * time.Millisecond)
	state := sup.engine.State()
	assert.Greater(t, state.LastPollTime, int64(0), "engine must keep polling after the triggering request's context is canceled")

	sup.Shutdown()
}
