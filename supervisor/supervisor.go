// Package supervisor owns process lifecycle (C6): installing the
// logger at startup, lazily bootstrapping the polling engine on the
// first credentialed request, and tearing both timers down on
// shutdown.
package supervisor

import (
	"context"
	"sync"

	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/polling"
)

// Supervisor is the sole owner of the polling-initialized flag;
// polling.Engine itself has no opinion about idempotency.
type Supervisor struct {
	engine *polling.Engine
	logger core.Logger

	mu          sync.Mutex
	initialized bool
	cancel      context.CancelFunc
}

// New builds a Supervisor around an already-constructed Engine.
func New(engine *polling.Engine) *Supervisor {
	return &Supervisor{engine: engine, logger: core.NoOpLogger{}}
}

// Startup installs the logger and logs a startup marker. It does not
// start polling — credentials arrive with the first request.
func (s *Supervisor) Startup(logger core.Logger) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
	logger.Info("supervisor started", map[string]interface{}{})
}

// EnsurePolling is the lazy bootstrap invoked by the dispatcher on
// every dispatched request. It is a no-op once polling has already
// been initialized, and a no-op until both credentials are present.
// The incoming ctx is only a trigger, never the engine's lifetime —
// the engine runs under its own supervisor-owned context, derived from
// context.Background() and canceled only by Shutdown, so a canceled
// per-request context (an HTTP handler's r.Context(), canceled the
// moment that request returns) can't tear down every future poll
// cycle. The actual engine start runs in its own goroutine — the
// dispatcher calls this fire-and-forget and must not block the
// inbound request on the first poll cycle.
func (s *Supervisor) EnsurePolling(ctx context.Context, clientID, clientSecret string) {
	if clientID == "" || clientSecret == "" {
		return
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	logger := s.logger
	engineCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	logger.Info("bootstrapping polling engine", map[string]interface{}{})
	go s.engine.Start(engineCtx)
}

// Shutdown cancels both polling timers and clears the initialized
// flag; the next EnsurePolling call re-bootstraps from scratch.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	initialized := s.initialized
	cancel := s.cancel
	s.initialized = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if initialized {
		s.engine.Stop()
	}
}

// Initialized reports whether polling has been bootstrapped.
func (s *Supervisor) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
