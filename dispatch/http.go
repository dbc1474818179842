package dispatch

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// HTTPHandler exposes a Dispatcher over HTTP for hosts that prefer an
// HTTP boundary over an in-process call: POST a JSON ActionRequest
// body, receive the action's typed JSON response or an ErrorResponse.
type HTTPHandler struct {
	dispatcher *Dispatcher
	logger     core.Logger
}

// NewHTTPHandler wraps d with CORS (disabled by default — the host is
// assumed to have already handled cross-origin concerns) and panic
// recovery, the way the teacher's BaseAgent builds capability
// endpoints.
func NewHTTPHandler(d *Dispatcher, cors *core.CORSConfig, logger core.Logger) http.Handler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cors == nil {
		cors = core.DefaultCORSConfig()
	}
	h := &HTTPHandler{dispatcher: d, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch", h.serveDispatch)

	return core.CORSMiddleware(cors)(RecoveryMiddleware(logger)(mux))
}

func (h *HTTPHandler) serveDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrorResponse{Detail: "invalid request body", Err: err.Error(), Status: http.StatusBadRequest})
		return
	}

	resp, err := h.dispatcher.Handle(r.Context(), req)
	if err != nil {
		writeError(w, ToErrorResponse(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, errResp ErrorResponse) {
	status := errResp.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errResp)
}

// RecoveryMiddleware recovers a panicking handler, logs the stack, and
// returns a 500 instead of crashing the process — modeled on the
// teacher's worker-pool panic recovery.
func RecoveryMiddleware(logger core.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorWithContext(r.Context(), "handler panicked", map[string]interface{}{
						"panic": rec,
						"stack": string(debug.Stack()),
					})
					writeError(w, ErrorResponse{Detail: "internal error", Status: http.StatusInternalServerError})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
