package polling

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/polarityio/dataminr-pulse-limited/model"
)

// listsResponse mirrors GET /v1/lists's {lists: {CATEGORY: [...]}}
// shape; categories are discarded, entries are flattened into one
// sequence.
type listsResponse struct {
	Lists map[string][]listEntry `json:"lists"`
}

type listEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// runListsCycle refreshes the store's lists catalog. On failure it
// logs and leaves the previous catalog intact — store.SetLists already
// refuses to clear to empty, so a genuinely empty refresh is also a
// no-op.
func (e *Engine) runListsCycle(ctx context.Context) {
	if !e.listsBusy.CompareAndSwap(false, true) {
		return
	}
	defer e.listsBusy.Store(false)

	resp, err := e.gw.Request(ctx, "/v1/lists", http.MethodGet, nil, nil)
	if err != nil {
		e.log.Warn("lists poll failed, keeping previous catalog", map[string]interface{}{"error": err.Error()})
		return
	}

	var parsed listsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		e.log.Warn("lists poll response malformed, keeping previous catalog", map[string]interface{}{"error": err.Error()})
		return
	}

	flattened := make([]model.List, 0)
	for _, entries := range parsed.Lists {
		for _, entry := range entries {
			flattened = append(flattened, model.List{ID: entry.ID, Name: entry.Name})
		}
	}

	e.store.SetLists(flattened)
}
