package polling

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/model"
	"github.com/polarityio/dataminr-pulse-limited/resilience"
)

// pageResponse mirrors GET /v1/alerts's {alerts[], nextPage?,
// previousPage?} shape. nextPage/previousPage are full URL strings;
// the resumable cursor is extracted from their from/to query params.
type pageResponse struct {
	Alerts       []model.Alert `json:"alerts"`
	NextPage     *string       `json:"nextPage"`
	PreviousPage *string       `json:"previousPage"`
}

// runAlertsCycle drives one Idle→Fetching→Idle cycle: resumes from
// PollingState.LastCursor, pages up to MaxPages, stops early when a
// page returns fewer than the requested size, and paces itself between
// pages to avoid rate-limit pressure.
func (e *Engine) runAlertsCycle(ctx context.Context) {
	if !e.alertsBusy.CompareAndSwap(false, true) {
		return
	}
	defer e.alertsBusy.Store(false)

	if e.cfg.Mode == IngestHMACZip {
		e.runBulkCycle(ctx)
		return
	}

	e.stateMu.Lock()
	cursor := e.state.LastCursor
	e.stateMu.Unlock()

	pageSize := e.cfg.DefaultPageSize
	totalThisCycle := 0

	for page := 0; page < e.cfg.MaxPages; page++ {
		query := url.Values{}
		query.Set("pageSize", strconv.Itoa(pageSize))
		if cursor != "" {
			query.Set("from", cursor)
		}
		if len(e.cfg.ListIDs) > 0 {
			query.Set("lists", strings.Join(e.cfg.ListIDs, ","))
		}

		var parsed pageResponse
		var lastRawErr error
		retryErr := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			resp, err := e.gw.Request(ctx, "/v1/alerts", http.MethodGet, query, nil)
			if err != nil {
				lastRawErr = err
				return err
			}
			lastRawErr = nil
			return json.Unmarshal(resp.Body, &parsed)
		})

		if retryErr != nil {
			if errors.Is(lastRawErr, core.ErrRateLimited) {
				e.log.Warn("alerts poll cycle aborted by rate limit, resuming next tick", map[string]interface{}{"cursor": cursor})
			} else {
				e.log.Error("alerts poll cycle failed", map[string]interface{}{"page": page, "error": retryErr.Error()})
			}
			e.persistCycleState(cursor, totalThisCycle)
			return
		}

		added, _ := e.store.Add(parsed.Alerts)
		totalThisCycle += added

		nextCursor, hasNext := extractCursor(parsed.NextPage)
		gotFullPage := len(parsed.Alerts) >= pageSize
		if !hasNext || !gotFullPage {
			cursor = coalesce(nextCursor, cursor)
			break
		}
		cursor = nextCursor

		if page < e.cfg.MaxPages-1 {
			pace(ctx)
		}
	}

	e.persistCycleState(cursor, totalThisCycle)
}

func (e *Engine) persistCycleState(cursor string, addedThisCycle int) {
	e.stateMu.Lock()
	e.state.LastPollTime = time.Now().UnixMilli()
	e.state.LastCursor = cursor
	e.state.AlertCount = addedThisCycle
	e.state.TotalAlertsProcessed += int64(addedThisCycle)
	e.stateMu.Unlock()
}

// extractCursor pulls the resumable "from" (falling back to "to")
// query parameter out of a vendor-supplied nextPage URL.
func extractCursor(nextPage *string) (string, bool) {
	if nextPage == nil || *nextPage == "" {
		return "", false
	}
	parsed, err := url.Parse(*nextPage)
	if err != nil {
		return "", false
	}
	q := parsed.Query()
	if v := q.Get("from"); v != "" {
		return v, true
	}
	if v := q.Get("to"); v != "" {
		return v, true
	}
	return "", false
}

func coalesce(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// pace sleeps 200-500ms between pages, context-aware, to avoid
// rate-limit pressure from back-to-back page requests.
func pace(ctx context.Context) {
	d := 200*time.Millisecond + time.Duration(rand.Intn(300))*time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
