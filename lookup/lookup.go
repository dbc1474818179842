// Package lookup implements the indicator-search fan-out (C5): private
// IPv4 exclusion, one parallel vendor query per surviving entity, and
// admission of every result into the shared alert store so a hit warms
// the read path for subsequent renders.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/polarityio/dataminr-pulse-limited/gateway"
	"github.com/polarityio/dataminr-pulse-limited/model"
	"github.com/polarityio/dataminr-pulse-limited/store"
)

// Entity is one indicator submitted for lookup.
type Entity struct {
	Value string   `json:"value"`
	IsIP  bool     `json:"isIP"`
	Types []string `json:"types,omitempty"`
}

// Details carries the alerts (or, in trial mode, just the count) found
// for one entity.
type Details struct {
	Alerts     []model.Alert `json:"alerts"`
	AlertCount int           `json:"alertCount"`
}

// Data is the per-entity payload; nil when no alerts were found.
type Data struct {
	Summary []string `json:"summary"`
	Details Details  `json:"details"`
}

// Result pairs back an entity with its lookup outcome.
type Result struct {
	Entity string `json:"entity"`
	Data   *Data  `json:"data"`
}

type alertsQueryResponse struct {
	Alerts []model.Alert `json:"alerts"`
}

// Lookup runs the C5 fan-out: excludes private IPv4 entities, issues
// one GET /v1/alerts?query=<value>&pageSize=<maxPageSize> per survivor
// via the gateway's parallel fan-out, admits every hit into st, and
// assembles one Result per surviving entity. trialMode suppresses alert
// bodies, surfacing only counts.
func Lookup(ctx context.Context, gw *gateway.Gateway, st *store.Store, entities []Entity, maxPageSize int, trialMode bool) []Result {
	survivors := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.IsIP && isPrivateIPv4(e.Value) {
			continue
		}
		survivors = append(survivors, e)
	}

	if len(survivors) == 0 {
		return []Result{}
	}

	reqs := make([]gateway.ParallelRequest, len(survivors))
	for i, e := range survivors {
		query := url.Values{}
		query.Set("query", e.Value)
		query.Set("pageSize", fmt.Sprintf("%d", maxPageSize))
		reqs[i] = gateway.ParallelRequest{
			ResultID: e.Value,
			Route:    "/v1/alerts",
			Method:   http.MethodGet,
			Query:    query,
		}
	}

	parallelResults := gw.ParallelRequests(ctx, reqs)

	alertsByEntity := make(map[string][]model.Alert, len(survivors))
	var allAlerts []model.Alert
	for _, pr := range parallelResults {
		if pr.Err != nil || pr.Result == nil {
			continue
		}
		var parsed alertsQueryResponse
		if err := json.Unmarshal(pr.Result.Body, &parsed); err != nil {
			continue
		}
		alertsByEntity[pr.ResultID] = parsed.Alerts
		allAlerts = append(allAlerts, parsed.Alerts...)
	}

	if len(allAlerts) > 0 {
		st.Add(allAlerts)
	}

	results := make([]Result, 0, len(survivors))
	for _, e := range survivors {
		alerts := alertsByEntity[e.Value]
		n := len(alerts)

		if n == 0 {
			results = append(results, Result{Entity: e.Value, Data: nil})
			continue
		}

		suffix := ""
		if n == maxPageSize {
			suffix = "+"
		}
		summary := []string{fmt.Sprintf("Alerts: %d%s", n, suffix)}

		details := Details{AlertCount: n}
		if !trialMode {
			details.Alerts = alerts
		} else {
			details.Alerts = []model.Alert{}
		}

		results = append(results, Result{
			Entity: e.Value,
			Data:   &Data{Summary: summary, Details: details},
		})
	}

	return results
}
