// Package dispatch implements the request-handling surface (C4): a
// closed five-action protocol served from the store with selective
// on-demand vendor fallback, the memoized type-filter factory, and the
// lazy polling bootstrap on first credentialed request.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/gateway"
	"github.com/polarityio/dataminr-pulse-limited/lookup"
	"github.com/polarityio/dataminr-pulse-limited/model"
	"github.com/polarityio/dataminr-pulse-limited/render"
	"github.com/polarityio/dataminr-pulse-limited/store"
)

// ErrMissingAction surfaces exactly the message spec.md §4.4 specifies
// for an empty action; an unknown action gets its own inline error
// naming the offending action instead of a shared sentinel.
var ErrMissingAction = errors.New("Missing action in payload")

// poller is the subset of supervisor.Supervisor the dispatcher needs;
// kept as an interface so dispatch doesn't import supervisor (which
// imports polling, which is already wired through gw/store here) and
// so tests can substitute a fake.
type poller interface {
	EnsurePolling(ctx context.Context, clientID, clientSecret string)
}

// Config carries the dispatcher's read-time filters and feature flags.
type Config struct {
	ListIDs     []string
	AlertTypes  []string
	MaxPageSize int
	TrialMode   bool
	Timezone    string
}

// Dispatcher routes the five actions against Store, falling back to
// Gateway on cache miss, and delegates rendering to Renderer.
type Dispatcher struct {
	gw       *gateway.Gateway
	st       *store.Store
	sup      poller
	renderer render.Renderer
	cfg      Config
	logger   core.Logger

	filters *typeFilterFactory
}

// New builds a Dispatcher. renderer may be render.NullRenderer{} when
// no host renderer is wired in.
func New(gw *gateway.Gateway, st *store.Store, sup poller, renderer render.Renderer, cfg Config, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if renderer == nil {
		renderer = render.NullRenderer{}
	}
	return &Dispatcher{
		gw:       gw,
		st:       st,
		sup:      sup,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
		filters:  newTypeFilterFactory(),
	}
}

// Handle dispatches req on the closed action set, returning the
// action's typed response or an error. Credentials carried on req
// trigger the lazy polling bootstrap, fire-and-forget, before the
// action itself runs.
func (d *Dispatcher) Handle(ctx context.Context, req ActionRequest) (interface{}, error) {
	if d.sup != nil {
		d.sup.EnsurePolling(ctx, req.ClientID, req.ClientSecret)
	}

	switch req.Action {
	case "":
		return nil, ErrMissingAction
	case "lookup":
		return d.handleLookup(ctx, req)
	case "getAlerts":
		return d.handleGetAlerts(ctx, req)
	case "getAlertById":
		return d.handleGetAlertByID(ctx, req)
	case "renderAlertDetail":
		return d.handleRenderAlertDetail(ctx, req)
	case "renderAlertNotification":
		return d.handleRenderAlertNotification(ctx, req)
	default:
		return nil, fmt.Errorf("Unknown action: %s", req.Action)
	}
}

func (d *Dispatcher) handleLookup(ctx context.Context, req ActionRequest) (interface{}, error) {
	results := lookup.Lookup(ctx, d.gw, d.st, req.Entities, d.cfg.MaxPageSize, d.cfg.TrialMode)
	return results, nil
}

func (d *Dispatcher) handleGetAlerts(ctx context.Context, req ActionRequest) (interface{}, error) {
	typeSet := d.filters.Get(d.cfg.AlertTypes)
	types := setKeys(typeSet)

	var alerts []model.Alert
	if req.Count != nil {
		// count takes precedence over sinceTimestamp: don't filter by
		// timestamp when count is requested.
		alerts = d.st.GetAll(nil, d.cfg.ListIDs, types)
		if len(alerts) < *req.Count {
			if fetched, err := d.fetchPage(ctx, *req.Count); err == nil {
				d.st.Add(fetched)
				alerts = d.st.GetAll(nil, d.cfg.ListIDs, types)
			}
		}
		if len(alerts) > *req.Count {
			alerts = alerts[:*req.Count]
		}
	} else {
		alerts = d.st.GetAll(req.SinceTimestamp, d.cfg.ListIDs, types)
	}

	resp := GetAlertsResponse{Alerts: alerts, Count: len(alerts)}
	if len(alerts) > 0 {
		ts := alerts[0].AlertTimestamp
		resp.LastAlertTimestamp = &ts
	}
	return resp, nil
}

func (d *Dispatcher) fetchPage(ctx context.Context, count int) ([]model.Alert, error) {
	query := url.Values{}
	query.Set("pageSize", fmt.Sprintf("%d", count))
	resp, err := d.gw.Request(ctx, "/v1/alerts", http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Alerts []model.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Alerts, nil
}

func (d *Dispatcher) handleGetAlertByID(ctx context.Context, req ActionRequest) (interface{}, error) {
	alert, err := d.resolveAlert(ctx, req.AlertID)
	if err != nil {
		if core.IsNotFound(err) {
			return GetAlertByIDResponse{Alert: nil, Message: "Alert not found"}, nil
		}
		return nil, err
	}
	return GetAlertByIDResponse{Alert: alert}, nil
}

// resolveAlert is the shared store-hit-then-vendor-fallback path used
// by both getAlertById and renderAlertDetail.
func (d *Dispatcher) resolveAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	if a, ok := d.st.GetByID(alertID); ok {
		return &a, nil
	}

	query := url.Values{}
	if len(d.cfg.ListIDs) > 0 {
		query.Set("lists", strings.Join(d.cfg.ListIDs, ","))
	}
	resp, err := d.gw.Request(ctx, "/v1/alerts/"+alertID, http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	return parseAlertResponse(resp.Body)
}

// parseAlertResponse tolerates both vendor shapes for a single-alert
// fetch: {alerts:[alert]} or a bare alert object.
func parseAlertResponse(body []byte) (*model.Alert, error) {
	var wrapped struct {
		Alerts []model.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Alerts) > 0 {
		return &wrapped.Alerts[0], nil
	}

	var bare model.Alert
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, err
	}
	if bare.AlertID == "" {
		return nil, core.NewOpError("dispatch.getAlertById", "notfound", core.ErrNotFound)
	}
	return &bare, nil
}

func (d *Dispatcher) handleRenderAlertDetail(ctx context.Context, req ActionRequest) (interface{}, error) {
	alert, err := d.resolveAlert(ctx, req.AlertID)
	if err != nil {
		if core.IsNotFound(err) {
			return RenderResponse{HTML: ""}, nil
		}
		return nil, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = d.cfg.Timezone
	}
	html, err := d.renderer.RenderDetail(ctx, render.AlertDetailView{Alert: *alert, Timezone: tz})
	if err != nil {
		return nil, err
	}
	return RenderResponse{HTML: html}, nil
}

func (d *Dispatcher) handleRenderAlertNotification(ctx context.Context, req ActionRequest) (interface{}, error) {
	html, err := d.renderer.RenderNotification(ctx, render.NotificationView{Name: req.Name})
	if err != nil {
		return nil, err
	}
	return RenderResponse{HTML: html}, nil
}

func setKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// ToErrorResponse converts a Handle error into the wire-level
// {detail, err, status} shape spec.md §6 describes.
func ToErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Detail: err.Error(), Err: err.Error()}
	switch {
	case core.IsConfigurationError(err):
		resp.Status = http.StatusUnauthorized
	case errors.Is(err, core.ErrQueueFull), errors.Is(err, core.ErrQueueTimeout):
		resp.Status = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRateLimited):
		resp.Status = http.StatusTooManyRequests
	case core.IsNotFound(err):
		resp.Status = http.StatusNotFound
	default:
		resp.Status = http.StatusInternalServerError
	}
	return resp
}
