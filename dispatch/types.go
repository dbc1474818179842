package dispatch

import (
	"github.com/polarityio/dataminr-pulse-limited/lookup"
	"github.com/polarityio/dataminr-pulse-limited/model"
)

// ActionRequest is the tagged-union inbound payload: one of five
// actions, each with its own subset of optional fields populated.
type ActionRequest struct {
	Action string `json:"action"`

	// lookup
	Entities []lookup.Entity `json:"entities,omitempty"`

	// getAlerts
	SinceTimestamp *int64 `json:"sinceTimestamp,omitempty"`
	Count          *int   `json:"count,omitempty"`

	// getAlertById, renderAlertDetail
	AlertID  string `json:"alertId,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// renderAlertNotification
	Name string `json:"name,omitempty"`

	// credentials carried alongside the action, used only to trigger
	// the lazy polling bootstrap — never persisted by the dispatcher.
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// GetAlertsResponse answers the getAlerts action.
type GetAlertsResponse struct {
	Alerts             []model.Alert `json:"alerts"`
	Count              int           `json:"count"`
	LastAlertTimestamp *int64        `json:"lastAlertTimestamp"`
}

// GetAlertByIDResponse answers the getAlertById action. Message is set
// only on a normalized not-found outcome.
type GetAlertByIDResponse struct {
	Alert   *model.Alert `json:"alert"`
	Message string       `json:"message,omitempty"`
}

// RenderResponse answers renderAlertDetail/renderAlertNotification.
type RenderResponse struct {
	HTML string `json:"html"`
}

// ErrorResponse is what a dispatch error marshals to at an HTTP
// boundary: a short human string, an optional machine-readable error
// string, and the upstream HTTP status when one applies.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Err    string `json:"err,omitempty"`
	Status int    `json:"status,omitempty"`
}
