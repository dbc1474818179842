// Package model holds the wire-level data shapes shared across the
// gateway, store, polling, dispatch, and lookup packages: the vendor's
// Alert record, its List catalog entries, and polling progress state.
package model

import (
	"encoding/json"
	"strings"
)

// AlertType is the vendor's free-form, case-insensitive alert
// classification (e.g. "Flash", "Urgent").
type AlertType struct {
	Name string `json:"name"`
}

// ListMatch is one entry of an alert's listsMatched array — present
// when the alert was returned by a lists-scoped query, absent
// otherwise (spec.md §9's open question on listsMatched).
type ListMatch struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Alert is the immutable vendor record. The core indexes alertId,
// alertTimestamp, and alertType.name; every other field is an opaque
// payload preserved for the renderer and never interpreted here.
type Alert struct {
	AlertID       string    `json:"alertId"`
	AlertTimestamp int64    `json:"alertTimestamp"`
	AlertType     AlertType `json:"alertType"`
	Headline      string    `json:"headline"`

	// Opaque fields, consumed only by the external renderer.
	PublicPost             json.RawMessage `json:"publicPost,omitempty"`
	LiveBrief              json.RawMessage `json:"liveBrief,omitempty"`
	IntelAgents             json.RawMessage `json:"intelAgents,omitempty"`
	Metadata                json.RawMessage `json:"metadata,omitempty"`
	LinkedAlerts            json.RawMessage `json:"linkedAlerts,omitempty"`
	ListsMatched            []ListMatch     `json:"listsMatched,omitempty"`
	AlertReferenceTerms     json.RawMessage `json:"alertReferenceTerms,omitempty"`
	DataminrAlertURL        string          `json:"dataminrAlertUrl,omitempty"`
	EstimatedEventLocation  json.RawMessage `json:"estimatedEventLocation,omitempty"`
	SubHeadline             string          `json:"subHeadline,omitempty"`
}

// TypeName returns the lowercased alert type, used for admission and
// read-time filtering.
func (a Alert) TypeName() string {
	return strings.ToLower(a.AlertType.Name)
}

// MatchesListID reports whether a appears in any of ids via
// listsMatched. A missing/nil ListsMatched is "no match," never
// "match all" (spec.md §9).
func (a Alert) MatchesListID(ids map[string]struct{}) bool {
	if len(ids) == 0 {
		return true
	}
	for _, m := range a.ListsMatched {
		if _, ok := ids[m.ID]; ok {
			return true
		}
	}
	return false
}

// List is a vendor-side subscription group, cached as-is for UI selection.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PollingState tracks C3's progress; exclusively mutated by the
// polling package, reset on reconfiguration.
type PollingState struct {
	LastPollTime         int64
	LastCursor           string
	LastSince            int64
	AlertCount           int
	TotalAlertsProcessed int64
}
