// Package render defines the typed seam between the dispatcher and the
// external HTML renderer. The renderer itself is out of scope — a host
// wires in the real implementation; NullRenderer keeps this module
// runnable standalone.
package render

import (
	"context"

	"github.com/polarityio/dataminr-pulse-limited/model"
)

// AlertDetailView is the data record handed to RenderDetail — an
// already-resolved alert plus the render-time timezone hint.
type AlertDetailView struct {
	Alert    model.Alert
	Timezone string
}

// NotificationView is the data record handed to RenderNotification —
// a pure, alert-independent render keyed by name.
type NotificationView struct {
	Name string
}

// Renderer produces HTML for a resolved alert detail or a named
// notification. The dispatcher never inspects the returned HTML.
type Renderer interface {
	RenderDetail(ctx context.Context, view AlertDetailView) (string, error)
	RenderNotification(ctx context.Context, view NotificationView) (string, error)
}

// NullRenderer returns an empty string for every call — the default
// when no host renderer is wired in, grounded in the null-object style
// of core.NoOpLogger.
type NullRenderer struct{}

func (NullRenderer) RenderDetail(context.Context, AlertDetailView) (string, error) {
	return "", nil
}

func (NullRenderer) RenderNotification(context.Context, NotificationView) (string, error) {
	return "", nil
}

var _ Renderer = NullRenderer{}
