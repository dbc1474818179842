package dispatch

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
	"github.com/polarityio/dataminr-pulse-limited/model"
	"github.com/polarityio/dataminr-pulse-limited/render"
	"github.com/polarityio/dataminr-pulse-limited/store"
)

func testAlert(id string, ts int64) model.Alert {
	return model.Alert{AlertID: id, AlertTimestamp: ts, AlertType: model.AlertType{Name: "flash"}}
}

type fakePoller struct {
	calls int
}

func (f *fakePoller) EnsurePolling(ctx context.Context, clientID, clientSecret string) {
	f.calls++
}

func testGateway(t *testing.T, handler http.HandlerFunc) (*gateway.Gateway, func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"dmaToken":"tok","expire":%d}`, time.Now().Add(time.Hour).UnixMilli())
	})
	mux.HandleFunc("/v1/alerts", handler)
	mux.HandleFunc("/v1/alerts/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/alerts/Y", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"alertId":"Y","alertTimestamp":1700000000000,"alertType":{"name":"flash"},"headline":"From Vendor"}`))
	})
	srv := httptest.NewServer(mux)
	gw := gateway.New(gateway.Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Logger: core.NoOpLogger{}})
	return gw, srv.Close
}

func TestHandle_MissingAction(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	_, err := d.Handle(context.Background(), ActionRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrMissingAction, err)
}

func TestHandle_UnknownAction(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	_, err := d.Handle(context.Background(), ActionRequest{Action: "frobnicate"})
	require.Error(t, err)
	assert.Equal(t, "Unknown action: frobnicate", err.Error())
}

func TestHandle_GetAlerts_SinceTimestampFilter(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	st.Add([]model.Alert{testAlert("A", 100), testAlert("B", 200)})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	since := int64(150)
	resp, err := d.Handle(context.Background(), ActionRequest{Action: "getAlerts", SinceTimestamp: &since})
	require.NoError(t, err)
	out := resp.(GetAlertsResponse)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "B", out.Alerts[0].AlertID)
}

func TestHandle_GetAlerts_CountFallsBackToVendor(t *testing.T) {
	var vendorCalls int
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		vendorCalls++
		assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
		w.Write([]byte(`{"alerts":[{"alertId":"C","alertTimestamp":300,"alertType":{"name":"flash"}},{"alertId":"D","alertTimestamp":400,"alertType":{"name":"flash"}}]}`))
	})
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	st.Add([]model.Alert{testAlert("A", 100), testAlert("B", 200)})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	count := 5
	resp, err := d.Handle(context.Background(), ActionRequest{Action: "getAlerts", Count: &count})
	require.NoError(t, err)
	out := resp.(GetAlertsResponse)
	assert.Equal(t, 1, vendorCalls)
	assert.LessOrEqual(t, len(out.Alerts), 5)
	assert.Equal(t, len(out.Alerts), out.Count)
	require.NotNil(t, out.LastAlertTimestamp)
}

func TestHandle_GetAlertByID_StoreHit(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	st.Add([]model.Alert{testAlert("X", 500)})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	resp, err := d.Handle(context.Background(), ActionRequest{Action: "getAlertById", AlertID: "X"})
	require.NoError(t, err)
	out := resp.(GetAlertByIDResponse)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "X", out.Alert.AlertID)
}

func TestHandle_GetAlertByID_VendorFallbackBareObject(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	resp, err := d.Handle(context.Background(), ActionRequest{Action: "getAlertById", AlertID: "Y"})
	require.NoError(t, err)
	out := resp.(GetAlertByIDResponse)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "From Vendor", out.Alert.Headline)
}

func TestHandle_GetAlertByID_NotFoundNormalized(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	resp, err := d.Handle(context.Background(), ActionRequest{Action: "getAlertById", AlertID: "missing"})
	require.NoError(t, err)
	out := resp.(GetAlertByIDResponse)
	assert.Nil(t, out.Alert)
	assert.Equal(t, "Alert not found", out.Message)
}

func TestHandle_RenderAlertDetail_MissingAlertReturnsEmptyHTML(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})

	d := New(gw, st, &fakePoller{}, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	resp, err := d.Handle(context.Background(), ActionRequest{Action: "renderAlertDetail", AlertID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, RenderResponse{HTML: ""}, resp)
}

func TestHandle_TriggersLazyPollingBootstrap(t *testing.T) {
	gw, closeFn := testGateway(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"alerts":[]}`)) })
	defer closeFn()
	st := store.New(100, 0, nil, core.NoOpLogger{})
	fp := &fakePoller{}
	d := New(gw, st, fp, render.NullRenderer{}, Config{}, core.NoOpLogger{})

	_, _ = d.Handle(context.Background(), ActionRequest{Action: "getAlerts", ClientID: "id", ClientSecret: "secret"})
	assert.Equal(t, 1, fp.calls)
}

func TestTypeFilterFactory_MemoizesCaseInsensitiveEquivalentSets(t *testing.T) {
	f := newTypeFilterFactory()
	a := f.Get([]string{"Flash", "Urgent"})
	b := f.Get([]string{"urgent", "flash"})

	aPtr := fmt.Sprintf("%p", a)
	bPtr := fmt.Sprintf("%p", b)
	assert.Equal(t, aPtr, bPtr, "equivalent type sets must share the same underlying map instance")
}
