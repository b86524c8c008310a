package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/internal/service"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/memory"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.App) {
	t.Helper()
	testutil.UseTestLogger(t)

	cfg := config.Default()
	cfg.Engine.StoreSave.InitialDelay = time.Millisecond
	cfg.Engine.StoreSave.MaxDelay = time.Millisecond
	cfg.Connectors = []models.ConnectorDescriptor{{
		ID:         "crm",
		Name:       "CRM",
		Family:     memory.Family,
		Active:     true,
		Categories: []string{"contacts"},
		Options:    map[string]string{"seed_records": "5"},
	}}

	app, err := service.Build(context.Background(), cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(app.Service, WithMetrics("/metrics")))
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close()
	})
	return srv, app
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestConnectorRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	created := do(t, http.MethodPost, srv.URL+"/api/v1/connectors", models.ConnectorDescriptor{
		ID:         "billing",
		Name:       "Billing",
		Family:     memory.Family,
		Categories: []string{"invoices"},
	})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	var all connectorList
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/connectors", nil), &all)
	assert.Len(t, all.Connectors, 2)
	assert.Equal(t, []string{"kafka", "memory", "rest"}, all.Families)

	var active connectorList
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/connectors?active=true", nil), &active)
	require.Len(t, active.Connectors, 1)
	assert.Equal(t, "crm", active.Connectors[0].ID)

	missing := do(t, http.MethodGet, srv.URL+"/api/v1/connectors/ghost", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	var body errorResponse
	decodeBody(t, missing, &body)
	assert.Equal(t, "not_found", body.Type)

	bad := do(t, http.MethodGet, srv.URL+"/api/v1/connectors?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestSyncLifecycle(t *testing.T) {
	srv, app := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/jobs", models.SyncRequest{
		ConnectorID: "crm",
		Mode:        models.SyncModeFull,
		Categories:  []string{"contacts"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started service.StartResult
	decodeBody(t, resp, &started)
	require.NotNil(t, started.Job)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := app.Engine.Wait(ctx, started.Job.ID)
	require.NoError(t, err)

	var job models.SyncJob
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+started.Job.ID, nil), &job)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(5), job.RecordsProcessed)

	var list jobList
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/jobs?connector_id=crm&status=completed,partial&limit=10", nil), &list)
	require.Len(t, list.Jobs, 1)

	var cancelled map[string]bool
	decodeBody(t, do(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+started.Job.ID+"/cancel", nil), &cancelled)
	assert.False(t, cancelled["cancelled"])

	var summary map[string]interface{}
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/stats/summary?period=week", nil), &summary)
	assert.EqualValues(t, 1, summary["jobs"])
	assert.EqualValues(t, 5, summary["records_processed"])
}

func TestStartSyncErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"unknown connector", models.SyncRequest{ConnectorID: "ghost", Mode: models.SyncModeFull, Categories: []string{"contacts"}}, http.StatusBadRequest},
		{"unsupported category", models.SyncRequest{ConnectorID: "crm", Mode: models.SyncModeFull, Categories: []string{"tickets"}}, http.StatusBadRequest},
		{"unknown field", map[string]string{"connector": "crm"}, http.StatusBadRequest},
		{"bad recurrence", models.SyncRequest{ConnectorID: "crm", Mode: models.SyncModeFull, Categories: []string{"contacts"}, Recurrence: "every tuesday"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/v1/jobs", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestScheduleRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/schedules", models.ScheduleDefinition{
		ID:          "hourly-contacts",
		ConnectorID: "crm",
		Categories:  []string{"contacts"},
		Frequency:   models.FrequencyHourly,
		Enabled:     true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var disabled models.ScheduleDefinition
	decodeBody(t, do(t, http.MethodPost, srv.URL+"/api/v1/schedules/hourly-contacts/disable", nil), &disabled)
	assert.False(t, disabled.Enabled)

	var list scheduleList
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/schedules", nil), &list)
	require.Len(t, list.Schedules, 1)
	assert.False(t, list.Schedules[0].Enabled)

	missing := do(t, http.MethodGet, srv.URL+"/api/v1/schedules/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSummaryEmptyWindow(t *testing.T) {
	srv, _ := newTestServer(t)

	var summary map[string]interface{}
	decodeBody(t, do(t, http.MethodGet, srv.URL+"/api/v1/stats/summary?period=day", nil), &summary)
	assert.EqualValues(t, 0, summary["jobs"])
	assert.EqualValues(t, 0, summary["success_rate"])

	distinct := do(t, http.MethodGet, srv.URL+"/api/v1/stats/summary?period=day&distinguish_empty=true", nil)
	assert.Equal(t, http.StatusNoContent, distinct.StatusCode)

	bad := do(t, http.MethodGet, srv.URL+"/api/v1/stats/summary?period=decade", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRawCallAndArchive(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/connectors/crm/raw", rawRequest{
		Endpoint: models.CustomEndpointDefinition{URL: "/v1/contacts/merge", Method: "POST", RequiredFields: []string{"winner"}},
		Payload:  map[string]interface{}{"winner": "c-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	decodeBody(t, resp, &out)
	assert.Equal(t, "c-1", out["winner"])

	archive := do(t, http.MethodPost, srv.URL+"/api/v1/archive?period=day", nil)
	assert.Equal(t, http.StatusInternalServerError, archive.StatusCode)
}

func TestConnectionRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/connectors/crm/test", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res map[string]interface{}
	decodeBody(t, resp, &res)
	assert.Equal(t, true, res["ok"])
}
