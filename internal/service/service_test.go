package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/internal/stats"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/memory"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
	"github.com/ajitpratap0/orbit/pkg/testutil"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.StoreSave.InitialDelay = time.Millisecond
	cfg.Engine.StoreSave.MaxDelay = time.Millisecond
	cfg.Connectors = []models.ConnectorDescriptor{{
		ID:         "crm",
		Name:       "CRM",
		Family:     memory.Family,
		Active:     true,
		Categories: []string{"contacts", "deals"},
		Options:    map[string]string{"seed_records": "7"},
	}}
	cfg.Schedules = []models.ScheduleDefinition{{
		ID:          "nightly",
		ConnectorID: "crm",
		Categories:  []string{"deals"},
		Frequency:   models.FrequencyDaily,
		TimeOfDay:   "02:00",
		Enabled:     true,
	}}
	return cfg
}

func build(t *testing.T) *App {
	t.Helper()
	testutil.UseTestLogger(t)
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func wait(t *testing.T, app *App, jobID string) *models.SyncJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := app.Engine.Wait(ctx, jobID)
	require.NoError(t, err)
	return job
}

func TestBuildRegistersConfiguredState(t *testing.T) {
	app := build(t)
	ctx := context.Background()

	d, err := app.Service.GetConnector(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, "CRM", d.Name)
	assert.Equal(t, []string{"kafka", "memory", "rest"}, app.Service.Families())

	schedules, err := app.Service.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "nightly", schedules[0].ID)
	assert.True(t, schedules[0].NextRunAt.After(time.Now()))
}

func TestStartSyncRunsToCompletion(t *testing.T) {
	app := build(t)
	ctx := context.Background()

	res, err := app.Service.StartSync(ctx, models.SyncRequest{
		ConnectorID: "crm",
		Mode:        models.SyncModeFull,
		Categories:  []string{"contacts", "deals"},
		BatchSize:   3,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Schedule)

	job := wait(t, app, res.Job.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(14), job.RecordsProcessed)

	got, err := app.Service.GetJobStatus(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.RecordsProcessed, got.RecordsProcessed)

	summary, err := app.Service.GetSummary(ctx, models.PeriodDay, stats.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Jobs)
	assert.Equal(t, map[string]int64{"contacts": 7, "deals": 7}, summary.Categories)
}

func TestStartSyncWithRecurrenceSchedules(t *testing.T) {
	app := build(t)
	ctx := context.Background()

	res, err := app.Service.StartSync(ctx, models.SyncRequest{
		ConnectorID: "crm",
		Mode:        models.SyncModeIncremental,
		Categories:  []string{"contacts"},
		Recurrence:  "30 6 * * 1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Schedule)
	assert.Equal(t, models.FrequencyWeekly, res.Schedule.Frequency)
	assert.Equal(t, "06:30", res.Schedule.TimeOfDay)
	assert.Equal(t, []string{"contacts"}, res.Schedule.Categories)
	wait(t, app, res.Job.ID)

	schedules, err := app.Service.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, schedules, 2)
}

func TestStartSyncRejectsBadRecurrenceBeforeStarting(t *testing.T) {
	app := build(t)

	_, err := app.Service.StartSync(context.Background(), models.SyncRequest{
		ConnectorID: "crm",
		Mode:        models.SyncModeFull,
		Categories:  []string{"contacts"},
		Recurrence:  "*/5 * * * *",
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Empty(t, app.Service.ActiveJobs())
}

func TestListJobsFiltersAndLimits(t *testing.T) {
	app := build(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := app.Service.StartSync(ctx, models.SyncRequest{ConnectorID: "crm", Mode: models.SyncModeFull, Categories: []string{"deals"}})
		require.NoError(t, err)
		wait(t, app, res.Job.ID)
		ids = append(ids, res.Job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	jobs, err := app.Service.ListJobs(ctx, store.JobFilter{ConnectorID: "crm", Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)

	none, err := app.Service.ListJobs(ctx, store.JobFilter{Statuses: []models.JobStatus{models.JobStatusFailed}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCancelUnknownJob(t *testing.T) {
	app := build(t)

	_, err := app.Service.CancelSync(context.Background(), "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestConnectionAndRawCalls(t *testing.T) {
	app := build(t)
	ctx := context.Background()

	res, err := app.Service.TestConnection(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, res.OK)

	out, err := app.Service.ExecuteRaw(ctx, models.CustomEndpointDefinition{
		ConnectorID:    "crm",
		URL:            "/v1/contacts/merge",
		Method:         "POST",
		RequiredFields: []string{"winner"},
	}, core.RawPayload{"winner": "c-1", "loser": "c-2"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", out["winner"])

	_, err = app.Service.ExecuteRaw(ctx, models.CustomEndpointDefinition{
		ConnectorID:    "crm",
		URL:            "/v1/contacts/merge",
		Method:         "POST",
		RequiredFields: []string{"winner"},
	}, core.RawPayload{"loser": "c-2"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = app.Service.TestConnection(ctx, "ghost")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestArchiveRequiresBucket(t *testing.T) {
	app := build(t)

	_, err := app.Service.Archive(context.Background(), models.PeriodDay)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "etcd"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
