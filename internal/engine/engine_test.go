package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/canonical"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/memory"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/rest"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/connector/registry"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
	"github.com/ajitpratap0/orbit/pkg/store"
	storemem "github.com/ajitpratap0/orbit/pkg/store/memory"
	"github.com/ajitpratap0/orbit/pkg/testutil"
)

const connectorID = "X"

type harness struct {
	engine    *Engine
	registry  *registry.Registry
	adapter   *memory.Adapter
	canonical *canonical.MemoryStore
	store     store.Store

	mu     sync.Mutex
	sleeps []time.Duration
}

type harnessOption func(*config.EngineConfig, *models.ConnectorDescriptor)

func ordersDescriptor() *models.ConnectorDescriptor {
	return &models.ConnectorDescriptor{
		ID:         connectorID,
		Name:       "Shop",
		Family:     memory.Family,
		Active:     true,
		Categories: []string{"orders", "customers"},
		Mappings: map[string]models.CategoryMapping{
			"orders": {Fields: []models.FieldMapping{
				{Canonical: "id", Native: "ext_id"},
				{Canonical: "total", Native: "amount", Type: models.FieldTypeNumber},
			}},
		},
	}
}

func newHarness(t *testing.T, adapter *memory.Adapter, opts ...harnessOption) *harness {
	t.Helper()
	testutil.UseTestLogger(t)

	cfg := config.Default().Engine
	cfg.StoreSave.InitialDelay = time.Millisecond
	cfg.StoreSave.MaxDelay = 2 * time.Millisecond
	descriptor := ordersDescriptor()
	for _, opt := range opts {
		opt(&cfg, descriptor)
	}

	reg := registry.NewRegistry(nil)
	require.NoError(t, reg.RegisterFamily(memory.Family, func(context.Context, *models.ConnectorDescriptor, secrets.Credentials) (core.ClientAdapter, error) {
		return adapter, nil
	}))
	require.NoError(t, reg.Register(descriptor))

	h := &harness{
		registry:  reg,
		adapter:   adapter,
		canonical: canonical.NewMemoryStore(),
		store:     storemem.New(),
	}
	h.engine = h.build(cfg)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) build(cfg config.EngineConfig) *Engine {
	return New(cfg, h.registry, h.canonical, h.store, WithSleep(func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return nil
	}))
}

func (h *harness) run(t *testing.T, req models.SyncRequest) *models.SyncJob {
	t.Helper()
	job, err := h.engine.Start(context.Background(), req)
	require.NoError(t, err)
	return h.wait(t, job.ID)
}

func (h *harness) wait(t *testing.T, jobID string) *models.SyncJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.engine.Wait(ctx, jobID)
	require.NoError(t, err)
	return job
}

func order(i int) models.Record {
	ref := fmt.Sprintf("o-%d", i)
	return models.NewRecord(ref, map[string]interface{}{"ext_id": ref, "amount": float64(i)})
}

func orders(from, to int) []models.Record {
	out := make([]models.Record, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, order(i))
	}
	return out
}

func fullSync(categories ...string) models.SyncRequest {
	return models.SyncRequest{ConnectorID: connectorID, Mode: models.SyncModeFull, Categories: categories}
}

// blockFirstFetch holds the first fetch of category until release is closed.
func blockFirstFetch(a *memory.Adapter, category string) (started <-chan struct{}, release chan struct{}) {
	startedCh := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	a.OnCall = func(op, cat string, call int) {
		if op == memory.OpFetch && cat == category && call == 1 {
			once.Do(func() { close(startedCh) })
			<-release
		}
	}
	return startedCh, release
}

func TestFullSyncCompletes(t *testing.T) {
	adapter := memory.New().WithPages("orders",
		memory.Page{Records: orders(0, 5)},
		memory.Page{Records: orders(5, 10)},
	)
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(10), job.RecordsProcessed)
	assert.Equal(t, int64(0), job.RecordsFailed)
	assert.Equal(t, int64(10), job.RecordsAttempted)
	assert.Equal(t, int64(10), job.CategoryCounts["orders"])
	assert.Empty(t, job.Errors)
	require.NotNil(t, job.EndedAt)

	assert.Equal(t, 10, h.canonical.Count("orders"))
	rec, ok := h.canonical.Get("orders", "o-3")
	require.True(t, ok)
	assert.Equal(t, "o-3", rec.Data["id"])
	assert.Equal(t, float64(3), rec.Data["total"])

	stored, err := h.store.Load(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}

func TestPartialFailuresAreRecordedPerRecord(t *testing.T) {
	broken := models.NewRecord("o-7", map[string]interface{}{"ext_id": "o-7"})
	adapter := memory.New().WithPages("orders",
		memory.Page{Records: orders(0, 5)},
		memory.Page{
			Records:  []models.Record{order(5), order(6), broken, order(8)},
			Rejected: []core.Rejection{{Ref: "o-9", Reason: "locked by another process"}},
		},
	)
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, int64(8), job.RecordsProcessed)
	assert.Equal(t, int64(2), job.RecordsFailed)
	require.Len(t, job.Errors, 2)

	kinds := map[string]string{}
	for _, entry := range job.Errors {
		kinds[entry.RecordRef] = entry.Kind
		assert.Equal(t, "orders", entry.Category)
	}
	assert.Equal(t, string(errors.ErrorTypeMapping), kinds["o-7"])
	assert.Equal(t, string(errors.ErrorTypeConnectorRejected), kinds["o-9"])
}

func TestUnavailableConnectorExhaustsRetries(t *testing.T) {
	adapter := memory.New().FailAlways(memory.OpFetch, "orders",
		errors.New(errors.ErrorTypeConnectorUnavailable, "service unavailable"))
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, string(errors.ErrorTypeConnectorUnavailable), job.Errors[0].Kind)
	assert.Contains(t, job.Errors[0].Message, "all 4 attempts failed")
	assert.Equal(t, 4, adapter.Calls(memory.OpFetch, "orders"))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestTransientFailureRecovers(t *testing.T) {
	adapter := memory.New().
		WithRecords("orders", orders(0, 3)).
		FailNext(memory.OpFetch, "orders", errors.New(errors.ErrorTypeConnectorUnavailable, "blip"))
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(3), job.RecordsProcessed)
	assert.Equal(t, 2, adapter.Calls(memory.OpFetch, "orders"))
}

func TestRejectedBatchFailsImmediately(t *testing.T) {
	adapter := memory.New().FailAlways(memory.OpFetch, "orders",
		errors.New(errors.ErrorTypeConnectorRejected, "forbidden"))
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, adapter.Calls(memory.OpFetch, "orders"))
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.sleeps)
}

func TestCallTimeoutIsTransient(t *testing.T) {
	adapter := memory.New().WithRecords("orders", orders(0, 1)).WithLatency(200 * time.Millisecond)
	h := newHarness(t, adapter, func(cfg *config.EngineConfig, d *models.ConnectorDescriptor) {
		cfg.Retry.MaxRetries = 0
		d.RateLimit.CallTimeout = models.Duration(10 * time.Millisecond)
	})

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, string(errors.ErrorTypeConnectorUnavailable), job.Errors[0].Kind)
}

func TestSecondStartIsBusy(t *testing.T) {
	adapter := memory.New().WithRecords("orders", orders(0, 2))
	started, release := blockFirstFetch(adapter, "orders")
	h := newHarness(t, adapter)

	first, err := h.engine.Start(context.Background(), fullSync("orders"))
	require.NoError(t, err)
	<-started

	_, err = h.engine.Start(context.Background(), fullSync("customers"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectorBusy), "got %v", err)

	active, ok := h.engine.ActiveFor(connectorID)
	assert.True(t, ok)
	assert.Equal(t, first.ID, active)

	close(release)
	job := h.wait(t, first.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	_, ok = h.engine.ActiveFor(connectorID)
	assert.False(t, ok)
	second := h.run(t, fullSync("customers"))
	assert.Equal(t, models.JobStatusCompleted, second.Status)
}

func TestCancelStopsAtBatchBoundary(t *testing.T) {
	adapter := memory.New().WithPages("orders",
		memory.Page{Records: orders(0, 5)},
		memory.Page{Records: orders(5, 10)},
	)
	started, release := blockFirstFetch(adapter, "orders")
	h := newHarness(t, adapter)
	ctx := context.Background()

	running, err := h.engine.Start(ctx, fullSync("orders"))
	require.NoError(t, err)
	<-started

	ok, err := h.engine.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.engine.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.True(t, ok, "repeated cancel of a live job still succeeds")

	snapshot, err := h.engine.Status(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, snapshot.Status, "terminal only at the batch boundary")
	assert.Empty(t, snapshot.Errors)

	close(release)
	job := h.wait(t, running.ID)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, 1, adapter.Calls(memory.OpFetch, "orders"), "no batch starts after cancel")
	assert.Equal(t, int64(5), job.RecordsProcessed, "the in-flight batch is not abandoned")
	require.Len(t, job.Errors, 1)
	assert.Equal(t, models.CancelledByCaller, job.Errors[0].Message)

	stored, err := h.store.Load(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored, "the only cancelled snapshot is the final one")

	ok, err = h.engine.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cancelling a terminal job is a no-op")

	_, err = h.engine.Cancel(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestDescriptorReplaceKeepsRunningAdapter(t *testing.T) {
	adapter := memory.New().WithPages("orders",
		memory.Page{Records: orders(0, 5)},
		memory.Page{Records: orders(5, 8)},
	)
	started, release := blockFirstFetch(adapter, "orders")
	h := newHarness(t, adapter)
	ctx := context.Background()

	running, err := h.engine.Start(ctx, fullSync("orders"))
	require.NoError(t, err)
	<-started

	updated := ordersDescriptor()
	updated.Name = "Shop (renamed)"
	require.NoError(t, h.registry.Register(updated))
	assert.False(t, adapter.Closed(), "adapter in use by a job stays open")

	close(release)
	job := h.wait(t, running.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(8), job.RecordsProcessed)
	assert.True(t, adapter.Closed(), "retired adapter closes once the job lets go")
}

func TestCancelOrphanedStoredJob(t *testing.T) {
	h := newHarness(t, memory.New())
	ctx := context.Background()

	orphan := models.NewSyncJob("orphan", fullSync("orders"), time.Now())
	orphan.Status = models.JobStatusRunning
	require.NoError(t, h.store.Save(ctx, orphan))

	ok, err := h.engine.Cancel(ctx, "orphan")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := h.store.Load(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
}

func TestStartRejectsIneligibleRequests(t *testing.T) {
	h := newHarness(t, memory.New())
	require.NoError(t, h.registry.Register(&models.ConnectorDescriptor{ID: "off", Family: memory.Family, Categories: []string{"orders"}}))

	tests := []struct {
		name    string
		req     models.SyncRequest
		errType errors.ErrorType
	}{
		{"missing connector id", models.SyncRequest{Mode: models.SyncModeFull, Categories: []string{"orders"}}, errors.ErrorTypeValidation},
		{"bad mode", models.SyncRequest{ConnectorID: connectorID, Mode: "sometimes", Categories: []string{"orders"}}, errors.ErrorTypeValidation},
		{"no categories", models.SyncRequest{ConnectorID: connectorID, Mode: models.SyncModeFull}, errors.ErrorTypeValidation},
		{"duplicate category", fullSync("orders", "orders"), errors.ErrorTypeValidation},
		{"bad filter", models.SyncRequest{ConnectorID: connectorID, Mode: models.SyncModeFull, Categories: []string{"orders"},
			Filter: &models.Filter{Conditions: []models.Condition{{Field: "total", Op: "like"}}}}, errors.ErrorTypeValidation},
		{"unknown connector", models.SyncRequest{ConnectorID: "ghost", Mode: models.SyncModeFull, Categories: []string{"orders"}}, errors.ErrorTypeInvalidRequest},
		{"inactive connector", models.SyncRequest{ConnectorID: "off", Mode: models.SyncModeFull, Categories: []string{"orders"}}, errors.ErrorTypeInvalidRequest},
		{"unsupported category", fullSync("invoices"), errors.ErrorTypeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := h.engine.Start(context.Background(), tt.req)
			assert.Nil(t, job)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}
	assert.Empty(t, h.engine.Active(), "rejected requests never create jobs")
}

func TestOutboundPushesCanonicalRecords(t *testing.T) {
	adapter := memory.New().RejectOnPush("orders", "c-1", "duplicate order number")
	h := newHarness(t, adapter)
	ctx := context.Background()

	_, err := h.canonical.Write(ctx, "orders", []models.Record{
		models.NewRecord("c-0", map[string]interface{}{"id": "c-0", "total": 10.0}),
		models.NewRecord("c-1", map[string]interface{}{"id": "c-1", "total": 20.0}),
		models.NewRecord("c-2", map[string]interface{}{"id": "c-2", "total": 30.0}),
	})
	require.NoError(t, err)

	job := h.run(t, models.SyncRequest{
		ConnectorID: connectorID,
		Mode:        models.SyncModeFull,
		Direction:   models.DirectionOutbound,
		Categories:  []string{"orders"},
		BatchSize:   2,
	})

	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, int64(2), job.RecordsProcessed)
	assert.Equal(t, int64(1), job.RecordsFailed)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "c-1", job.Errors[0].RecordRef)
	assert.Equal(t, "duplicate order number", job.Errors[0].Message)

	pushed := adapter.Pushed("orders")
	require.Len(t, pushed, 2)
	assert.Equal(t, "c-0", pushed[0].Data["ext_id"])
	assert.Equal(t, 10.0, pushed[0].Data["amount"])
}

func TestOutboundUnmappableRecordFailsAlone(t *testing.T) {
	testutil.UseTestLogger(t)
	var pushed []map[string]interface{}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Records []map[string]interface{} `json:"records"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		pushed = append(pushed, body.Records...)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := registry.NewRegistry(nil)
	require.NoError(t, reg.RegisterFamily(rest.Family, rest.Factory))
	descriptor := ordersDescriptor()
	descriptor.Family = rest.Family
	descriptor.Options = map[string]string{"base_url": srv.URL}
	require.NoError(t, reg.Register(descriptor))

	sink := canonical.NewMemoryStore()
	ctx := context.Background()
	_, err := sink.Write(ctx, "orders", []models.Record{
		models.NewRecord("o-1", map[string]interface{}{"id": "o-1", "total": 10.0}),
		models.NewRecord("o-2", map[string]interface{}{"id": "o-2", "total": "NaN"}),
		models.NewRecord("o-3", map[string]interface{}{"id": "o-3", "total": 30.0}),
	})
	require.NoError(t, err)

	e := New(config.Default().Engine, reg, sink, storemem.New(),
		WithSleep(func(context.Context, time.Duration) error { return nil }))
	t.Cleanup(func() { _ = e.Close(); _ = reg.Close() })

	started, err := e.Start(ctx, models.SyncRequest{
		ConnectorID: connectorID,
		Mode:        models.SyncModeFull,
		Direction:   models.DirectionOutbound,
		Categories:  []string{"orders"},
	})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := e.Wait(waitCtx, started.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, int64(2), job.RecordsProcessed)
	assert.Equal(t, int64(1), job.RecordsFailed)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "o-2", job.Errors[0].RecordRef)
	assert.Equal(t, string(errors.ErrorTypeMapping), job.Errors[0].Kind)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pushed, 2)
	assert.Equal(t, "o-1", pushed[0]["ext_id"])
	assert.Equal(t, "o-3", pushed[1]["ext_id"])
}

func TestIncrementalResumesFromCheckpoint(t *testing.T) {
	adapter := memory.New().WithRecords("orders", orders(0, 10))
	h := newHarness(t, adapter)
	req := models.SyncRequest{ConnectorID: connectorID, Mode: models.SyncModeIncremental, Categories: []string{"orders"}, BatchSize: 4}

	first := h.run(t, req)
	assert.Equal(t, models.JobStatusCompleted, first.Status)
	assert.Equal(t, int64(10), first.RecordsProcessed)
	assert.Equal(t, "10", first.Checkpoints["orders"])
	assert.Equal(t, 3, adapter.Calls(memory.OpFetch, "orders"))

	second := h.run(t, req)
	assert.Equal(t, models.JobStatusCompleted, second.Status)
	assert.Equal(t, int64(0), second.RecordsProcessed)
	assert.Equal(t, 4, adapter.Calls(memory.OpFetch, "orders"), "resumed run reads from the checkpoint")

	full := h.run(t, models.SyncRequest{ConnectorID: connectorID, Mode: models.SyncModeFull, Categories: []string{"orders"}, BatchSize: 4})
	assert.Equal(t, int64(10), full.RecordsProcessed, "full syncs ignore checkpoints")
}

func TestFilterSkipsAndConservesCounts(t *testing.T) {
	broken := models.NewRecord("bad", map[string]interface{}{"ext_id": "bad"})
	adapter := memory.New().WithPages("orders", memory.Page{
		Records:  append(orders(0, 6), broken),
		Rejected: []core.Rejection{{Ref: "gone", Reason: "deleted"}},
	})
	h := newHarness(t, adapter)

	job := h.run(t, models.SyncRequest{
		ConnectorID: connectorID,
		Mode:        models.SyncModeFull,
		Categories:  []string{"orders"},
		Filter:      &models.Filter{Conditions: []models.Condition{{Field: "total", Op: models.FilterGte, Value: 3}}},
	})

	assert.Equal(t, int64(8), job.RecordsAttempted)
	assert.Equal(t, int64(3), job.RecordsProcessed)
	assert.Equal(t, int64(3), job.RecordsSkipped)
	assert.Equal(t, int64(2), job.RecordsFailed)
	assert.LessOrEqual(t, job.RecordsProcessed+job.RecordsFailed, job.RecordsAttempted)
}

func TestCategoriesRunConcurrently(t *testing.T) {
	adapter := memory.New().
		WithRecords("orders", orders(0, 3)).
		WithRecords("customers", []models.Record{
			models.NewRecord("c-1", map[string]interface{}{"name": "Ada"}),
		})
	h := newHarness(t, adapter)

	job := h.run(t, fullSync("orders", "customers"))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(3), job.CategoryCounts["orders"])
	assert.Equal(t, int64(1), job.CategoryCounts["customers"])
	got, ok := h.canonical.Get("customers", "c-1")
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Data["name"], "unmapped categories pass through")
}

func TestCloseStopsRunningJobs(t *testing.T) {
	adapter := memory.New().WithPages("orders",
		memory.Page{Records: orders(0, 5)},
		memory.Page{Records: orders(5, 10)},
	)
	started, release := blockFirstFetch(adapter, "orders")
	h := newHarness(t, adapter)
	ctx := context.Background()

	running, err := h.engine.Start(ctx, fullSync("orders"))
	require.NoError(t, err)
	<-started

	closed := make(chan struct{})
	go func() {
		_ = h.engine.Close()
		close(closed)
	}()
	testutil.AssertEventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return h.engine.closed
	}, time.Second, "engine should stop accepting jobs")
	close(release)
	<-closed

	job, err := h.engine.Status(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, EngineStopped, job.Errors[len(job.Errors)-1].Message)

	_, err = h.engine.Start(ctx, fullSync("orders"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidRequest))
}

type failingStore struct {
	store.Store
	mu    sync.Mutex
	saves int
}

func (s *failingStore) Save(context.Context, *models.SyncJob) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return errors.New(errors.ErrorTypeStore, "disk full")
}

func TestFinalSaveFailureKeepsJobQueryable(t *testing.T) {
	adapter := memory.New().WithRecords("orders", orders(0, 2))
	h := newHarness(t, adapter)
	broken := &failingStore{Store: storemem.New()}
	h.store = broken
	cfg := config.Default().Engine
	cfg.StoreSave.InitialDelay = time.Millisecond
	cfg.StoreSave.MaxDelay = time.Millisecond
	cfg.StoreSave.MaxRetries = 2
	h.engine = h.build(cfg)
	t.Cleanup(func() { _ = h.engine.Close() })

	job := h.run(t, fullSync("orders"))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(2), job.RecordsProcessed)
	assert.Equal(t, 1, adapter.Calls(memory.OpFetch, "orders"), "work is not repeated")

	broken.mu.Lock()
	defer broken.mu.Unlock()
	assert.Equal(t, 9, broken.saves, "three snapshots, three attempts each")
}
