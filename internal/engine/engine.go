// Package engine drives sync jobs: it accepts sync requests, moves each job
// through its lifecycle and pulls or pushes batches through the connector's
// client adapter, recording every per-record outcome on the job.
//
// Jobs of different connectors run concurrently; a connector has at most one
// active job. Categories of a job run concurrently, batches within a
// category run in cursor order. Cancellation and shutdown are honoured at
// batch boundaries only, so a batch is never abandoned half-submitted.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/orbit/pkg/canonical"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/base"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/mapping"
	"github.com/ajitpratap0/orbit/pkg/metrics"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// Registry is what the engine needs from the connector registry.
type Registry interface {
	Get(id string) (*models.ConnectorDescriptor, error)
	Acquire(ctx context.Context, id string) (core.ClientAdapter, func(), error)
}

// Option customises an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUID job id generator
func WithIDGenerator(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// WithSleep replaces the wait between batch retries
func WithSleep(sleep base.SleepFunc) Option {
	return func(e *Engine) { e.retry = e.retry.WithSleep(sleep) }
}

// WithLimiters shares rate limiters with other callers of the same connectors
func WithLimiters(limiters *clients.LimiterSet) Option {
	return func(e *Engine) { e.limiters = limiters }
}

// Engine runs sync jobs.
type Engine struct {
	cfg       config.EngineConfig
	registry  Registry
	canonical canonical.Store
	store     store.Store
	limiters  *clients.LimiterSet
	retry     *base.RetryPolicy
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger

	mu          sync.Mutex
	runs        map[string]*run   // active jobs by id
	byConnector map[string]string // connector id -> active job id
	unsaved     map[string]*models.SyncJob
	closed      bool
	wg          sync.WaitGroup
}

// New creates an engine. cfg is expected to be validated.
func New(cfg config.EngineConfig, registry Registry, canon canonical.Store, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		canonical: canon,
		store:     st,
		limiters:  clients.NewLimiterSet(),
		retry: &base.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.Get().With(zap.String("component", "sync_engine")),
		runs:        make(map[string]*run),
		byConnector: make(map[string]string),
		unsaved:     make(map[string]*models.SyncJob),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates the request, creates a pending job and runs it in the
// background. The returned job is a snapshot.
func (e *Engine) Start(ctx context.Context, req models.SyncRequest) (*models.SyncJob, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	descriptor, err := e.eligible(req)
	if err != nil {
		return nil, err
	}

	job := models.NewSyncJob(e.newID(), req, e.now())
	r := e.newRun(job, descriptor, req)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "engine is shut down")
	}
	if active, busy := e.byConnector[req.ConnectorID]; busy {
		e.mu.Unlock()
		return nil, errors.Newf(errors.ErrorTypeConnectorBusy, "connector %s already has active job %s", req.ConnectorID, active).
			WithDetail("connector_id", req.ConnectorID).
			WithDetail("job_id", active)
	}
	e.runs[job.ID] = r
	e.byConnector[req.ConnectorID] = job.ID
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.ActiveJobs.Inc()
	e.save(ctx, r.snapshot())
	r.logger.Info("sync job accepted",
		zap.String("mode", string(job.Mode)),
		zap.String("direction", string(job.Direction)),
		zap.Strings("categories", job.Categories))

	go e.execute(r)
	return r.snapshot(), nil
}

func validateRequest(req models.SyncRequest) error {
	if req.ConnectorID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector_id is required")
	}
	if !req.Mode.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "invalid sync mode %q", req.Mode)
	}
	if req.Direction != "" && !req.Direction.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "invalid direction %q", req.Direction)
	}
	if len(req.Categories) == 0 {
		return errors.New(errors.ErrorTypeValidation, "at least one category is required")
	}
	seen := make(map[string]bool, len(req.Categories))
	for _, c := range req.Categories {
		if c == "" {
			return errors.New(errors.ErrorTypeValidation, "category names must not be empty")
		}
		if seen[c] {
			return errors.Newf(errors.ErrorTypeValidation, "category %s requested twice", c)
		}
		seen[c] = true
	}
	if req.BatchSize < 0 {
		return errors.New(errors.ErrorTypeValidation, "batch_size must not be negative")
	}
	return mapping.ValidateFilter(req.Filter)
}

// eligible checks the connector can serve the request right now.
func (e *Engine) eligible(req models.SyncRequest) (*models.ConnectorDescriptor, error) {
	d, err := e.registry.Get(req.ConnectorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidRequest, "connector is not registered").
			WithDetail("connector_id", req.ConnectorID)
	}
	if !d.Active {
		return nil, errors.Newf(errors.ErrorTypeInvalidRequest, "connector %s is not active", d.ID).
			WithDetail("connector_id", d.ID)
	}
	for _, c := range req.Categories {
		if !d.SupportsCategory(c) {
			return nil, errors.Newf(errors.ErrorTypeInvalidRequest, "connector %s does not support category %s", d.ID, c).
				WithDetail("connector_id", d.ID).
				WithDetail("category", c)
		}
	}
	return d, nil
}

func (e *Engine) newRun(job *models.SyncJob, d *models.ConnectorDescriptor, req models.SyncRequest) *run {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.DefaultBatchSize
	}
	timeout := d.RateLimit.CallTimeout.Std()
	if timeout <= 0 {
		timeout = e.cfg.CallTimeout
	}

	log := e.logger.With(zap.String("job_id", job.ID), zap.String("connector_id", job.ConnectorID))
	retry := e.retry.Clone()
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.Retries.WithLabelValues(job.ConnectorID).Inc()
		log.Warn("connector call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &run{
		job:        job,
		descriptor: d,
		request:    req,
		batchSize:  batchSize,
		timeout:    timeout,
		limiter:    e.limiters.For(d.ID, d.RateLimit),
		retry:      retry,
		logger:     log,
		done:       make(chan struct{}),
	}
}

// execute drives a job from pending to a terminal status.
func (e *Engine) execute(r *run) {
	defer e.wg.Done()
	defer close(r.done)

	ctx := logger.ContextWithJob(context.Background(), r.job.ID, r.job.ConnectorID)
	ctx, span := observability.StartJob(ctx, r.snapshot())

	if r.begin(e.now()) {
		metrics.JobStarted(r.job.ConnectorID, r.job.Direction)
		e.save(ctx, r.snapshot())
		e.runCategories(ctx, r)
	}
	r.finish(e.now())

	final := r.snapshot()
	e.release(ctx, final)
	metrics.ActiveJobs.Dec()
	metrics.JobFinished(final)

	var spanErr error
	if final.Status == models.JobStatusFailed {
		spanErr = r.failure
		if spanErr == nil {
			spanErr = errors.New(errors.ErrorTypeInternal, EngineStopped)
		}
	}
	observability.End(span, spanErr)

	r.logger.Info("sync job finished",
		zap.String("status", string(final.Status)),
		zap.Int64("records_attempted", final.RecordsAttempted),
		zap.Int64("records_processed", final.RecordsProcessed),
		zap.Int64("records_failed", final.RecordsFailed),
		zap.Int64("records_skipped", final.RecordsSkipped),
		zap.Duration("duration", final.Duration()))
}

func (e *Engine) runCategories(ctx context.Context, r *run) {
	adapter, release, err := e.registry.Acquire(ctx, r.job.ConnectorID)
	if err != nil {
		r.abort(e.now(), "", errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to obtain connector adapter"))
		return
	}
	defer release()
	e.resume(ctx, r)

	// Category failures are recorded on the run rather than returned, so one
	// failing category lets siblings finish their current batch.
	var g errgroup.Group
	if e.cfg.MaxConcurrentCategories > 0 {
		g.SetLimit(e.cfg.MaxConcurrentCategories)
	}
	for _, category := range r.job.Categories {
		g.Go(func() error {
			e.runCategory(ctx, r, adapter, category)
			return nil
		})
	}
	_ = g.Wait()
}

// resume seeds checkpoints from the latest successful job in the same
// direction when the mode resumes.
func (e *Engine) resume(ctx context.Context, r *run) {
	if !r.job.Mode.Resumes() {
		return
	}
	filter := store.JobFilter{
		ConnectorID: r.job.ConnectorID,
		Direction:   r.job.Direction,
		Statuses:    []models.JobStatus{models.JobStatusCompleted, models.JobStatusPartial},
		Limit:       1,
	}
	if e.cfg.IncrementalLookback > 0 {
		filter.Window.From = e.now().Add(-e.cfg.IncrementalLookback)
	}
	previous, err := e.store.List(ctx, filter)
	if err != nil {
		r.logger.Warn("failed to load previous checkpoints, running from the start", zap.Error(err))
		return
	}
	if len(previous) == 0 {
		return
	}
	for _, category := range r.job.Categories {
		if cursor, ok := previous[0].Checkpoints[category]; ok {
			r.setCheckpoint(category, cursor)
		}
	}
	r.logger.Debug("resuming from previous job", zap.String("previous_job_id", previous[0].ID))
}

// release persists the final job and frees the connector.
func (e *Engine) release(ctx context.Context, final *models.SyncJob) {
	saved := e.save(ctx, final)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, final.ID)
	if e.byConnector[final.ConnectorID] == final.ID {
		delete(e.byConnector, final.ConnectorID)
	}
	if saved {
		delete(e.unsaved, final.ID)
	} else {
		e.unsaved[final.ID] = final
	}
}

// save writes a job snapshot with exponential backoff. Work is never redone
// on failure; the caller keeps the snapshot in memory instead.
func (e *Engine) save(ctx context.Context, job *models.SyncJob) bool {
	policy := e.cfg.StoreSave
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = policy.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.store.Save(ctx, job)
		if errors.IsType(err, errors.ErrorTypeValidation) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxRetries)+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.Retries.WithLabelValues("store").Inc()
			e.logger.Warn("job save failed, retrying",
				zap.String("job_id", job.ID),
				zap.Duration("delay", d),
				zap.Error(err))
		}),
	)
	if err != nil {
		e.logger.Error("job save failed, keeping job in memory",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err))
		return false
	}
	return true
}

// Cancel requests cancellation. It returns true when a pending or running
// job was cancelled, false when the job had already ended, and a NotFound
// error for unknown ids. Processing stops at the next batch boundary.
func (e *Engine) Cancel(ctx context.Context, jobID string) (bool, error) {
	e.mu.Lock()
	r, active := e.runs[jobID]
	_, unsaved := e.unsaved[jobID]
	e.mu.Unlock()

	if active {
		if !r.cancel(e.now()) {
			return false, nil
		}
		r.logger.Info("sync job cancellation requested")
		return true, nil
	}
	if unsaved {
		return false, nil
	}

	job, err := e.store.Load(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	// A non-terminal job nobody drives, left behind by an earlier process.
	if err := job.Transition(models.JobStatusCancelled, e.now()); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeInternal, "failed to cancel orphaned job")
	}
	job.Errors = append(job.Errors, models.ErrorEntry{Time: e.now(), Kind: kindCancelled, Message: models.CancelledByCaller})
	if !e.save(ctx, job) {
		return false, errors.Newf(errors.ErrorTypeStore, "failed to persist cancellation of job %s", jobID)
	}
	return true, nil
}

// Status returns a live snapshot of an active job, otherwise the stored one.
func (e *Engine) Status(ctx context.Context, jobID string) (*models.SyncJob, error) {
	e.mu.Lock()
	r, active := e.runs[jobID]
	unsaved, kept := e.unsaved[jobID]
	e.mu.Unlock()

	if active {
		return r.snapshot(), nil
	}
	if kept {
		return unsaved.Clone(), nil
	}
	return e.store.Load(ctx, jobID)
}

// Wait blocks until the job leaves the engine or ctx is done, then returns
// its final snapshot.
func (e *Engine) Wait(ctx context.Context, jobID string) (*models.SyncJob, error) {
	e.mu.Lock()
	r, active := e.runs[jobID]
	e.mu.Unlock()

	if active {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.Status(ctx, jobID)
}

// Active returns snapshots of every pending or running job.
func (e *Engine) Active() []*models.SyncJob {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]*models.SyncJob, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.snapshot())
	}
	store.SortNewestFirst(out)
	return out
}

// ActiveFor returns the id of the connector's active job, if any.
func (e *Engine) ActiveFor(connectorID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byConnector[connectorID]
	return id, ok
}

// Close stops accepting jobs, stops running ones at their next batch
// boundary as failed and waits for them to settle.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	for _, r := range e.runs {
		r.stopped.Store(true)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}
