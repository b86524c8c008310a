// Package service is the presentation boundary of orbit: every operation
// the HTTP API and the CLI offer goes through Service, which routes it to
// the registry, engine, scheduler, stats aggregator or archive.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/internal/engine"
	"github.com/ajitpratap0/orbit/internal/scheduler"
	"github.com/ajitpratap0/orbit/internal/stats"
	"github.com/ajitpratap0/orbit/pkg/archive"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/connector/base"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/connector/registry"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// Service wires the orbit components together.
type Service struct {
	registry  *registry.Registry
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	stats     *stats.Aggregator
	health    *base.HealthChecker
	store     store.Store
	archive   *archive.Exporter
	limiters  *clients.LimiterSet

	callTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// Components are the parts a Service routes to. Archive and Health may be nil.
type Components struct {
	Registry  *registry.Registry
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Stats     *stats.Aggregator
	Health    *base.HealthChecker
	Store     store.Store
	Archive   *archive.Exporter
	Limiters  *clients.LimiterSet

	// CallTimeout bounds connection tests and raw calls when the connector sets none
	CallTimeout time.Duration
}

// New creates a service over already built components.
func New(c Components) *Service {
	limiters := c.Limiters
	if limiters == nil {
		limiters = clients.NewLimiterSet()
	}
	timeout := c.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		registry:    c.Registry,
		engine:      c.Engine,
		scheduler:   c.Scheduler,
		stats:       c.Stats,
		health:      c.Health,
		store:       c.Store,
		archive:     c.Archive,
		limiters:    limiters,
		callTimeout: timeout,
		now:         time.Now,
		logger:      logger.Get().With(zap.String("component", "service")),
	}
}

// RegisterConnector validates and stores a descriptor.
func (s *Service) RegisterConnector(_ context.Context, d *models.ConnectorDescriptor) (*models.ConnectorDescriptor, error) {
	if err := s.registry.Register(d); err != nil {
		return nil, err
	}
	return s.registry.Get(d.ID)
}

// GetConnector returns a registered descriptor.
func (s *Service) GetConnector(_ context.Context, id string) (*models.ConnectorDescriptor, error) {
	return s.registry.Get(id)
}

// ListConnectors returns every registered descriptor, or only active ones.
func (s *Service) ListConnectors(_ context.Context, activeOnly bool) []*models.ConnectorDescriptor {
	if activeOnly {
		return s.registry.ListActive()
	}
	return s.registry.List()
}

// Families lists the connector families adapters can be built for.
func (s *Service) Families() []string {
	return s.registry.Families()
}

// TestConnection checks a connector is reachable. It never runs inside a job.
func (s *Service) TestConnection(ctx context.Context, id string) (core.ConnectionResult, error) {
	d, err := s.registry.Get(id)
	if err != nil {
		return core.ConnectionResult{}, err
	}
	adapter, release, err := s.registry.Acquire(ctx, id)
	if err != nil {
		return core.ConnectionResult{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.timeoutFor(d.RateLimit))
	defer cancel()
	res, err := adapter.TestConnection(ctx)
	if err != nil {
		s.logger.Warn("connection test failed", zap.String("connector_id", id), zap.Error(err))
		res.OK = false
		if res.Message == "" {
			res.Message = err.Error()
		}
		return res, nil
	}
	return res, nil
}

// StartResult is what StartSync created.
type StartResult struct {
	Job      *models.SyncJob             `json:"job"`
	Schedule *models.ScheduleDefinition `json:"schedule,omitempty"`
}

// StartSync starts a job. A request with a recurrence is also scheduled so
// it keeps running after this first job.
func (s *Service) StartSync(ctx context.Context, req models.SyncRequest) (*StartResult, error) {
	var recurrence *scheduler.Recurrence
	if req.Recurrence != "" {
		r, err := scheduler.ParseRecurrence(req.Recurrence)
		if err != nil {
			return nil, err
		}
		recurrence = &r
	}

	job, err := s.engine.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &StartResult{Job: job}
	if recurrence == nil {
		return result, nil
	}

	def := &models.ScheduleDefinition{
		ConnectorID: req.ConnectorID,
		Categories:  append([]string(nil), req.Categories...),
		Mode:        req.Mode,
		Direction:   req.Direction,
		Enabled:     true,
	}
	recurrence.Apply(def)
	scheduled, err := s.scheduler.Schedule(ctx, def)
	if err != nil {
		// The job already runs; report the schedule problem without failing it.
		s.logger.Error("failed to schedule recurring sync",
			zap.String("connector_id", req.ConnectorID),
			zap.String("job_id", job.ID),
			zap.Error(err))
		return result, errors.Wrap(err, errors.GetType(err), "job started but recurrence was not scheduled").
			WithDetail("job_id", job.ID)
	}
	result.Schedule = scheduled
	return result, nil
}

// CancelSync cancels a pending or running job.
func (s *Service) CancelSync(ctx context.Context, jobID string) (bool, error) {
	return s.engine.Cancel(ctx, jobID)
}

// GetJobStatus returns the live or stored state of a job.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return s.engine.Status(ctx, jobID)
}

// ListJobs returns jobs matching filter, newest first. Active jobs are
// reported with their live progress.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.SyncJob, error) {
	stored, err := s.store.List(ctx, store.JobFilter{
		ConnectorID: filter.ConnectorID,
		ScheduleID:  filter.ScheduleID,
		Direction:   filter.Direction,
		Window:      filter.Window,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.SyncJob, len(stored))
	for _, job := range stored {
		byID[job.ID] = job
	}
	for _, live := range s.engine.Active() {
		byID[live.ID] = live
	}

	out := make([]*models.SyncJob, 0, len(byID))
	for _, job := range byID {
		if filter.Matches(job) {
			out = append(out, job)
		}
	}
	store.SortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ScheduleSync creates or replaces a recurring sync.
func (s *Service) ScheduleSync(ctx context.Context, def *models.ScheduleDefinition) (*models.ScheduleDefinition, error) {
	return s.scheduler.Schedule(ctx, def)
}

// GetSchedule returns a stored schedule.
func (s *Service) GetSchedule(ctx context.Context, id string) (*models.ScheduleDefinition, error) {
	return s.scheduler.Get(ctx, id)
}

// ListSchedules returns every schedule.
func (s *Service) ListSchedules(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return s.scheduler.List(ctx)
}

// SetScheduleEnabled turns a schedule on or off.
func (s *Service) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*models.ScheduleDefinition, error) {
	return s.scheduler.SetEnabled(ctx, id, enabled)
}

// GetSummary aggregates job history over a trailing period.
func (s *Service) GetSummary(ctx context.Context, period models.Period, opts stats.Options) (*stats.Summary, error) {
	return s.stats.Summarize(ctx, period, opts)
}

// ExecuteRaw performs a pass-through call on a connector under the
// endpoint's own rate limit.
func (s *Service) ExecuteRaw(ctx context.Context, endpoint models.CustomEndpointDefinition, payload core.RawPayload) (map[string]interface{}, error) {
	if err := core.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	d, err := s.registry.Get(endpoint.ConnectorID)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, errors.Newf(errors.ErrorTypeInvalidRequest, "connector %s is not active", d.ID)
	}
	adapter, release, err := s.registry.Acquire(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	limiter := s.limiters.For(d.ID+" "+endpoint.Method+" "+endpoint.URL, endpoint.RateLimit)
	if err := limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "rate limit wait interrupted")
	}

	policy := endpoint.RateLimit
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = d.RateLimit.CallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeoutFor(policy))
	defer cancel()
	return core.ExecuteRaw[core.RawPayload, map[string]interface{}](ctx, adapter, endpoint, payload)
}

// Archive exports the terminal jobs of a trailing period to object storage.
func (s *Service) Archive(ctx context.Context, period models.Period) (archive.Result, error) {
	if s.archive == nil {
		return archive.Result{}, errors.New(errors.ErrorTypeConfig, "archive is not configured")
	}
	if !period.Valid() {
		return archive.Result{}, errors.Newf(errors.ErrorTypeValidation, "invalid period %q", period)
	}
	return s.archive.Export(ctx, models.WindowFor(period, s.now()))
}

// ConnectorHealth returns the last background probe of every active
// connector, and whether none of them is unhealthy.
func (s *Service) ConnectorHealth() ([]base.HealthStatus, bool) {
	if s.health == nil {
		return nil, true
	}
	return s.health.Statuses(), s.health.IsHealthy()
}

// ActiveJobs returns the jobs currently pending or running.
func (s *Service) ActiveJobs() []*models.SyncJob {
	return s.engine.Active()
}

func (s *Service) timeoutFor(policy models.RateLimitPolicy) time.Duration {
	if t := policy.CallTimeout.Std(); t > 0 {
		return t
	}
	return s.callTimeout
}
