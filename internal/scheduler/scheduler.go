// Package scheduler fires recurring syncs. Definitions live in the store;
// on every tick the due ones are submitted to the sync engine and moved to
// their next occurrence after the tick time, so missed runs are never
// replayed as a backlog.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/metrics"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// Submitter starts sync jobs; satisfied by the engine.
type Submitter interface {
	Start(ctx context.Context, req models.SyncRequest) (*models.SyncJob, error)
}

// Connectors looks up connector descriptors; satisfied by the registry.
type Connectors interface {
	Get(id string) (*models.ConnectorDescriptor, error)
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator replaces the UUID schedule id generator
func WithIDGenerator(next func() string) Option {
	return func(s *Scheduler) { s.newID = next }
}

// Scheduler submits due schedule definitions to the engine.
type Scheduler struct {
	store      store.Store
	engine     Submitter
	connectors Connectors
	location   *time.Location
	interval   time.Duration
	now        func() time.Time
	newID      func() string
	logger     *zap.Logger

	tickMu sync.Mutex

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler evaluating times of day in cfg's timezone.
func New(cfg config.SchedulerConfig, st store.Store, engine Submitter, connectors Connectors, opts ...Option) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid scheduler timezone").
			WithDetail("timezone", cfg.Timezone)
	}
	s := &Scheduler{
		store:      st,
		engine:     engine,
		connectors: connectors,
		location:   loc,
		interval:   cfg.PollInterval,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     logger.Get().With(zap.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule validates a definition, computes its next run and stores it.
// Scheduling an existing id replaces its recurrence and restarts it from
// now; its run history is kept.
func (s *Scheduler) Schedule(ctx context.Context, def *models.ScheduleDefinition) (*models.ScheduleDefinition, error) {
	if err := s.validate(def); err != nil {
		return nil, err
	}

	out := def.Clone()
	if out.ID == "" {
		out.ID = s.newID()
	} else if existing, err := s.store.LoadSchedule(ctx, out.ID); err == nil {
		out.LastRunAt = existing.LastRunAt
		out.LastJobID = existing.LastJobID
	} else if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}
	if out.Frequency == models.FrequencyMonthly && out.DayOfMonth == 0 {
		out.DayOfMonth = 1
	}

	next, err := NextRun(out, s.now(), s.location)
	if err != nil {
		return nil, err
	}
	out.NextRunAt = next

	if err := s.store.SaveSchedule(ctx, out); err != nil {
		return nil, err
	}
	s.logger.Info("schedule saved",
		zap.String("schedule_id", out.ID),
		zap.String("connector_id", out.ConnectorID),
		zap.String("frequency", string(out.Frequency)),
		zap.Bool("enabled", out.Enabled),
		zap.Time("next_run_at", out.NextRunAt))
	return out.Clone(), nil
}

func (s *Scheduler) validate(def *models.ScheduleDefinition) error {
	if def == nil {
		return errors.New(errors.ErrorTypeValidation, "schedule definition is required")
	}
	if def.ConnectorID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector_id is required")
	}
	if !def.Frequency.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "invalid frequency %q", def.Frequency)
	}
	if def.Mode != "" && !def.Mode.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "invalid sync mode %q", def.Mode)
	}
	if def.Direction != "" && !def.Direction.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "invalid direction %q", def.Direction)
	}
	if _, _, err := parseTimeOfDay(def.TimeOfDay); err != nil {
		return err
	}
	if def.Weekday != nil && (*def.Weekday < time.Sunday || *def.Weekday > time.Saturday) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid weekday %d", *def.Weekday)
	}
	if def.DayOfMonth < 0 || def.DayOfMonth > 31 {
		return errors.Newf(errors.ErrorTypeValidation, "day_of_month %d must be within 1..31", def.DayOfMonth)
	}
	if len(def.Categories) == 0 {
		return errors.New(errors.ErrorTypeValidation, "at least one category is required")
	}

	d, err := s.connectors.Get(def.ConnectorID)
	if err != nil {
		return err
	}
	for _, c := range def.Categories {
		if !d.SupportsCategory(c) {
			return errors.Newf(errors.ErrorTypeValidation, "connector %s does not support category %s", d.ID, c).
				WithDetail("connector_id", d.ID).
				WithDetail("category", c)
		}
	}
	return nil
}

// Get returns a stored schedule.
func (s *Scheduler) Get(ctx context.Context, id string) (*models.ScheduleDefinition, error) {
	return s.store.LoadSchedule(ctx, id)
}

// List returns every stored schedule.
func (s *Scheduler) List(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return s.store.ListSchedules(ctx)
}

// SetEnabled turns a schedule on or off. A schedule whose next run has
// already passed is moved to its next future occurrence.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (*models.ScheduleDefinition, error) {
	def, err := s.store.LoadSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	def.Enabled = enabled
	now := s.now()
	if !def.NextRunAt.After(now) {
		next, err := NextRun(def, now, s.location)
		if err != nil {
			return nil, err
		}
		def.NextRunAt = next
	}
	if err := s.store.SaveSchedule(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Tick submits every enabled due schedule and advances every due schedule
// past now. It returns the jobs that were started. A submission the engine
// refuses is logged; the schedule still advances.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]*models.SyncJob, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to list due schedules")
	}

	var started []*models.SyncJob
	for _, def := range due {
		log := s.logger.With(zap.String("schedule_id", def.ID), zap.String("connector_id", def.ConnectorID))

		if def.Enabled {
			job, err := s.engine.Start(ctx, def.Request())
			switch {
			case err == nil:
				metrics.ScheduleRuns.WithLabelValues("submitted").Inc()
				started = append(started, job)
				fired := now
				def.LastRunAt = &fired
				def.LastJobID = job.ID
				log.Info("scheduled sync submitted", zap.String("job_id", job.ID))
			case errors.IsType(err, errors.ErrorTypeConnectorBusy):
				metrics.ScheduleRuns.WithLabelValues("busy").Inc()
				log.Warn("connector busy, skipping this occurrence", zap.Error(err))
			default:
				metrics.ScheduleRuns.WithLabelValues("error").Inc()
				log.Error("scheduled sync rejected", zap.Error(err))
			}
		} else {
			metrics.ScheduleRuns.WithLabelValues("skipped").Inc()
			log.Debug("schedule disabled, advancing without submitting")
		}

		next, err := NextRun(def, now, s.location)
		if err != nil {
			log.Error("failed to compute next run", zap.Error(err))
			continue
		}
		def.NextRunAt = next
		if err := s.store.SaveSchedule(ctx, def); err != nil {
			log.Error("failed to save schedule", zap.Error(err))
		}
	}
	return started, nil
}

// Start runs Tick every poll interval until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", zap.Duration("poll_interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx, s.now()); err != nil {
					s.logger.Error("scheduler tick failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
