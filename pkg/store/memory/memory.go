// Package memory is the in-process job and schedule store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// Store keeps jobs and schedules in maps guarded by one RWMutex.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*models.SyncJob
	schedules map[string]*models.ScheduleDefinition
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		jobs:      make(map[string]*models.SyncJob),
		schedules: make(map[string]*models.ScheduleDefinition),
	}
}

func (s *Store) Save(_ context.Context, job *models.SyncJob) error {
	if err := store.ValidateJob(job); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.ID] = job.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Load(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.JobNotFound(id)
	}
	return job.Clone(), nil
}

func (s *Store) ListByConnector(_ context.Context, connectorID string, window models.Window) ([]*models.SyncJob, error) {
	jobs := s.collect(store.JobFilter{ConnectorID: connectorID, Window: window})
	store.SortOldestFirst(jobs)
	return jobs, nil
}

func (s *Store) List(_ context.Context, filter store.JobFilter) ([]*models.SyncJob, error) {
	jobs := s.collect(filter)
	store.SortNewestFirst(jobs)
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (s *Store) collect(filter store.JobFilter) []*models.SyncJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SyncJob, 0)
	for _, job := range s.jobs {
		if filter.Matches(job) {
			out = append(out, job.Clone())
		}
	}
	return out
}

func (s *Store) SaveSchedule(_ context.Context, def *models.ScheduleDefinition) error {
	if err := store.ValidateSchedule(def); err != nil {
		return err
	}
	s.mu.Lock()
	s.schedules[def.ID] = def.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) LoadSchedule(_ context.Context, id string) (*models.ScheduleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.schedules[id]
	if !ok {
		return nil, store.ScheduleNotFound(id)
	}
	return def.Clone(), nil
}

func (s *Store) ListSchedules(_ context.Context) ([]*models.ScheduleDefinition, error) {
	return s.schedulesWhere(func(*models.ScheduleDefinition) bool { return true }), nil
}

func (s *Store) ListDueSchedules(_ context.Context, now time.Time) ([]*models.ScheduleDefinition, error) {
	return s.schedulesWhere(func(def *models.ScheduleDefinition) bool {
		return !def.NextRunAt.After(now)
	}), nil
}

func (s *Store) schedulesWhere(keep func(*models.ScheduleDefinition) bool) []*models.ScheduleDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduleDefinition, 0, len(s.schedules))
	for _, def := range s.schedules {
		if keep(def) {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close is a no-op
func (s *Store) Close() error { return nil }
