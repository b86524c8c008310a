// Package store persists sync jobs and schedule definitions.
//
// Three backends implement Store: an in-memory one for tests and single
// process deployments (store/memory), PostgreSQL (store/postgres) and
// MongoDB (store/mongo). All of them hand out copies, so callers may
// mutate what they load without affecting what was saved.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Store is the persistence boundary of the engine and the scheduler.
type Store interface {
	// Save inserts or replaces a job by id.
	Save(ctx context.Context, job *models.SyncJob) error
	// Load returns a job or a NotFound error.
	Load(ctx context.Context, id string) (*models.SyncJob, error)
	// ListByConnector returns a connector's jobs started inside window,
	// oldest first.
	ListByConnector(ctx context.Context, connectorID string, window models.Window) ([]*models.SyncJob, error)
	// List returns jobs matching filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]*models.SyncJob, error)

	// SaveSchedule inserts or replaces a schedule by id.
	SaveSchedule(ctx context.Context, def *models.ScheduleDefinition) error
	// LoadSchedule returns a schedule or a NotFound error.
	LoadSchedule(ctx context.Context, id string) (*models.ScheduleDefinition, error)
	// ListSchedules returns every schedule ordered by id.
	ListSchedules(ctx context.Context) ([]*models.ScheduleDefinition, error)
	// ListDueSchedules returns schedules whose next run is at or before
	// now, enabled or not. Callers decide what to do with disabled ones.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduleDefinition, error)

	Close() error
}

// JobFilter narrows List. Zero fields match everything.
type JobFilter struct {
	ConnectorID string
	ScheduleID  string
	Direction   models.Direction
	Statuses    []models.JobStatus
	// Window bounds StartedAt
	Window models.Window
	// Limit caps the result when positive
	Limit int
}

// Matches reports whether job passes the filter.
func (f JobFilter) Matches(job *models.SyncJob) bool {
	if f.ConnectorID != "" && job.ConnectorID != f.ConnectorID {
		return false
	}
	if f.ScheduleID != "" && job.ScheduleID != f.ScheduleID {
		return false
	}
	if f.Direction != "" && job.Direction != f.Direction {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if job.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return f.Window.Contains(job.StartedAt)
}

// StatusStrings returns the statuses as plain strings for query drivers.
func (f JobFilter) StatusStrings() []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}

// SortNewestFirst orders jobs by StartedAt descending, then id.
func SortNewestFirst(jobs []*models.SyncJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.After(jobs[j].StartedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// SortOldestFirst orders jobs by StartedAt ascending, then id.
func SortOldestFirst(jobs []*models.SyncJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.Before(jobs[j].StartedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// JobNotFound is the error every backend returns for an unknown job id.
func JobNotFound(id string) error {
	return errors.Newf(errors.ErrorTypeNotFound, "job %s not found", id).WithDetail("job_id", id)
}

// ScheduleNotFound is the error every backend returns for an unknown schedule id.
func ScheduleNotFound(id string) error {
	return errors.Newf(errors.ErrorTypeNotFound, "schedule %s not found", id).WithDetail("schedule_id", id)
}

// ValidateJob rejects jobs that cannot be keyed.
func ValidateJob(job *models.SyncJob) error {
	if job == nil || job.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "job id is required")
	}
	return nil
}

// ValidateSchedule rejects schedules that cannot be keyed.
func ValidateSchedule(def *models.ScheduleDefinition) error {
	if def == nil || def.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "schedule id is required")
	}
	return nil
}

// Normalize restores the empty collections a decoder may leave nil.
func Normalize(job *models.SyncJob) *models.SyncJob {
	if job.Errors == nil {
		job.Errors = []models.ErrorEntry{}
	}
	if job.CategoryCounts == nil {
		job.CategoryCounts = map[string]int64{}
	}
	if job.Checkpoints == nil {
		job.Checkpoints = map[string]string{}
	}
	return job
}
