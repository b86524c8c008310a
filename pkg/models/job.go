package models

import (
	"fmt"
	"time"
)

// SyncMode selects how much data a sync moves.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeRealTime    SyncMode = "real-time"
)

// Valid reports whether the mode is known.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental, SyncModeRealTime:
		return true
	}
	return false
}

// Resumes reports whether the mode continues from previous checkpoints.
func (m SyncMode) Resumes() bool {
	return m == SyncModeIncremental || m == SyncModeRealTime
}

// Direction selects which way records flow.
type Direction string

const (
	// DirectionInbound pulls from the connector into canonical storage
	DirectionInbound Direction = "inbound"
	// DirectionOutbound pushes canonical records to the connector
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether the direction is known.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled, JobStatusFailed},
	JobStatusRunning: {JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrorEntry records one failure that occurred while a job ran.
type ErrorEntry struct {
	Time      time.Time `json:"time" bson:"time"`
	Category  string    `json:"category,omitempty" bson:"category,omitempty"`
	RecordRef string    `json:"record_ref,omitempty" bson:"record_ref,omitempty"`
	// Kind is the originating error type (mapping, connector_rejected, ...)
	Kind    string `json:"kind" bson:"kind"`
	Message string `json:"message" bson:"message"`
}

// CancelledByCaller is the message of the marker appended on cancellation.
const CancelledByCaller = "cancelled by caller"

// SyncJob is one execution of a sync request.
type SyncJob struct {
	ID          string    `json:"id" bson:"_id"`
	ConnectorID string    `json:"connector_id" bson:"connector_id"`
	Mode        SyncMode  `json:"mode" bson:"mode"`
	Direction   Direction `json:"direction" bson:"direction"`
	Categories  []string  `json:"categories" bson:"categories"`
	Status      JobStatus `json:"status" bson:"status"`
	ScheduleID  string    `json:"schedule_id,omitempty" bson:"schedule_id,omitempty"`

	RecordsAttempted int64 `json:"records_attempted" bson:"records_attempted"`
	RecordsProcessed int64 `json:"records_processed" bson:"records_processed"`
	RecordsFailed    int64 `json:"records_failed" bson:"records_failed"`
	RecordsSkipped   int64 `json:"records_skipped" bson:"records_skipped"`

	Errors         []ErrorEntry      `json:"errors" bson:"errors"`
	CategoryCounts map[string]int64  `json:"category_counts" bson:"category_counts"`
	Checkpoints    map[string]string `json:"checkpoints,omitempty" bson:"checkpoints,omitempty"`

	StartedAt time.Time  `json:"started_at" bson:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
}

// NewSyncJob creates a pending job for an accepted request.
func NewSyncJob(id string, req SyncRequest, now time.Time) *SyncJob {
	categories := append([]string(nil), req.Categories...)
	counts := make(map[string]int64, len(categories))
	for _, c := range categories {
		counts[c] = 0
	}
	return &SyncJob{
		ID:             id,
		ConnectorID:    req.ConnectorID,
		Mode:           req.Mode,
		Direction:      req.EffectiveDirection(),
		Categories:     categories,
		Status:         JobStatusPending,
		ScheduleID:     req.ScheduleID,
		Errors:         []ErrorEntry{},
		CategoryCounts: counts,
		Checkpoints:    map[string]string{},
		StartedAt:      now,
	}
}

// Transition moves the job to next, ending it when next is terminal.
func (j *SyncJob) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid job transition %s -> %s", j.Status, next)
	}
	j.Status = next
	if next.IsTerminal() {
		end := now
		j.EndedAt = &end
	}
	return nil
}

// Duration returns the run time of an ended job, zero otherwise.
func (j *SyncJob) Duration() time.Duration {
	if j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(j.StartedAt)
}

// Clone returns a deep copy of the job.
func (j *SyncJob) Clone() *SyncJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Categories = append([]string(nil), j.Categories...)
	out.Errors = append([]ErrorEntry(nil), j.Errors...)
	if out.Errors == nil {
		out.Errors = []ErrorEntry{}
	}
	out.CategoryCounts = make(map[string]int64, len(j.CategoryCounts))
	for k, v := range j.CategoryCounts {
		out.CategoryCounts[k] = v
	}
	out.Checkpoints = make(map[string]string, len(j.Checkpoints))
	for k, v := range j.Checkpoints {
		out.Checkpoints[k] = v
	}
	if j.EndedAt != nil {
		end := *j.EndedAt
		out.EndedAt = &end
	}
	return &out
}
