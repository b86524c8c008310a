package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/connector/base"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

const (
	kindCancelled = "cancelled"
	kindStopped   = "stopped"

	// EngineStopped is the error message of jobs interrupted by Close.
	EngineStopped = "engine stopped"
)

// run is the in-memory state of one active job. The job is only mutated
// under mu; the flags are read at batch boundaries.
type run struct {
	mu  sync.Mutex
	job *models.SyncJob

	descriptor *models.ConnectorDescriptor
	request    models.SyncRequest
	batchSize  int
	timeout    time.Duration
	limiter    *clients.RateLimiter
	retry      *base.RetryPolicy
	logger     *zap.Logger

	cancelled   atomic.Bool
	stopped     atomic.Bool
	aborted     atomic.Bool
	failure     error
	cancelledAt time.Time

	done chan struct{}
}

// halted reports whether no further batch may start.
func (r *run) halted() bool {
	return r.cancelled.Load() || r.stopped.Load() || r.aborted.Load()
}

func (r *run) snapshot() *models.SyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

func (r *run) checkpoint(category string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Checkpoints[category]
}

func (r *run) setCheckpoint(category, cursor string) {
	r.mu.Lock()
	r.job.Checkpoints[category] = cursor
	r.mu.Unlock()
}

// batchTally is what one batch contributed to the job counters.
type batchTally struct {
	attempted int
	processed int
	skipped   int
	failures  []models.ErrorEntry
}

func (t *batchTally) fail(now time.Time, category, ref string, kind errors.ErrorType, msg string) {
	t.failures = append(t.failures, models.ErrorEntry{
		Time:      now,
		Category:  category,
		RecordRef: ref,
		Kind:      string(kind),
		Message:   msg,
	})
}

// apply folds a batch into the job. The batch in flight when a cancel
// arrives is still counted; the job only turns terminal in finish.
func (r *run) apply(category string, t *batchTally) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.RecordsAttempted += int64(t.attempted)
	r.job.RecordsProcessed += int64(t.processed)
	r.job.RecordsSkipped += int64(t.skipped)
	r.job.RecordsFailed += int64(len(t.failures))
	r.job.CategoryCounts[category] += int64(t.processed)
	r.job.Errors = append(r.job.Errors, t.failures...)
}

// abort records a batch-level failure. The first one decides the job.
func (r *run) abort(now time.Time, category string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Errors = append(r.job.Errors, models.ErrorEntry{
		Time:     now,
		Category: category,
		Kind:     string(errors.GetType(err)),
		Message:  err.Error(),
	})
	if r.failure == nil {
		r.failure = err
	}
	r.aborted.Store(true)
}

// cancel asks the job to stop at the next batch boundary. It reports false
// when the job already ended; the cancelled status is set by finish.
func (r *run) cancel(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status.IsTerminal() {
		return false
	}
	if r.cancelled.CompareAndSwap(false, true) {
		r.cancelledAt = now
	}
	return true
}

// begin moves the job to running unless it was cancelled or stopped while
// pending.
func (r *run) begin(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status != models.JobStatusPending || r.stopped.Load() || r.cancelled.Load() {
		return false
	}
	return r.job.Transition(models.JobStatusRunning, now) == nil
}

// finish settles the terminal status once every category returned.
func (r *run) finish(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status.IsTerminal() {
		return
	}

	next := models.JobStatusCompleted
	switch {
	case r.cancelled.Load():
		next = models.JobStatusCancelled
		r.job.Errors = append(r.job.Errors, models.ErrorEntry{Time: r.cancelledAt, Kind: kindCancelled, Message: models.CancelledByCaller})
	case r.stopped.Load() && r.failure == nil:
		next = models.JobStatusFailed
		r.job.Errors = append(r.job.Errors, models.ErrorEntry{Time: now, Kind: kindStopped, Message: EngineStopped})
	case r.failure != nil:
		next = models.JobStatusFailed
	case r.job.RecordsFailed > 0:
		next = models.JobStatusPartial
	}
	if err := r.job.Transition(next, now); err != nil {
		// Only reachable from pending, which can only be cancelled or failed.
		r.job.Status = models.JobStatusFailed
		end := now
		r.job.EndedAt = &end
		r.logger.Warn("forced job to failed", zap.Error(err))
	}
}
