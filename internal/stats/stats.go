// Package stats rolls up terminal sync jobs over a trailing window.
// It only reads job history.
package stats

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// terminalStatuses are the job states a summary counts.
var terminalStatuses = []models.JobStatus{
	models.JobStatusCompleted,
	models.JobStatusPartial,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// Totals are the counters shared by the summary and its breakdowns.
type Totals struct {
	Jobs      int `json:"jobs"`
	Completed int `json:"completed"`
	// Failures counts failed and partial jobs
	Failures  int `json:"failures"`
	Partial   int `json:"partial"`
	Cancelled int `json:"cancelled"`

	RecordsProcessed int64 `json:"records_processed"`
	RecordsFailed    int64 `json:"records_failed"`
	RecordsSkipped   int64 `json:"records_skipped"`

	// MeanDuration is the average job run time
	MeanDuration time.Duration `json:"mean_duration"`
	// SuccessRate is completed jobs over all jobs, 0 when there are none
	SuccessRate float64 `json:"success_rate"`
	// Throughput is records processed per second of job run time
	Throughput float64 `json:"throughput"`

	totalDuration time.Duration
}

func (t *Totals) add(job *models.SyncJob) {
	t.Jobs++
	switch job.Status {
	case models.JobStatusCompleted:
		t.Completed++
	case models.JobStatusPartial:
		t.Partial++
		t.Failures++
	case models.JobStatusFailed:
		t.Failures++
	case models.JobStatusCancelled:
		t.Cancelled++
	}
	t.RecordsProcessed += job.RecordsProcessed
	t.RecordsFailed += job.RecordsFailed
	t.RecordsSkipped += job.RecordsSkipped
	t.totalDuration += job.Duration()
}

func (t *Totals) finish() {
	if t.Jobs == 0 {
		return
	}
	t.MeanDuration = t.totalDuration / time.Duration(t.Jobs)
	t.SuccessRate = float64(t.Completed) / float64(t.Jobs)
	if t.totalDuration > 0 {
		t.Throughput = float64(t.RecordsProcessed) / t.totalDuration.Seconds()
	}
}

// Summary is the rollup of one window.
type Summary struct {
	Period models.Period `json:"period"`
	Window models.Window `json:"window"`
	Totals

	// Connectors breaks the totals down by connector id
	Connectors map[string]*Totals `json:"connectors"`
	// Categories counts processed records per data category
	Categories map[string]int64 `json:"categories"`
}

// Options tune one Summarize call.
type Options struct {
	// DistinguishEmpty overrides the configured behaviour for empty windows
	DistinguishEmpty *bool
	// ConnectorIDs restricts the summary; empty means every connector with
	// history in the window, registered or not
	ConnectorIDs []string
}

// Aggregator computes summaries from the job store.
type Aggregator struct {
	store            store.Store
	distinguishEmpty bool
	now              func() time.Time
	logger           *zap.Logger
}

// New creates an aggregator
func New(cfg config.StatsConfig, st store.Store) *Aggregator {
	return &Aggregator{
		store:            st,
		distinguishEmpty: cfg.DistinguishEmpty,
		now:              time.Now,
		logger:           logger.Get().With(zap.String("component", "stats")),
	}
}

// WithClock replaces time.Now
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Summarize aggregates terminal jobs started in the trailing window of
// period. An empty window yields an all-zero summary, or a NoData error
// when empty windows are distinguished.
func (a *Aggregator) Summarize(ctx context.Context, period models.Period, opts Options) (*Summary, error) {
	if period == "" {
		period = models.PeriodDay
	}
	if !period.Valid() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid period %q", period)
	}

	window := models.WindowFor(period, a.now())
	summary := &Summary{
		Period:     period,
		Window:     window,
		Connectors: map[string]*Totals{},
		Categories: map[string]int64{},
	}

	jobs, err := a.history(ctx, window, opts.ConnectorIDs)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		summary.add(job)
		per := summary.Connectors[job.ConnectorID]
		if per == nil {
			per = &Totals{}
			summary.Connectors[job.ConnectorID] = per
		}
		per.add(job)
		for category, n := range job.CategoryCounts {
			summary.Categories[category] += n
		}
	}

	distinguish := a.distinguishEmpty
	if opts.DistinguishEmpty != nil {
		distinguish = *opts.DistinguishEmpty
	}
	if summary.Jobs == 0 && distinguish {
		return nil, errors.Newf(errors.ErrorTypeNoData, "no terminal jobs in the last %s", period).
			WithDetail("from", window.From).
			WithDetail("to", window.To)
	}

	summary.finish()
	for _, per := range summary.Connectors {
		per.finish()
	}
	a.logger.Debug("summary computed",
		zap.String("period", string(period)),
		zap.Int("jobs", summary.Jobs),
		zap.Int("connectors", len(summary.Connectors)))
	return summary, nil
}

// history reads the terminal jobs of the window from the job store.
func (a *Aggregator) history(ctx context.Context, window models.Window, connectorIDs []string) ([]*models.SyncJob, error) {
	if len(connectorIDs) == 0 {
		jobs, err := a.store.List(ctx, store.JobFilter{Window: window, Statuses: terminalStatuses})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read job history")
		}
		return jobs, nil
	}

	ids := append([]string(nil), connectorIDs...)
	sort.Strings(ids)
	var jobs []*models.SyncJob
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		page, err := a.store.ListByConnector(ctx, id, window)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read job history").
				WithDetail("connector_id", id)
		}
		jobs = append(jobs, page...)
	}
	return jobs, nil
}
