package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/mapping"
	"github.com/ajitpratap0/orbit/pkg/metrics"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/observability"
)

// runCategory drains one category batch by batch until the cursor reports
// the end of data, the job is halted or a batch fails.
func (e *Engine) runCategory(ctx context.Context, r *run, adapter core.ClientAdapter, category string) {
	table, err := mapping.TableFor(r.descriptor, category)
	if err != nil {
		r.abort(e.now(), category, err)
		return
	}

	cursor := r.checkpoint(category)
	for batch := 1; ; batch++ {
		if r.halted() {
			r.logger.Debug("category halted at batch boundary", zap.String("category", category), zap.Int("batch", batch))
			return
		}

		var (
			next string
			done bool
		)
		if r.job.Direction == models.DirectionOutbound {
			next, done, err = e.pushBatch(ctx, r, adapter, table, category, cursor)
		} else {
			next, done, err = e.pullBatch(ctx, r, adapter, table, category, cursor)
		}
		if err != nil {
			r.logger.Error("batch failed",
				zap.String("category", category),
				zap.Int("batch", batch),
				zap.Error(err))
			r.abort(e.now(), category, err)
			return
		}

		r.setCheckpoint(category, next)
		if done {
			return
		}
		if next == cursor {
			r.logger.Warn("cursor did not advance, treating category as drained",
				zap.String("category", category), zap.String("cursor", cursor))
			return
		}
		cursor = next
	}
}

// pullBatch fetches native records, maps them and writes them to the
// canonical sink.
func (e *Engine) pullBatch(ctx context.Context, r *run, adapter core.ClientAdapter, table *mapping.Table, category, cursor string) (string, bool, error) {
	ctx, span := observability.StartBatch(ctx, r.job.ConnectorID, category, "fetch", r.batchSize)

	var page core.FetchResult
	err := e.call(ctx, r, "fetch", true, func(callCtx context.Context) error {
		var err error
		page, err = adapter.FetchBatch(callCtx, category, cursor, r.batchSize)
		return err
	})
	if err != nil {
		observability.End(span, err)
		return "", false, fmt.Errorf("fetch %s: %w", category, err)
	}

	now := e.now()
	tally := &batchTally{attempted: page.Attempted()}
	for _, rejected := range page.Rejected {
		tally.fail(now, category, rejected.Ref, errors.ErrorTypeConnectorRejected, rejected.Reason)
	}

	accepted := make([]models.Record, 0, len(page.Records))
	for _, native := range page.Records {
		rec, err := table.ToCanonical(native)
		if err != nil {
			tally.fail(now, category, native.Ref, errors.GetType(err), err.Error())
			continue
		}
		if !mapping.Match(r.request.Filter, rec) {
			tally.skipped++
			continue
		}
		accepted = append(accepted, rec)
	}

	if len(accepted) > 0 {
		var outcomes []models.RecordOutcome
		err := e.call(ctx, r, "canonical_write", false, func(callCtx context.Context) error {
			var err error
			outcomes, err = e.canonical.Write(callCtx, category, accepted)
			return err
		})
		if err != nil {
			observability.End(span, err)
			return "", false, fmt.Errorf("canonical write %s: %w", category, err)
		}
		e.applyOutcomes(tally, category, accepted, outcomes)
	}

	r.apply(category, tally)
	metrics.ObserveRecords(r.job.ConnectorID, category, tally.processed, len(tally.failures), tally.skipped)
	observability.End(span, nil)

	next := page.NextCursor
	if next == "" {
		next = cursor
	}
	return next, page.Done, nil
}

// pushBatch reads canonical records, maps them to the native schema and
// pushes them to the connector.
func (e *Engine) pushBatch(ctx context.Context, r *run, adapter core.ClientAdapter, table *mapping.Table, category, cursor string) (string, bool, error) {
	ctx, span := observability.StartBatch(ctx, r.job.ConnectorID, category, "push", r.batchSize)

	page, err := e.canonical.Read(ctx, category, cursor, r.batchSize)
	if err != nil {
		observability.End(span, err)
		return "", false, fmt.Errorf("canonical read %s: %w", category, err)
	}

	now := e.now()
	tally := &batchTally{attempted: len(page.Records)}
	natives := make([]models.Record, 0, len(page.Records))
	for _, rec := range page.Records {
		if !mapping.Match(r.request.Filter, rec) {
			tally.skipped++
			continue
		}
		native, err := table.ToNative(rec)
		if err != nil {
			tally.fail(now, category, rec.Ref, errors.GetType(err), err.Error())
			continue
		}
		natives = append(natives, native)
	}

	if len(natives) > 0 {
		var outcomes []models.RecordOutcome
		err := e.call(ctx, r, "push", true, func(callCtx context.Context) error {
			var err error
			outcomes, err = adapter.PushBatch(callCtx, category, natives)
			return err
		})
		if err != nil {
			observability.End(span, err)
			return "", false, fmt.Errorf("push %s: %w", category, err)
		}
		e.applyOutcomes(tally, category, natives, outcomes)
	}

	r.apply(category, tally)
	metrics.ObserveRecords(r.job.ConnectorID, category, tally.processed, len(tally.failures), tally.skipped)
	observability.End(span, nil)

	next := page.NextCursor
	if next == "" {
		next = cursor
	}
	return next, page.Done, nil
}

// applyOutcomes counts per-record write results. A record the receiver did
// not report on is counted as rejected.
func (e *Engine) applyOutcomes(tally *batchTally, category string, sent []models.Record, outcomes []models.RecordOutcome) {
	now := e.now()
	reported := make([]bool, len(sent))
	for _, o := range outcomes {
		if o.Index < 0 || o.Index >= len(sent) || reported[o.Index] {
			continue
		}
		reported[o.Index] = true
		if o.Accepted {
			tally.processed++
			continue
		}
		ref := o.Ref
		if ref == "" {
			ref = sent[o.Index].Ref
		}
		kind := errors.ErrorTypeConnectorRejected
		if o.Kind != "" {
			kind = errors.ErrorType(o.Kind)
		}
		tally.fail(now, category, ref, kind, o.Reason)
	}
	for i, ok := range reported {
		if !ok {
			tally.fail(now, category, sent[i].Ref, errors.ErrorTypeConnectorRejected, "no outcome reported")
		}
	}
}

// call runs one call under the job's timeout, retrying transient failures
// with backoff. Limited calls reach the connector and wait for its rate limit.
func (e *Engine) call(ctx context.Context, r *run, op string, limited bool, fn func(context.Context) error) error {
	return r.retry.ExecuteRetryable(ctx, func() error {
		if limited {
			if err := r.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "rate limit wait interrupted")
			}
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()

		timer := metrics.NewTimer()
		err := classify(callCtx, fn(callCtx))
		metrics.ObserveCall(r.job.ConnectorID, op, timer.Stop(), err)
		return err
	})
}

// classify maps any adapter error onto the connector error taxonomy.
// Timeouts and untyped errors are transient; mapping errors keep their type;
// other typed errors are permanent rejections.
func classify(callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch errors.GetType(err) {
	case errors.ErrorTypeConnectorUnavailable, errors.ErrorTypeConnectorRejected, errors.ErrorTypeMapping:
		return err
	}
	if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "connector call timed out")
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		return errors.Wrap(err, errors.ErrorTypeConnectorRejected, "connector refused the call")
	}
	return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "connector call failed")
}
