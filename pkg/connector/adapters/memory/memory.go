// Package memory provides a scripted in-memory connector adapter. It serves
// the "memory" connector family and drives deterministic engine tests:
// pages, per-record rejections, failures and latency are all scripted.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// Family is the connector family served by this adapter
const Family = "memory"

// Operation names used by failure scripts and call hooks
const (
	OpTest  = "test"
	OpFetch = "fetch"
	OpPush  = "push"
	OpRaw   = "raw"
)

// Page is one scripted fetch result
type Page struct {
	Records  []models.Record
	Rejected []core.Rejection
}

// Adapter is a scripted client adapter
type Adapter struct {
	mu       sync.Mutex
	pages    map[string][]Page
	records  map[string][]models.Record
	pushed   map[string][]models.Record
	rejects  map[string]map[string]string
	failures map[string][]error
	always   map[string]error
	calls    map[string]int
	latency  time.Duration
	rawReply []byte
	closed   bool

	// OnCall runs before every operation, outside the adapter lock
	OnCall func(op, category string, call int)
}

// New creates an empty adapter
func New() *Adapter {
	return &Adapter{
		pages:    make(map[string][]Page),
		records:  make(map[string][]models.Record),
		pushed:   make(map[string][]models.Record),
		rejects:  make(map[string]map[string]string),
		failures: make(map[string][]error),
		always:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// WithPages scripts the exact pages returned for a category; the cursor is the page index
func (a *Adapter) WithPages(category string, pages ...Page) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages[category] = pages
	return a
}

// WithRecords seeds records served in batchSize slices; the cursor is the offset
func (a *Adapter) WithRecords(category string, records []models.Record) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[category] = records
	return a
}

// RejectOnPush makes PushBatch reject the record with the given ref
func (a *Adapter) RejectOnPush(category, ref, reason string) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rejects[category] == nil {
		a.rejects[category] = make(map[string]string)
	}
	a.rejects[category][ref] = reason
	return a
}

// FailNext queues errors returned by the next calls of op on category
func (a *Adapter) FailNext(op, category string, errs ...error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := op + "/" + category
	a.failures[key] = append(a.failures[key], errs...)
	return a
}

// FailAlways makes every call of op on category fail with err
func (a *Adapter) FailAlways(op, category string, err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.always[op+"/"+category] = err
	return a
}

// WithLatency delays every call
func (a *Adapter) WithLatency(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
	return a
}

// WithRawReply sets the body returned by ExecuteRaw
func (a *Adapter) WithRawReply(body []byte) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rawReply = body
	return a
}

// Calls returns how often op ran against category
func (a *Adapter) Calls(op, category string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op+"/"+category]
}

// Pushed returns the records accepted by PushBatch for a category
func (a *Adapter) Pushed(category string) []models.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Record(nil), a.pushed[category]...)
}

// Closed reports whether Close was called
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// TestConnection implements core.ClientAdapter
func (a *Adapter) TestConnection(ctx context.Context) (core.ConnectionResult, error) {
	start := time.Now()
	if err := a.begin(ctx, OpTest, ""); err != nil {
		return core.ConnectionResult{OK: false, Latency: time.Since(start), Message: err.Error()}, err
	}
	return core.ConnectionResult{OK: true, Latency: time.Since(start)}, nil
}

// FetchBatch implements core.ClientAdapter
func (a *Adapter) FetchBatch(ctx context.Context, category, cursor string, batchSize int) (core.FetchResult, error) {
	if err := a.begin(ctx, OpFetch, category); err != nil {
		return core.FetchResult{}, err
	}

	position := 0
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil || p < 0 {
			return core.FetchResult{}, errors.New(errors.ErrorTypeConnectorRejected, fmt.Sprintf("invalid cursor %q", cursor))
		}
		position = p
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if pages, ok := a.pages[category]; ok {
		if position >= len(pages) {
			return core.FetchResult{NextCursor: strconv.Itoa(len(pages)), Done: true}, nil
		}
		page := pages[position]
		return core.FetchResult{
			Records:    cloneRecords(page.Records),
			Rejected:   append([]core.Rejection(nil), page.Rejected...),
			NextCursor: strconv.Itoa(position + 1),
			Done:       position+1 >= len(pages),
		}, nil
	}

	records := a.records[category]
	if batchSize <= 0 {
		batchSize = len(records)
	}
	if position >= len(records) {
		return core.FetchResult{NextCursor: strconv.Itoa(len(records)), Done: true}, nil
	}
	end := position + batchSize
	if end > len(records) {
		end = len(records)
	}
	return core.FetchResult{
		Records:    cloneRecords(records[position:end]),
		NextCursor: strconv.Itoa(end),
		Done:       end >= len(records),
	}, nil
}

// PushBatch implements core.ClientAdapter
func (a *Adapter) PushBatch(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error) {
	if err := a.begin(ctx, OpPush, category); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	outcomes := make([]models.RecordOutcome, len(records))
	for i, r := range records {
		if reason, ok := a.rejects[category][r.Ref]; ok {
			outcomes[i] = models.Rejected(i, r.Ref, reason)
			continue
		}
		a.pushed[category] = append(a.pushed[category], r.Clone())
		outcomes[i] = models.Accepted(i, r.Ref)
	}
	return outcomes, nil
}

// ExecuteRaw implements core.ClientAdapter
func (a *Adapter) ExecuteRaw(ctx context.Context, endpoint models.CustomEndpointDefinition, payload []byte) ([]byte, error) {
	if err := a.begin(ctx, OpRaw, endpoint.URL); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rawReply != nil {
		return append([]byte(nil), a.rawReply...), nil
	}
	return append([]byte(nil), payload...), nil
}

// Close implements core.ClientAdapter
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// begin counts the call, runs the hook, applies latency and scripted failures
func (a *Adapter) begin(ctx context.Context, op, category string) error {
	key := op + "/" + category

	a.mu.Lock()
	a.calls[key]++
	call := a.calls[key]
	latency := a.latency
	hook := a.OnCall
	a.mu.Unlock()

	if hook != nil {
		hook(op, category, call)
	}

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeConnectorUnavailable, op+" timed out")
		case <-timer.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.always[key]; ok {
		return err
	}
	if queued := a.failures[key]; len(queued) > 0 {
		a.failures[key] = queued[1:]
		if queued[0] != nil {
			return queued[0]
		}
	}
	return nil
}

func cloneRecords(in []models.Record) []models.Record {
	out := make([]models.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Factory builds memory adapters for the registry. The "seed_records"
// option fills every category with generated native records shaped by the
// descriptor's mapping table.
func Factory(_ context.Context, d *models.ConnectorDescriptor, _ secrets.Credentials) (core.ClientAdapter, error) {
	a := New()
	seed, err := strconv.Atoi(d.Option("seed_records", "0"))
	if err != nil || seed < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "seed_records must be a non-negative integer").
			WithDetail("connector_id", d.ID)
	}
	for _, category := range d.Categories {
		a.WithRecords(category, Generate(d, category, seed))
	}
	return a, nil
}

// Generate creates n native records for a category of the descriptor
func Generate(d *models.ConnectorDescriptor, category string, n int) []models.Record {
	fields := d.Mappings[category].Fields
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Record, 0, n)
	for i := 0; i < n; i++ {
		ref := fmt.Sprintf("%s-%d", category, i+1)
		data := map[string]interface{}{}
		if len(fields) == 0 {
			data["id"] = ref
		}
		for _, f := range fields {
			t := f.NativeType
			if t == models.FieldTypeAny {
				t = f.Type
			}
			switch t {
			case models.FieldTypeNumber:
				data[f.Native] = float64(i + 1)
			case models.FieldTypeBoolean:
				data[f.Native] = i%2 == 0
			case models.FieldTypeDate:
				data[f.Native] = base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
			default:
				data[f.Native] = fmt.Sprintf("%s-%s-%d", category, f.Canonical, i+1)
			}
		}
		out = append(out, models.NewRecord(ref, data))
	}
	return out
}
