package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/orbit/pkg/models"
)

// ConnectionResult is the outcome of a connectivity check
type ConnectionResult struct {
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Rejection is a record the connector returned but refused to release
type Rejection struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// FetchResult is one page of native records
type FetchResult struct {
	Records  []models.Record
	Rejected []Rejection
	// NextCursor continues the read; when Done it is the resume point for incremental syncs
	NextCursor string
	// Done marks the end of data
	Done bool
}

// Attempted returns the number of records the page accounts for
func (r FetchResult) Attempted() int {
	return len(r.Records) + len(r.Rejected)
}

// ClientAdapter is implemented once per connector family. It is the only
// place where transport specifics enter the system.
//
// Every operation may fail with a connector_unavailable error (transient,
// retried by the engine) or a connector_rejected error (permanent).
type ClientAdapter interface {
	// TestConnection checks connectivity and reports the round-trip latency.
	// It is never called from inside a running job.
	TestConnection(ctx context.Context) (ConnectionResult, error)

	// FetchBatch reads one page of native records for a category.
	FetchBatch(ctx context.Context, category, cursor string, batchSize int) (FetchResult, error)

	// PushBatch writes native records and reports one outcome per record.
	PushBatch(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error)

	// ExecuteRaw performs a pass-through call described by the endpoint.
	ExecuteRaw(ctx context.Context, endpoint models.CustomEndpointDefinition, payload []byte) ([]byte, error)

	// Close releases transport resources
	Close() error
}
