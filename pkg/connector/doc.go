// Package connector groups everything orbit needs to talk to external
// systems.
//
// # Architecture Overview
//
//   - core: the ClientAdapter contract every connector family implements
//     (TestConnection, FetchBatch, PushBatch, ExecuteRaw) and the helpers for
//     typed pass-through calls.
//
//   - registry: connector descriptors and the adapter factories of each
//     family. Descriptors are validated on registration; adapters are built
//     lazily with resolved credentials and cached until the descriptor is
//     replaced.
//
//   - base: the retry policy shared by adapter calls and job store saves,
//     and the background health checker.
//
//   - adapters: the connector families. rest speaks paged JSON over HTTP
//     with optional OAuth2 client credentials, kafka reads and writes one
//     topic per category through sarama, memory is an in-process system for
//     tests and demos.
//
// # Writing a Family
//
// A family is a registry.AdapterFactory:
//
//	func Factory(ctx context.Context, d *models.ConnectorDescriptor, creds secrets.Credentials) (core.ClientAdapter, error)
//
// Adapters return typed errors from pkg/errors. connector_unavailable is
// retried with exponential backoff by the engine; connector_rejected fails
// the batch. Per-record refusals are reported as RecordOutcome or
// FetchResult.Rejected, never as an error.
package connector
