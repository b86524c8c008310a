// Package orbit synchronizes records between external business systems and
// a canonical store.
//
// A connector describes one external system: its family (rest, kafka or
// memory), the data categories it supports, the field mapping between its
// native records and canonical records, and its rate limits. Sync jobs move
// the records of one or more categories in either direction, fully or
// incrementally from the last checkpoint, and are tracked in a durable job
// store so their status and counts survive restarts.
//
// # Architecture
//
//	internal/engine    - runs sync jobs: batching, mapping, filtering, retries
//	internal/scheduler - fires recurring syncs (hourly, daily, weekly, monthly)
//	internal/stats     - rolls up job history over a trailing window
//	internal/service   - the operations offered to the API and the CLI
//	internal/api       - HTTP API on chi
//	pkg/connector      - adapter contract, registry and adapter families
//	pkg/mapping        - native and canonical record translation
//	pkg/store          - job and schedule store (memory, PostgreSQL, MongoDB)
//	pkg/canonical      - canonical record store (memory, Kafka)
//	pkg/archive        - job history export to S3
//	pkg/errors         - typed errors shared by every layer
//	pkg/logger         - structured logging on zap
//	pkg/metrics        - Prometheus collectors
//
// # Quick Start
//
// Start the service with a configuration file:
//
//	orbit validate --config orbit.yaml
//	orbit serve --config orbit.yaml
//
// Then start a sync over HTTP:
//
//	curl -X POST localhost:8080/api/v1/jobs -d '{
//	    "connector_id": "crm",
//	    "mode": "incremental",
//	    "categories": ["contacts"],
//	    "recurrence": "0 2 * * *"
//	}'
//
// # Configuration
//
// Configuration is YAML. ${VAR_NAME} and ${VAR_NAME:-fallback} are replaced
// from the environment before parsing, and ORBIT_CONFIG, ORBIT_LOG_LEVEL and
// ORBIT_LISTEN override the matching flags. Connector credentials are never
// stored in the configuration: a descriptor names a credential reference
// that is resolved from the environment when its adapter is built.
package orbit
