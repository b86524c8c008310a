// Package postgres stores jobs and schedules in PostgreSQL. Each row keeps
// the indexed columns the queries filter on next to the full JSONB payload.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS orbit_jobs (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	schedule_id  TEXT NOT NULL DEFAULT '',
	direction    TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orbit_jobs_connector_started ON orbit_jobs (connector_id, started_at);
CREATE INDEX IF NOT EXISTS orbit_jobs_started ON orbit_jobs (started_at);

CREATE TABLE IF NOT EXISTS orbit_schedules (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	enabled      BOOLEAN NOT NULL,
	next_run_at  TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orbit_schedules_next_run ON orbit_schedules (next_run_at);
`

const upsertJob = `
INSERT INTO orbit_jobs (id, connector_id, schedule_id, direction, status, started_at, ended_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	connector_id = EXCLUDED.connector_id,
	schedule_id  = EXCLUDED.schedule_id,
	direction    = EXCLUDED.direction,
	status       = EXCLUDED.status,
	started_at   = EXCLUDED.started_at,
	ended_at     = EXCLUDED.ended_at,
	payload      = EXCLUDED.payload`

const upsertSchedule = `
INSERT INTO orbit_schedules (id, connector_id, enabled, next_run_at, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	connector_id = EXCLUDED.connector_id,
	enabled      = EXCLUDED.enabled,
	next_run_at  = EXCLUDED.next_run_at,
	payload      = EXCLUDED.payload`

// Store is a pgxpool-backed store.Store
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects a pool and, when configured, creates the tables.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse postgres dsn")
	}
	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to reach postgres")
	}

	s := New(pool)
	if cfg.MigrateOnStart {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	s.logger.Info("connected to postgres",
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Bool("migrated", cfg.MigrateOnStart))
	return s, nil
}

// New wraps an existing pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: logger.Get().With(zap.String("component", "store.postgres")),
	}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to migrate postgres schema")
	}
	return nil
}

func (s *Store) Save(ctx context.Context, job *models.SyncJob) error {
	if err := store.ValidateJob(job); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to encode job")
	}
	_, err = s.pool.Exec(ctx, upsertJob,
		job.ID, job.ConnectorID, job.ScheduleID, string(job.Direction), string(job.Status),
		job.StartedAt, job.EndedAt, payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to save job").WithDetail("job_id", job.ID)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*models.SyncJob, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM orbit_jobs WHERE id = $1`, id).Scan(&payload)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.JobNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to load job").WithDetail("job_id", id)
	}
	return decodeJob(payload)
}

func (s *Store) ListByConnector(ctx context.Context, connectorID string, window models.Window) ([]*models.SyncJob, error) {
	query, args := jobQuery(store.JobFilter{ConnectorID: connectorID, Window: window}, true)
	return s.queryJobs(ctx, query, args)
}

func (s *Store) List(ctx context.Context, filter store.JobFilter) ([]*models.SyncJob, error) {
	query, args := jobQuery(filter, false)
	return s.queryJobs(ctx, query, args)
}

func (s *Store) queryJobs(ctx context.Context, query string, args []any) ([]*models.SyncJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to query jobs")
	}
	defer rows.Close()

	jobs := make([]*models.SyncJob, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to scan job")
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read jobs")
	}
	return jobs, nil
}

func (s *Store) SaveSchedule(ctx context.Context, def *models.ScheduleDefinition) error {
	if err := store.ValidateSchedule(def); err != nil {
		return err
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to encode schedule")
	}
	if _, err := s.pool.Exec(ctx, upsertSchedule, def.ID, def.ConnectorID, def.Enabled, def.NextRunAt, payload); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to save schedule").WithDetail("schedule_id", def.ID)
	}
	return nil
}

func (s *Store) LoadSchedule(ctx context.Context, id string) (*models.ScheduleDefinition, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM orbit_schedules WHERE id = $1`, id).Scan(&payload)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.ScheduleNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to load schedule").WithDetail("schedule_id", id)
	}
	return decodeSchedule(payload)
}

func (s *Store) ListSchedules(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT payload FROM orbit_schedules ORDER BY id`)
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduleDefinition, error) {
	return s.querySchedules(ctx, `SELECT payload FROM orbit_schedules WHERE next_run_at <= $1 ORDER BY id`, now)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]*models.ScheduleDefinition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to query schedules")
	}
	defer rows.Close()

	defs := make([]*models.ScheduleDefinition, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to scan schedule")
		}
		def, err := decodeSchedule(payload)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read schedules")
	}
	return defs, nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// jobQuery renders a filter as a parameterised SELECT over orbit_jobs.
func jobQuery(f store.JobFilter, oldestFirst bool) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ConnectorID != "" {
		add("connector_id = $%d", f.ConnectorID)
	}
	if f.ScheduleID != "" {
		add("schedule_id = $%d", f.ScheduleID)
	}
	if f.Direction != "" {
		add("direction = $%d", string(f.Direction))
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", f.StatusStrings())
	}
	if !f.Window.From.IsZero() {
		add("started_at >= $%d", f.Window.From)
	}
	if !f.Window.To.IsZero() {
		add("started_at < $%d", f.Window.To)
	}

	var b strings.Builder
	b.WriteString("SELECT payload FROM orbit_jobs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if oldestFirst {
		b.WriteString(" ORDER BY started_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY started_at DESC, id ASC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func decodeJob(payload []byte) (*models.SyncJob, error) {
	var job models.SyncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to decode job")
	}
	return store.Normalize(&job), nil
}

func decodeSchedule(payload []byte) (*models.ScheduleDefinition, error) {
	var def models.ScheduleDefinition
	if err := json.Unmarshal(payload, &def); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to decode schedule")
	}
	return &def, nil
}
