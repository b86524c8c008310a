package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
	"github.com/ajitpratap0/orbit/pkg/store/storetest"
	"github.com/ajitpratap0/orbit/pkg/testutil"
)

func TestJobQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	tests := []struct {
		name        string
		filter      store.JobFilter
		oldestFirst bool
		wantSQL     string
		wantArgs    []any
	}{
		{
			name:    "no filter",
			wantSQL: "SELECT payload FROM orbit_jobs ORDER BY started_at DESC, id ASC",
		},
		{
			name:        "connector window",
			filter:      store.JobFilter{ConnectorID: "crm", Window: models.Window{From: from, To: to}},
			oldestFirst: true,
			wantSQL:     "SELECT payload FROM orbit_jobs WHERE connector_id = $1 AND started_at >= $2 AND started_at < $3 ORDER BY started_at ASC, id ASC",
			wantArgs:    []any{"crm", from, to},
		},
		{
			name: "statuses direction limit",
			filter: store.JobFilter{
				Direction: models.DirectionInbound,
				Statuses:  []models.JobStatus{models.JobStatusCompleted, models.JobStatusPartial},
				Limit:     1,
			},
			wantSQL:  "SELECT payload FROM orbit_jobs WHERE direction = $1 AND status = ANY($2) ORDER BY started_at DESC, id ASC LIMIT $3",
			wantArgs: []any{"inbound", []string{"completed", "partial"}, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := jobQuery(tt.filter, tt.oldestFirst)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestDecodeJobRestoresCollections(t *testing.T) {
	job, err := decodeJob([]byte(`{"id":"j1","connector_id":"crm","status":"completed"}`))
	require.NoError(t, err)
	assert.NotNil(t, job.Errors)
	assert.NotNil(t, job.CategoryCounts)
	assert.NotNil(t, job.Checkpoints)

	_, err = decodeJob([]byte(`{`))
	assert.Error(t, err)
}

func TestPostgresConformance(t *testing.T) {
	dsn := testutil.IntegrationEnv(t, "ORBIT_TEST_POSTGRES_DSN")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := Open(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 4, MigrateOnStart: true})
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s, uuid.NewString()+"-")
}
