// Package storetest holds behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

// Run exercises s. Ids are prefixed so the suite can share a database
// with other data; backends should still start from empty tables.
func Run(t *testing.T, s store.Store, prefix string) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	connector := prefix + "crm"

	newJob := func(id string, status models.JobStatus, startedAt time.Time) *models.SyncJob {
		j := models.NewSyncJob(prefix+id, models.SyncRequest{
			ConnectorID: connector,
			Mode:        models.SyncModeIncremental,
			Categories:  []string{"orders"},
		}, startedAt)
		j.Status = status
		return j
	}

	t.Run("job round trip", func(t *testing.T) {
		j := newJob("j1", models.JobStatusRunning, base)
		j.CategoryCounts["orders"] = 7
		j.Checkpoints["orders"] = "cursor-7"
		j.Errors = append(j.Errors, models.ErrorEntry{Time: base, Category: "orders", Kind: "mapping", Message: "bad"})
		require.NoError(t, s.Save(ctx, j))

		require.NoError(t, j.Transition(models.JobStatusCompleted, base.Add(time.Minute)))
		require.NoError(t, s.Save(ctx, j), "save must upsert")

		loaded, err := s.Load(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, loaded.Status)
		assert.Equal(t, int64(7), loaded.CategoryCounts["orders"])
		assert.Equal(t, "cursor-7", loaded.Checkpoints["orders"])
		require.Len(t, loaded.Errors, 1)
		require.NotNil(t, loaded.EndedAt)
		assert.WithinDuration(t, base.Add(time.Minute), *loaded.EndedAt, time.Millisecond)

		_, err = s.Load(ctx, prefix+"missing")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("list by connector window", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, newJob("w2", models.JobStatusFailed, base.Add(2*time.Hour))))
		require.NoError(t, s.Save(ctx, newJob("w1", models.JobStatusCompleted, base.Add(time.Hour))))
		require.NoError(t, s.Save(ctx, newJob("w0", models.JobStatusCompleted, base.Add(-time.Hour))))

		jobs, err := s.ListByConnector(ctx, connector, models.Window{From: base.Add(30 * time.Minute), To: base.Add(3 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, prefix+"w1", jobs[0].ID)
		assert.Equal(t, prefix+"w2", jobs[1].ID)
	})

	t.Run("list filter newest first", func(t *testing.T) {
		jobs, err := s.List(ctx, store.JobFilter{
			ConnectorID: connector,
			Statuses:    []models.JobStatus{models.JobStatusCompleted},
			Limit:       2,
		})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, prefix+"w1", jobs[0].ID)
		assert.Equal(t, prefix+"j1", jobs[1].ID)
	})

	t.Run("schedules", func(t *testing.T) {
		weekday := time.Friday
		defs := []*models.ScheduleDefinition{
			{ID: prefix + "s-due-disabled", ConnectorID: connector, Frequency: models.FrequencyDaily, NextRunAt: base.Add(-time.Hour)},
			{ID: prefix + "s-due", ConnectorID: connector, Frequency: models.FrequencyWeekly, Weekday: &weekday, NextRunAt: base, Enabled: true},
			{ID: prefix + "s-later", ConnectorID: connector, Frequency: models.FrequencyHourly, NextRunAt: base.Add(time.Hour), Enabled: true},
		}
		for _, def := range defs {
			require.NoError(t, s.SaveSchedule(ctx, def))
		}

		due, err := s.ListDueSchedules(ctx, base)
		require.NoError(t, err)
		ids := make([]string, 0, len(due))
		for _, def := range due {
			ids = append(ids, def.ID)
		}
		assert.Contains(t, ids, prefix+"s-due")
		assert.Contains(t, ids, prefix+"s-due-disabled")
		assert.NotContains(t, ids, prefix+"s-later")

		loaded, err := s.LoadSchedule(ctx, prefix+"s-due")
		require.NoError(t, err)
		require.NotNil(t, loaded.Weekday)
		assert.Equal(t, time.Friday, *loaded.Weekday)

		_, err = s.LoadSchedule(ctx, prefix+"nope")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

		all, err := s.ListSchedules(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})
}
