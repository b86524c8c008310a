package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestJobTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := NewSyncJob("j1", SyncRequest{ConnectorID: "crm", Mode: SyncModeFull, Categories: []string{"orders"}}, now)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, DirectionInbound, job.Direction)
	require.NoError(t, job.Transition(JobStatusRunning, now))
	assert.Nil(t, job.EndedAt)

	require.NoError(t, job.Transition(JobStatusCompleted, now.Add(time.Minute)))
	require.NotNil(t, job.EndedAt)
	assert.Equal(t, time.Minute, job.Duration())

	// terminal states never move again
	for _, next := range []JobStatus{JobStatusRunning, JobStatusPending, JobStatusCancelled, JobStatusFailed} {
		assert.Error(t, job.Transition(next, now))
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusPartial, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := &ConnectorDescriptor{
		ID:         "crm",
		Categories: []string{"orders"},
		Mappings: map[string]CategoryMapping{
			"orders": {Fields: []FieldMapping{{Canonical: "id", Native: "ext_id"}}},
		},
		Options: map[string]string{"base_url": "http://x"},
	}
	c := d.Clone()
	c.Categories[0] = "changed"
	c.Mappings["orders"].Fields[0].Native = "changed"
	c.Options["base_url"] = "changed"

	assert.Equal(t, "orders", d.Categories[0])
	assert.Equal(t, "ext_id", d.Mappings["orders"].Fields[0].Native)
	assert.Equal(t, "http://x", d.Options["base_url"])
}

func TestDurationYAML(t *testing.T) {
	var policy RateLimitPolicy
	require.NoError(t, yaml.Unmarshal([]byte("requests_per_minute: 60\ncall_timeout: 15s\n"), &policy))
	assert.Equal(t, 60, policy.RequestsPerMinute)
	assert.Equal(t, 15*time.Second, policy.CallTimeout.Std())

	out, err := yaml.Marshal(policy)
	require.NoError(t, err)
	assert.Contains(t, string(out), "call_timeout: 15s")
}

func TestWindowFor(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	day := WindowFor(PeriodDay, now)
	assert.True(t, day.Contains(now))
	assert.True(t, day.Contains(now.Add(-23*time.Hour)))
	assert.False(t, day.Contains(now.Add(-25*time.Hour)))
	assert.False(t, day.Contains(now.Add(time.Second)))

	month := WindowFor(PeriodMonth, now)
	assert.Equal(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC), month.From)
}

func TestScheduleRequestDefaults(t *testing.T) {
	def := &ScheduleDefinition{ID: "s1", ConnectorID: "crm", Categories: []string{"orders"}, Frequency: FrequencyDaily}
	req := def.Request()
	assert.Equal(t, SyncModeIncremental, req.Mode)
	assert.Equal(t, "s1", req.ScheduleID)
	assert.Equal(t, DirectionInbound, req.EffectiveDirection())
}
