package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Config{Level: "chatty"})
	require.Error(t, err)
}

func TestWithContextAddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	ctx := ContextWithJob(context.Background(), "job-1", "crm")
	ctx = context.WithValue(ctx, ScheduleIDKey, "sched-9")
	WithContext(ctx).Info("batch done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "crm", fields["connector_id"])
	assert.Equal(t, "sched-9", fields["schedule_id"])
	assert.NotContains(t, fields, "request_id")
}

func TestWithContextRequestOnly(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	WithContext(ContextWithRequest(context.Background(), "req-1")).Info("handled")
	WithContext(ContextWithRequest(context.Background(), "")).Info("no id")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, map[string]interface{}{"request_id": "req-1"}, logs.All()[0].ContextMap())
	assert.Empty(t, logs.All()[1].ContextMap())
}

func TestReplaceRestores(t *testing.T) {
	first := zap.NewNop()
	restore := Replace(first)
	assert.Same(t, first, Get())

	second := zap.NewNop()
	restoreSecond := Replace(second)
	assert.Same(t, second, Get())
	restoreSecond()
	assert.Same(t, first, Get())
	restore()
}
