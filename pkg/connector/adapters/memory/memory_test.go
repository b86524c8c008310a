package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

func records(n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.NewRecord(string(rune('a'+i)), map[string]interface{}{"n": i})
	}
	return out
}

func TestFetchBySlices(t *testing.T) {
	a := New().WithRecords("orders", records(5))
	ctx := context.Background()

	first, err := a.FetchBatch(ctx, "orders", "", 2)
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	assert.Equal(t, "2", first.NextCursor)
	assert.False(t, first.Done)

	second, err := a.FetchBatch(ctx, "orders", first.NextCursor, 2)
	require.NoError(t, err)
	third, err := a.FetchBatch(ctx, "orders", second.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, third.Records, 1)
	assert.True(t, third.Done)
	assert.Equal(t, "5", third.NextCursor)

	resumed, err := a.FetchBatch(ctx, "orders", "5", 2)
	require.NoError(t, err)
	assert.Empty(t, resumed.Records)
	assert.True(t, resumed.Done)
}

func TestFetchByPages(t *testing.T) {
	a := New().WithPages("orders",
		Page{Records: records(2)},
		Page{Records: records(1), Rejected: nil},
	)
	res, err := a.FetchBatch(context.Background(), "orders", "", 100)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.False(t, res.Done)

	res, err = a.FetchBatch(context.Background(), "orders", res.NextCursor, 100)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, 2, a.Calls(OpFetch, "orders"))
}

func TestScriptedFailures(t *testing.T) {
	unavailable := errors.New(errors.ErrorTypeConnectorUnavailable, "503")
	a := New().WithRecords("orders", records(1)).FailNext(OpFetch, "orders", unavailable, nil)

	_, err := a.FetchBatch(context.Background(), "orders", "", 10)
	assert.Equal(t, unavailable, err)
	_, err = a.FetchBatch(context.Background(), "orders", "", 10)
	assert.NoError(t, err)
	_, err = a.FetchBatch(context.Background(), "orders", "", 10)
	assert.NoError(t, err)
}

func TestPushOutcomes(t *testing.T) {
	a := New().RejectOnPush("orders", "b", "duplicate")
	outcomes, err := a.PushBatch(context.Background(), "orders", records(3))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Accepted)
	assert.False(t, outcomes[1].Accepted)
	assert.Equal(t, "duplicate", outcomes[1].Reason)
	assert.Len(t, a.Pushed("orders"), 2)
}

func TestLatencyHonoursDeadline(t *testing.T) {
	a := New().WithLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.FetchBatch(ctx, "orders", "", 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectorUnavailable))
}

func TestFactorySeeds(t *testing.T) {
	d := &models.ConnectorDescriptor{
		ID:         "demo",
		Family:     Family,
		Categories: []string{"orders"},
		Mappings: map[string]models.CategoryMapping{"orders": {Fields: []models.FieldMapping{
			{Canonical: "id", Native: "ext_id"},
			{Canonical: "total", Native: "amount", Type: models.FieldTypeNumber},
		}}},
		Options: map[string]string{"seed_records": "3"},
	}
	adapter, err := Factory(context.Background(), d, nil)
	require.NoError(t, err)

	res, err := adapter.FetchBatch(context.Background(), "orders", "", 10)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "orders-id-1", res.Records[0].Data["ext_id"])
	assert.Equal(t, float64(1), res.Records[0].Data["amount"])

	d.Options["seed_records"] = "many"
	_, err = Factory(context.Background(), d, nil)
	assert.Error(t, err)
}
