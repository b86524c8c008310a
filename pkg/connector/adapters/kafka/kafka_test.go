package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

type fakeCluster struct {
	partitions map[string][]int32
	oldest     map[string]int64
	newest     map[string]int64
	refreshErr error
	closed     bool
}

func (c *fakeCluster) Partitions(topic string) ([]int32, error) {
	p, ok := c.partitions[topic]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	return p, nil
}

func (c *fakeCluster) GetOffset(topic string, partition int32, at int64) (int64, error) {
	key := fmt.Sprintf("%s/%d", topic, partition)
	if at == sarama.OffsetOldest {
		return c.oldest[key], nil
	}
	return c.newest[key], nil
}

func (c *fakeCluster) RefreshMetadata(...string) error { return c.refreshErr }

func (c *fakeCluster) Close() error {
	c.closed = true
	return nil
}

func testConfig() Config {
	return Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "crm.", FetchWait: time.Second}
}

func TestFetchBatchWalksOffsets(t *testing.T) {
	cluster := &fakeCluster{
		partitions: map[string][]int32{"crm.orders": {0}},
		oldest:     map[string]int64{"crm.orders/0": 0},
		newest:     map[string]int64{"crm.orders/0": 3},
	}
	consumer := mocks.NewConsumer(t, nil)
	consumer.ExpectConsumePartition("crm.orders", 0, 0).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("o1"), Value: []byte(`{"id":"o1","total":5}`)}).
		YieldMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)}).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("o3"), Value: []byte(`{"id":"o3"}`)})
	producer := mocks.NewSyncProducer(t, nil)

	a := New("crm", testConfig(), cluster, consumer, producer)
	ctx := context.Background()

	first, err := a.FetchBatch(ctx, "orders", "", 2)
	require.NoError(t, err)
	require.Len(t, first.Records, 1)
	assert.Equal(t, "o1", first.Records[0].Ref)
	assert.Equal(t, float64(5), first.Records[0].Data["total"])
	require.Len(t, first.Rejected, 1)
	assert.Equal(t, "crm.orders/0/1", first.Rejected[0].Ref)
	assert.Equal(t, "0:2", first.NextCursor)
	assert.False(t, first.Done)

	second, err := a.FetchBatch(ctx, "orders", first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "o3", second.Records[0].Ref)
	assert.Equal(t, "0:3", second.NextCursor)
	assert.True(t, second.Done)

	third, err := a.FetchBatch(ctx, "orders", second.NextCursor, 2)
	require.NoError(t, err)
	assert.Empty(t, third.Records)
	assert.True(t, third.Done)

	require.NoError(t, a.Close())
	assert.True(t, cluster.closed)
}

func TestFetchBatchUnknownTopicIsRejected(t *testing.T) {
	a := New("crm", testConfig(), &fakeCluster{}, mocks.NewConsumer(t, nil), mocks.NewSyncProducer(t, nil))
	_, err := a.FetchBatch(context.Background(), "missing", "", 10)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectorRejected))
}

func TestPushBatchOutcomes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var data map[string]interface{}
		if err := json.Unmarshal(val, &data); err != nil {
			return err
		}
		if data["email"] != "a@x" {
			return fmt.Errorf("unexpected payload %v", data)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrMessageSizeTooLarge)
	producer.ExpectSendMessageAndSucceed()

	a := New("crm", testConfig(), &fakeCluster{}, mocks.NewConsumer(t, nil), producer)
	outcomes, err := a.PushBatch(context.Background(), "contacts", []models.Record{
		models.NewRecord("a", map[string]interface{}{"email": "a@x"}),
		models.NewRecord("b", map[string]interface{}{"email": "huge"}),
		models.NewRecord("c", map[string]interface{}{"email": "c@x"}),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Accepted)
	assert.False(t, outcomes[1].Accepted)
	assert.True(t, outcomes[2].Accepted)
	require.NoError(t, a.Close())
}

func TestPermanentProduceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{sarama.ErrMessageSizeTooLarge, true},
		{sarama.ErrMessageSetSizeTooLarge, true},
		{sarama.ErrInvalidRecord, true},
		{fmt.Errorf("send: %w", sarama.ErrTopicAuthorizationFailed), true},
		{sarama.ErrOutOfBrokers, false},
		{sarama.ErrNotLeaderForPartition, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, permanentProduceError(tt.err))
		})
	}
}

func TestPushBatchTransientFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	a := New("crm", testConfig(), &fakeCluster{}, mocks.NewConsumer(t, nil), producer)
	_, err := a.PushBatch(context.Background(), "contacts", []models.Record{models.NewRecord("a", nil)})
	assert.True(t, errors.IsRetryable(err))
	require.NoError(t, a.Close())
}

func TestTestConnection(t *testing.T) {
	cluster := &fakeCluster{}
	a := New("crm", testConfig(), cluster, mocks.NewConsumer(t, nil), mocks.NewSyncProducer(t, nil))

	res, err := a.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)

	cluster.refreshErr = stderrors.New("dial tcp: connection refused")
	res, err = a.TestConnection(context.Background())
	assert.False(t, res.OK)
	assert.True(t, errors.IsRetryable(err))
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor(map[int32]int64{2: 7, 0: 12})
	assert.Equal(t, "0:12,2:7", cursor)

	offsets, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, map[int32]int64{0: 12, 2: 7}, offsets)

	for _, bad := range []string{"x", "0:", "0:-1", "a:1"} {
		_, err := DecodeCursor(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigFromDescriptor(t *testing.T) {
	d := &models.ConnectorDescriptor{
		ID: "events",
		Options: map[string]string{
			"brokers":              "b1:9092, b2:9092",
			"sasl_mechanism":       "scram-sha-512",
			"producer_compression": "zstd",
			"topic.customers":      "crm-customers-v2",
		},
	}
	cfg, err := ConfigFromDescriptor(d, secrets.Credentials{"username": "u", "password": "p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Brokers)
	assert.Equal(t, "events.orders", cfg.Topic("orders"))
	assert.Equal(t, "crm-customers-v2", cfg.Topic("customers"))

	sc, err := cfg.SaramaConfig()
	require.NoError(t, err)
	assert.True(t, sc.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), sc.Net.SASL.Mechanism)
	assert.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)

	_, err = ConfigFromDescriptor(&models.ConnectorDescriptor{ID: "x"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
