// Package kafka implements the client adapter for connectors whose records
// live on Kafka topics, one topic per category. Fetch cursors are partition
// offsets ("0:12,1:40"); pushes produce one keyed message per record.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// Family is the connector family served by this adapter
const Family = "kafka"

const defaultBatchSize = 500

// Cluster is the subset of sarama.Client the adapter needs
type Cluster interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
	RefreshMetadata(topics ...string) error
	Close() error
}

type openPartition struct {
	consumer sarama.PartitionConsumer
	next     int64
}

// Adapter reads and writes one connector's topics
type Adapter struct {
	connectorID string
	config      Config
	cluster     Cluster
	consumer    sarama.Consumer
	producer    sarama.SyncProducer
	logger      *zap.Logger

	mu   sync.Mutex
	open map[string]*openPartition
}

// Factory builds Kafka adapters for the registry
func Factory(_ context.Context, d *models.ConnectorDescriptor, creds secrets.Credentials) (core.ClientAdapter, error) {
	cfg, err := ConfigFromDescriptor(d, creds)
	if err != nil {
		return nil, err
	}
	return Dial(d.ID, cfg)
}

// Dial connects a client, consumer and producer for cfg
func Dial(connectorID string, cfg Config) (*Adapter, error) {
	saramaConfig, err := cfg.SaramaConfig()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to connect to kafka")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to create kafka consumer")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to create kafka producer")
	}
	return New(connectorID, cfg, client, consumer, producer), nil
}

// New assembles an adapter from already connected parts
func New(connectorID string, cfg Config, cluster Cluster, consumer sarama.Consumer, producer sarama.SyncProducer) *Adapter {
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}
	return &Adapter{
		connectorID: connectorID,
		config:      cfg,
		cluster:     cluster,
		consumer:    consumer,
		producer:    producer,
		logger: logger.Get().With(
			zap.String("component", "kafka_adapter"),
			zap.String("connector_id", connectorID),
		),
		open: make(map[string]*openPartition),
	}
}

// TestConnection implements core.ClientAdapter
func (a *Adapter) TestConnection(ctx context.Context) (core.ConnectionResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return core.ConnectionResult{Message: err.Error()}, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "connection test cancelled")
	}
	if err := a.cluster.RefreshMetadata(); err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to refresh kafka metadata")
		return core.ConnectionResult{Latency: time.Since(start), Message: err.Error()}, wrapped
	}
	return core.ConnectionResult{OK: true, Latency: time.Since(start)}, nil
}

// FetchBatch implements core.ClientAdapter. It consumes up to batchSize
// messages below each partition's high water mark observed at call time.
func (a *Adapter) FetchBatch(ctx context.Context, category, cursor string, batchSize int) (core.FetchResult, error) {
	topic := a.config.Topic(category)
	offsets, err := DecodeCursor(cursor)
	if err != nil {
		return core.FetchResult{}, err
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	partitions, err := a.cluster.Partitions(topic)
	if err != nil {
		return core.FetchResult{}, classify(err, "failed to list partitions")
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	result := core.FetchResult{Done: true}
	remaining := batchSize
	for _, partition := range partitions {
		next, known := offsets[partition]
		if !known {
			if next, err = a.cluster.GetOffset(topic, partition, sarama.OffsetOldest); err != nil {
				return core.FetchResult{}, classify(err, "failed to read oldest offset")
			}
		}
		highWater, err := a.cluster.GetOffset(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return core.FetchResult{}, classify(err, "failed to read newest offset")
		}

		for remaining > 0 && next < highWater {
			msg, err := a.nextMessage(ctx, topic, partition, next)
			if err != nil {
				return core.FetchResult{}, err
			}
			next = msg.Offset + 1
			remaining--

			ref := messageRef(msg)
			var data map[string]interface{}
			if err := json.Unmarshal(msg.Value, &data); err != nil || data == nil {
				result.Rejected = append(result.Rejected, core.Rejection{Ref: ref, Reason: "message is not a JSON object"})
				continue
			}
			result.Records = append(result.Records, models.NewRecord(ref, data))
		}
		offsets[partition] = next
		if next < highWater {
			result.Done = false
		}
	}
	result.NextCursor = EncodeCursor(offsets)
	return result, nil
}

func (a *Adapter) nextMessage(ctx context.Context, topic string, partition int32, offset int64) (*sarama.ConsumerMessage, error) {
	pc, err := a.partitionConsumer(topic, partition, offset)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(a.config.FetchWait)
	defer timer.Stop()

	select {
	case msg, ok := <-pc.consumer.Messages():
		if !ok {
			a.dropPartition(topic, partition)
			return nil, errors.New(errors.ErrorTypeConnectorUnavailable, "partition consumer closed")
		}
		pc.next = msg.Offset + 1
		return msg, nil
	case cerr, ok := <-pc.consumer.Errors():
		a.dropPartition(topic, partition)
		if !ok || cerr == nil {
			return nil, errors.New(errors.ErrorTypeConnectorUnavailable, "partition consumer closed")
		}
		return nil, classify(cerr.Err, "failed to consume partition")
	case <-timer.C:
		return nil, errors.Newf(errors.ErrorTypeConnectorUnavailable, "no message at offset %d of %s/%d within %s",
			offset, topic, partition, a.config.FetchWait)
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeConnectorUnavailable, "fetch interrupted")
	}
}

// partitionConsumer reuses the open consumer when it is positioned at offset
func (a *Adapter) partitionConsumer(topic string, partition int32, offset int64) (*openPartition, error) {
	key := fmt.Sprintf("%s/%d", topic, partition)

	a.mu.Lock()
	defer a.mu.Unlock()

	if pc, ok := a.open[key]; ok {
		if pc.next == offset {
			return pc, nil
		}
		if err := pc.consumer.Close(); err != nil {
			a.logger.Warn("failed to close partition consumer", zap.String("partition", key), zap.Error(err))
		}
		delete(a.open, key)
	}

	consumer, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, classify(err, "failed to start partition consumer")
	}
	pc := &openPartition{consumer: consumer, next: offset}
	a.open[key] = pc
	return pc, nil
}

func (a *Adapter) dropPartition(topic string, partition int32) {
	key := fmt.Sprintf("%s/%d", topic, partition)
	a.mu.Lock()
	defer a.mu.Unlock()
	if pc, ok := a.open[key]; ok {
		pc.consumer.AsyncClose()
		delete(a.open, key)
	}
}

// PushBatch implements core.ClientAdapter. Messages are produced one at a
// time so every record gets its own outcome; a transient failure aborts the
// batch and records produced before it may be produced again on retry.
func (a *Adapter) PushBatch(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error) {
	topic := a.config.Topic(category)
	outcomes := make([]models.RecordOutcome, len(records))

	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "push interrupted")
		}

		value, err := json.Marshal(r.Data)
		if err != nil {
			outcomes[i] = models.Rejected(i, r.Ref, "record is not JSON encodable")
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(r.Ref),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("category"), Value: []byte(category)},
				{Key: []byte("connector_id"), Value: []byte(a.connectorID)},
			},
		}

		partition, offset, err := a.producer.SendMessage(msg)
		switch {
		case err == nil:
			outcomes[i] = models.Accepted(i, r.Ref)
			a.logger.Debug("produced record",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset))
		case permanentProduceError(err):
			outcomes[i] = models.Rejected(i, r.Ref, err.Error())
		default:
			return nil, classify(err, "failed to produce record")
		}
	}
	return outcomes, nil
}

// ExecuteRaw implements core.ClientAdapter. The endpoint URL names the
// topic; the payload is produced as-is and the reply reports its position.
func (a *Adapter) ExecuteRaw(ctx context.Context, endpoint models.CustomEndpointDefinition, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "raw call interrupted")
	}
	topic := strings.TrimPrefix(endpoint.URL, "kafka://")
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	for k, v := range endpoint.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	partition, offset, err := a.producer.SendMessage(msg)
	if err != nil {
		if permanentProduceError(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeConnectorRejected, "raw message rejected")
		}
		return nil, classify(err, "failed to produce raw message")
	}
	return json.Marshal(map[string]interface{}{"topic": topic, "partition": partition, "offset": offset})
}

// Close implements core.ClientAdapter
func (a *Adapter) Close() error {
	a.mu.Lock()
	for key, pc := range a.open {
		if err := pc.consumer.Close(); err != nil {
			a.logger.Warn("failed to close partition consumer", zap.String("partition", key), zap.Error(err))
		}
	}
	a.open = make(map[string]*openPartition)
	a.mu.Unlock()

	var firstErr error
	for _, closer := range []interface{ Close() error }{a.producer, a.consumer, a.cluster} {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func messageRef(msg *sarama.ConsumerMessage) string {
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

// permanentProduceError reports broker refusals that retrying cannot fix
func permanentProduceError(err error) bool {
	for _, kerr := range []sarama.KError{
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrInvalidMessage,
		sarama.ErrInvalidMessageSize,
		sarama.ErrMessageSetSizeTooLarge,
		sarama.ErrInvalidRecord,
		sarama.ErrTopicAuthorizationFailed,
	} {
		if errors.Is(err, kerr) {
			return true
		}
	}
	return false
}

func classify(err error, msg string) error {
	if permanentProduceError(err) || errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		return errors.Wrap(err, errors.ErrorTypeConnectorRejected, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, msg)
}

// EncodeCursor renders partition offsets in partition order
func EncodeCursor(offsets map[int32]int64) string {
	partitions := make([]int32, 0, len(offsets))
	for p := range offsets {
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	parts := make([]string, len(partitions))
	for i, p := range partitions {
		parts[i] = fmt.Sprintf("%d:%d", p, offsets[p])
	}
	return strings.Join(parts, ",")
}

// DecodeCursor parses a cursor written by EncodeCursor
func DecodeCursor(cursor string) (map[int32]int64, error) {
	offsets := make(map[int32]int64)
	if cursor == "" {
		return offsets, nil
	}
	for _, part := range strings.Split(cursor, ",") {
		p, o, ok := strings.Cut(part, ":")
		partition, perr := strconv.ParseInt(p, 10, 32)
		offset, oerr := strconv.ParseInt(o, 10, 64)
		if !ok || perr != nil || oerr != nil || offset < 0 {
			return nil, errors.Newf(errors.ErrorTypeConnectorRejected, "invalid kafka cursor %q", cursor)
		}
		offsets[int32(partition)] = offset
	}
	return offsets, nil
}
