package canonical

import (
	"context"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/connector/adapters/kafka"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// KafkaStore keeps canonical records on Kafka, one topic per category.
// Cursors are partition offsets.
type KafkaStore struct {
	adapter *kafka.Adapter
}

// NewKafkaStore wraps a connected Kafka adapter
func NewKafkaStore(adapter *kafka.Adapter) *KafkaStore {
	return &KafkaStore{adapter: adapter}
}

// DialKafka connects a canonical store from configuration
func DialKafka(cfg config.CanonicalKafkaConfig) (*KafkaStore, error) {
	adapter, err := kafka.Dial("canonical", kafka.Config{
		Brokers:             cfg.Brokers,
		ClientID:            cfg.ClientID,
		ProducerAcks:        cfg.ProducerAcks,
		ProducerCompression: cfg.Compression,
		TopicPrefix:         cfg.TopicPrefix,
	})
	if err != nil {
		return nil, err
	}
	return NewKafkaStore(adapter), nil
}

// Write implements Sink
func (s *KafkaStore) Write(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error) {
	return s.adapter.PushBatch(ctx, category, records)
}

// Read implements Source. Messages that are not JSON objects are skipped.
func (s *KafkaStore) Read(ctx context.Context, category, cursor string, batchSize int) (Page, error) {
	res, err := s.adapter.FetchBatch(ctx, category, cursor, batchSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Records: res.Records, NextCursor: res.NextCursor, Done: res.Done}, nil
}

// Close implements Store
func (s *KafkaStore) Close() error {
	return s.adapter.Close()
}

// Open builds the canonical store selected by configuration
func Open(cfg config.CanonicalConfig) (Store, error) {
	if cfg.Driver == "kafka" {
		s, err := DialKafka(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewMemoryStore(), nil
}
