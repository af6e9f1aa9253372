// Package journal streams applied mutations through Kafka so replicas can
// replay them.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// ErrNoBrokers is returned when a producer or consumer is built without
// broker addresses.
var ErrNoBrokers = errors.New("journal: no kafka brokers configured")

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes mutations as JSON, keyed by board so every board's
// history stays in one partition.
type Producer struct {
	writer messageWriter
	topic  string
	logger logger.Logger
}

// NewProducer creates a Producer for topic.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, topic), nil
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: logger.Get().Named("journal-producer").With(logger.String("topic", topic)),
	}
}

// Publish writes m synchronously.
func (p *Producer) Publish(ctx context.Context, m model.Mutation) error { //nolint:gocritic // hugeParam: mutations are values everywhere
	return p.PublishBatch(ctx, []model.Mutation{m})
}

// PublishBatch writes mutations in a single call.
func (p *Producer) PublishBatch(ctx context.Context, ms []model.Mutation) error {
	msgs := make([]kafka.Message, 0, len(ms))
	for _, m := range ms {
		msg, err := encode(m)
		if err != nil {
			metrics.RecordJournalPublished("encode_error")
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.RecordJournalPublished("error")
		metrics.RecordErrorByComponent("journal", "publish")
		p.logger.Error(ctx, "failed to publish mutations", logger.Int("count", len(msgs)), logger.Error(err))
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	for range msgs {
		metrics.RecordJournalPublished("ok")
	}
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(m model.Mutation) (kafka.Message, error) { //nolint:gocritic // hugeParam
	value, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling mutation: %w", err)
	}
	return kafka.Message{Key: []byte(m.Board), Value: value}, nil
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
