package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Applier receives replayed mutations.
type Applier interface {
	Apply(ctx context.Context, m model.Mutation) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, m model.Mutation) error

func (f ApplierFunc) Apply(ctx context.Context, m model.Mutation) error { return f(ctx, m) } //nolint:gocritic // hugeParam

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer replays journaled mutations in partition order.
type Consumer struct {
	reader  messageReader
	applier Applier
	logger  logger.Logger
}

// NewConsumer creates a Consumer in groupID reading topic from the start
// of the retained log.
func NewConsumer(brokers []string, topic, groupID string, applier Applier) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, applier), nil
}

func newConsumer(r messageReader, topic string, applier Applier) *Consumer {
	return &Consumer{
		reader:  r,
		applier: applier,
		logger:  logger.Get().Named("journal-consumer").With(logger.String("topic", topic)),
	}
}

// Start fetches and applies messages until ctx is cancelled. Each message
// is committed once handled, including messages that could not be decoded
// or were rejected, so a poison message does not stall the partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info(ctx, "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info(ctx, "consumer stopping")
				return nil
			}
			metrics.RecordErrorByComponent("journal", "fetch")
			c.logger.Error(ctx, "failed to fetch message", logger.Error(err))
			continue
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error(ctx, "failed to commit message",
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
				logger.Error(err),
			)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) { //nolint:gocritic // hugeParam
	m, err := DecodeJSON[model.Mutation](msg.Value)
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		metrics.RecordJournalConsumed("decode_error")
		c.logger.Warn(ctx, "skipping undecodable message",
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Error(err),
		)
		return
	}
	if m.Board == "" {
		m.Board = string(msg.Key)
	}
	if err := c.applier.Apply(ctx, m); err != nil {
		metrics.RecordJournalConsumed("rejected")
		c.logger.Warn(ctx, "replayed mutation rejected",
			logger.String("id", m.ID),
			logger.Error(fmt.Errorf("apply: %w", err)),
		)
		return
	}
	metrics.RecordJournalConsumed("ok")
	metrics.RecordMutationApplied("journal", string(m.Op))
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
