// Package consumer reads exported user changes from Kafka with manual
// offset commits.
package consumer

import (
	"context"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/config"

	"github.com/segmentio/kafka-go"
)

type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
	raw       kafka.Message
}

// Consumer delivers messages on a channel. Offsets are committed only
// through Commit.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Message, <-chan error)
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	r messageReader
}

func NewKafkaConsumer(cfg config.KafkaConfig) *KafkaConsumer {
	return &KafkaConsumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})}
}

func (c *KafkaConsumer) Consume(ctx context.Context) (<-chan Message, <-chan error) {
	msgs := make(chan Message)
	errs := make(chan error, 1)

	go func() {
		defer close(msgs)
		defer close(errs)

		for {
			m, err := c.r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("failed to fetch message: %w", err)
				}
				return
			}

			select {
			case msgs <- Message{Key: m.Key, Value: m.Value, Partition: m.Partition, Offset: m.Offset, raw: m}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, errs
}

func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	raw := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		raw[i] = m.raw
	}
	if err := c.r.CommitMessages(ctx, raw...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.r.Close()
}
