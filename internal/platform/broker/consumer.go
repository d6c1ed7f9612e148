package broker

import (
	"context"

	kafka "github.com/segmentio/kafka-go"
)

// Consumer wraps a kafka.Reader configured for manual offset commit:
// CommitInterval is zero, so no background goroutine ever advances the
// committed offset on its own. Only an explicit CommitMessages call
// commits, matching spec §4.7's "enable.auto.commit = false" rule for
// both the GPS Ingest Loop and the Billing Consumer.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer constructs a Consumer for topic under the given consumer
// group, starting from the latest offset for any partition with no
// prior committed offset, per spec §6's default offset reset.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			CommitInterval: 0,
			StartOffset:    kafka.LastOffset,
			MinBytes:       1,
			MaxBytes:       10e6,
		}),
	}
}

// FetchMessage blocks until a message is available, ctx is cancelled, or
// a broker-level error occurs. It does not commit; the caller decides
// when CommitMessages runs.
func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return c.reader.FetchMessage(ctx)
}

// CommitMessages commits the offsets for msgs. Safe to call with the
// highest-offset message per partition only; kafka-go commits the
// max offset it has seen per partition among the messages passed in.
func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.reader.CommitMessages(ctx, msgs...)
}

// Close releases the reader's connections.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
