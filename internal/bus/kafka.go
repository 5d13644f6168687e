package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaOptions configures a consumer-group subscriber.
type KafkaOptions struct {
	Brokers []string
	Group   string
	Topics  []string

	// MaxWait bounds how long a fetch waits for a batch to fill.
	// Defaults to 500ms.
	MaxWait time.Duration

	Logger *slog.Logger
}

// KafkaSubscriber reads from Kafka topics under a consumer group. Offsets
// are committed explicitly, one message at a time, after handling.
type KafkaSubscriber struct {
	reader *kafka.Reader
	logger *slog.Logger
}

var _ Subscriber = (*KafkaSubscriber)(nil)

// NewKafkaSubscriber joins opts.Group on opts.Topics. A new group starts
// from the earliest retained offset.
func NewKafkaSubscriber(opts KafkaOptions) (*KafkaSubscriber, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if opts.Group == "" {
		return nil, errors.New("kafka: consumer group is required")
	}
	if len(opts.Topics) == 0 {
		return nil, errors.New("kafka: no topics configured")
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka", "group", opts.Group)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opts.Brokers,
		GroupID:     opts.Group,
		GroupTopics: opts.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     opts.MaxWait,
		StartOffset: kafka.FirstOffset,
		// Zero commit interval makes CommitMessages synchronous.
		CommitInterval: 0,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	})
	return &KafkaSubscriber{reader: reader, logger: logger}, nil
}

// Fetch implements Subscriber.
func (k *KafkaSubscriber) Fetch(ctx context.Context) (Message, error) {
	m, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, fmt.Errorf("kafka fetch: %w", err)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}, nil
}

// Commit implements Subscriber.
func (k *KafkaSubscriber) Commit(ctx context.Context, msg Message) error {
	err := k.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
	if err != nil {
		return fmt.Errorf("kafka commit %s: %w", msg, err)
	}
	return nil
}

// Close leaves the consumer group.
func (k *KafkaSubscriber) Close() error {
	return k.reader.Close()
}
