package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka notifier configuration
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Compression  string // none, gzip, snappy, lz4, zstd
	WriteTimeout time.Duration
}

// Validate validates the Kafka configuration
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: no Kafka brokers configured", ErrInvalidConfiguration)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: no Kafka topic configured", ErrInvalidConfiguration)
	}
	if _, err := compressionCodec(c.Compression); err != nil {
		return err
	}
	return nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", ErrInvalidConfiguration, name)
	}
}

// KafkaNotifier writes commits to a Kafka topic. Every message carries the
// same key, so all commits go to one partition in block order.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a Kafka notifier
func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	compression, _ := compressionCodec(cfg.Compression)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  compression,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &KafkaNotifier{writer: writer}, nil
}

// Notify implements Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, commit Commit) error {
	msg, err := n.message(commit)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", n.writer.Topic, err)
	}
	return nil
}

func (n *KafkaNotifier) message(commit Commit) (kafka.Message, error) {
	data, err := commit.Marshal()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal commit: %w", err)
	}
	return kafka.Message{
		Key:   []byte(n.writer.Topic),
		Value: data,
		Headers: []kafka.Header{
			{Key: "block_number", Value: []byte(strconv.FormatUint(commit.Block, 10))},
		},
	}, nil
}

// Close implements Notifier
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
