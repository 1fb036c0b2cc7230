package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Logger  *slog.Logger
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a Kafka topic keyed by resource id, so all
// events of one resource land on one partition in order. Writes are
// asynchronous; delivery failures are logged.
type KafkaSink struct {
	writer kafkaWriter
	logger *slog.Logger
}

// NewKafkaSink creates a sink for cfg.Topic on cfg.Brokers.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("events dropped: kafka", "topic", cfg.Topic, "count", len(msgs), "error", err)
			}
		},
	}
	return newKafkaSink(w, logger), nil
}

func newKafkaSink(w kafkaWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("event dropped: encode", "resource", e.Resource, "type", e.Type, "error", err)
		return
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Resource),
		Value: body,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		s.logger.Warn("event dropped: kafka", "resource", e.Resource, "type", e.Type, "error", err)
	}
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
