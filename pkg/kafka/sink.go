// Package kafka publishes outbox events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/outbox"
)

const dialTimeout = 5 * time.Second

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Sink writes outbox messages keyed by aggregate id.
type Sink struct {
	writer  writer
	brokers []string
	topic   string
}

func NewSink(cfg config.KafkaConfig, logg *logger.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.OrdersTopic == "" {
		return nil, errors.New("kafka orders topic is required")
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	if logg != nil {
		logg.Info(logg.WithField(context.Background(), "topic", cfg.OrdersTopic), "kafka sink initialized")
	}
	return &Sink{writer: w, brokers: cfg.Brokers, topic: cfg.OrdersTopic}, nil
}

func (s *Sink) Publish(ctx context.Context, msg outbox.Message) error {
	headers := make([]kafkago.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	err := s.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", s.topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (s *Sink) Ping(ctx context.Context) error {
	dialer := &kafkago.Dialer{Timeout: dialTimeout}
	var lastErr error
	for _, broker := range s.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	var netErr net.Error
	if errors.As(lastErr, &netErr) && netErr.Timeout() {
		return fmt.Errorf("kafka brokers unreachable (timeout): %w", lastErr)
	}
	return fmt.Errorf("kafka brokers unreachable: %w", lastErr)
}

func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
