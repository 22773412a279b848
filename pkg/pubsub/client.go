// Package pubsub publishes outbox events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/outbox"
)

const defaultPublishTimeout = 15 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub orders topic is required")
)

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Sink publishes outbox messages to the configured orders topic.
type Sink struct {
	client    *pubsub.Client
	publisher publisher
	topic     string
	timeout   time.Duration
}

// NewSink connects to Pub/Sub and verifies the orders topic exists.
func NewSink(ctx context.Context, cfg config.PubSubConfig, logg *logger.Logger) (*Sink, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := topicResourceName(projectID, cfg.OrdersTopic)
	if topic == "" {
		return nil, errTopicRequired
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	sink := &Sink{
		client:    client,
		publisher: &gcpPublisher{Publisher: client.Publisher(topic)},
		topic:     topic,
		timeout:   defaultPublishTimeout,
	}
	if err := sink.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub sink initialized")
	}
	return sink, nil
}

func (s *Sink) Publish(ctx context.Context, msg outbox.Message) error {
	if s == nil || s.publisher == nil {
		return errors.New("pubsub publisher not initialized")
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.publisher.Publish(publishCtx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", s.topic)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

// Ping checks that the topic is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if _, err := s.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: s.topic}); err != nil {
		return fmt.Errorf("checking topic %q: %w", s.topic, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", projectID, n)
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
