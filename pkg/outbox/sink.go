package outbox

import (
	"context"
	"time"

	"github.com/muzafey/storefront-backend/pkg/db/models"
)

// Message is the broker-neutral form of an outbox row.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker. Publish blocks until the broker acknowledges.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// MessageFor builds the broker message for a stored event. Keys are aggregate ids so
// events for one order stay ordered on partitioned brokers.
func MessageFor(event models.OutboxEvent) Message {
	attrs := map[string]string{
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if env, err := DecodeEnvelope(event.Payload); err == nil && env.EventID != "" {
		attrs["event_id"] = env.EventID
	}
	return Message{
		Key:        event.AggregateID.String(),
		Data:       event.Payload,
		Attributes: attrs,
	}
}
