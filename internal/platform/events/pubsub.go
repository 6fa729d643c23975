package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/services"
)

// PubSubPublisher publishes order events to a Pub/Sub topic. Messages for one SKU share an
// ordering key.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	metrics *observability.Metrics
}

var _ services.OrderEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed publisher. metrics may be nil.
func NewPubSubPublisher(topic *pubsub.Topic, metrics *observability.Metrics) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic, metrics: metrics}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	data, err := encode(event)
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes(event),
		OrderingKey: event.SKU,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(event.SKU)
		p.metrics.IncEventPublishFailure(event.Type)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
