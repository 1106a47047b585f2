package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/orchardlane/storefront/internal/services"
)

// PubSubReconciliationPublisher publishes payment reconciliation events to a
// Pub/Sub topic consumed by the background reconciliation worker.
type PubSubReconciliationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReconciliationPublisher constructs a Pub/Sub backed publisher.
func NewPubSubReconciliationPublisher(topic *pubsub.Topic) (*PubSubReconciliationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reconciliation publisher: topic is required")
	}
	return &PubSubReconciliationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReconciliation enqueues a reconciliation event keyed by the gateway
// order id so repeated publishes for the same stranded payment dedupe downstream.
func (p *PubSubReconciliationPublisher) PublishReconciliation(ctx context.Context, message services.PaymentReconciliationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reconciliation publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reconciliation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "gatewayOrderId", message.GatewayOrderID)
	setAttr(attrs, "provider", message.Provider)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "reason", message.Reason)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: message.GatewayOrderID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconciliation event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
