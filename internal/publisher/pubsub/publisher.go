// Package pubsub implements the outbox queue publisher on Google Cloud
// Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher delivers outbox payloads to Pub/Sub topics. The idempotency key
// travels as a message attribute so consumers can deduplicate redeliveries.
type Publisher struct {
	client *pubsub.Client
}

// New creates a Publisher from an existing Pub/Sub client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{client: client}, nil
}

// Connect dials Pub/Sub for the project and wraps the client.
func Connect(ctx context.Context, projectID string) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Publish sends one payload to the topic and blocks until the server
// acknowledges it, returning the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte, attributes map[string]string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
