// Package pubsub publishes job notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher sends JSON payloads to one topic.
type Publisher struct {
	publish publishFunc
	stop    func()
}

// New wraps topic. The topic argument to Publish becomes a message attribute.
func New(topic *pubsub.Topic) *Publisher {
	if topic == nil {
		return &Publisher{}
	}
	return &Publisher{
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
		stop: topic.Stop,
	}
}

// Publish marshals the payload to JSON and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publish == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"event": topic}}
	id, err := p.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() {
	if p.stop != nil {
		p.stop()
	}
}
