// Package pubsub publishes JSON payloads to Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Publisher sends payloads to Pub/Sub topics, carrying trace context in the
// message attributes.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	propagator   propagation.TextMapPropagator

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithPropagator overrides the global otel propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(pub *Publisher) {
		pub.propagator = p
	}
}

// New returns a Publisher that falls back to defaultTopic when Publish is
// called with an empty topic name.
func New(client *pubsub.Client, defaultTopic string, opts ...Option) *Publisher {
	p := &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		topics:       make(map[string]*pubsub.Topic),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.propagator == nil {
		p.propagator = otel.GetTextMapPropagator()
	}
	return p
}

// Publish marshals payload to JSON and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{}
	p.propagator.Inject(ctx, attrs)

	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes and stops every topic handle. The client stays open.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}
