package domain

import (
	"context"
)

// EventBus carries filter mutations and plot lifecycle events between the
// session layer and the recompute controller. Go channels for the
// Community tier, NATS for Pro. All methods require a sessionID so events
// from concurrent analyst sessions stay isolated.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, sessionID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, sessionID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the insight pipeline.
const (
	TopicRunLoaded      = "fraudlens.run.loaded"
	TopicFiltersChanged = "fraudlens.filters.changed"
	TopicPlotsUpdated   = "fraudlens.plots.updated"
	TopicPlotsFailed    = "fraudlens.plots.failed"
)
