package jetbus

import (
	"context"
)

// Handler processes a single message. Return error to trigger Reject/Retry.
type Handler func(ctx context.Context, msg *Message) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// API represents the complete jetbus surface for extensibility.
type API interface {
	Publish(ctx context.Context, eventName string, payload any, meta map[string]string) error
	PublishBatch(ctx context.Context, events ...PublishEvent) error
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
	Setup(ctx context.Context) error
	Outstanding(ctx context.Context) int
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bus)(nil)
