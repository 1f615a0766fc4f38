package jetstream

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/jetbus"
)

// Option configures the jetbus.Bus construction when calling Use.
type Option func(*jetbus.BusBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *jetbus.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *jetbus.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *jetbus.BusBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds processing middlewares.
func WithMiddleware(mw ...jetbus.Middleware) Option {
	return func(b *jetbus.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithAckTimeout sets acks/rejects timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(b *jetbus.BusBuilder) { b.WithAckTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...jetbus.Observer) Option {
	return func(b *jetbus.BusBuilder) { b.WithObserver(obs...) }
}

// WithWorkers sets handler concurrency per subscription.
func WithWorkers(n int) Option {
	return func(b *jetbus.BusBuilder) { b.WithWorkers(n) }
}
