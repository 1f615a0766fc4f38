package jetbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Transport is the Strategy interface for message brokers/backends.
//
// It is pull-based: the owning bus (or application loop) drives Receive
// and settles each message through Ack or Reject. Send and Receive are
// driven by a single goroutine per instance; Ack and Reject only touch
// the acknowledgement path and must be safe for concurrent use. Scale
// out by running more instances, minding the shared-consumer batching
// rules documented by each adapter.
type Transport interface {
	// Send writes one message to the configured stream/subject and
	// returns the enriched copy carrying a fresh correlation id. The
	// input message is never mutated.
	Send(ctx context.Context, msg *Message) (*Message, error)

	// Receive fetches at most one configured batch of messages, in
	// arrival order. An empty fetch is an empty slice, not an error.
	// Each returned message carries the broker's delivery token as its
	// correlation id.
	Receive(ctx context.Context) ([]*Message, error)

	// Ack positively acknowledges a received message by its correlation
	// id. ErrMissingCorrelation if the message carries none.
	Ack(ctx context.Context, msg *Message) error

	// Reject negatively acknowledges a received message, requesting
	// immediate redelivery. ErrMissingCorrelation if the message carries
	// no correlation id.
	Reject(ctx context.Context, msg *Message) error

	// Setup idempotently provisions the broker-side stream and consumer.
	Setup(ctx context.Context) error

	// Outstanding reports the number of messages still requiring
	// attention (delivered-unacknowledged preferred over undelivered).
	// It never fails; unknown is 0.
	Outstanding(ctx context.Context) int

	// Close releases resources.
	Close(ctx context.Context) error
}

// Poller is an optional Transport capability exposing the configured
// spacing between polls. The bus subscribe loop honors it when present.
type Poller interface {
	PollDelay() time.Duration
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}
