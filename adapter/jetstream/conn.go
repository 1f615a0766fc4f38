package jetstream

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// connState makes the lazy-handle contract explicit: handles are only
// ever resolved in state order, and invalidation drops everything back
// at once.
type connState int

const (
	stateUnconnected connState = iota
	stateConnected   // client session established
	stateProvisioned // stream/consumer/fetch handles resolved
)

// streamManager is the slice of the JetStream management and publish API
// the adapter consumes. nats.JetStreamContext satisfies it; tests
// substitute fakes.
type streamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	ConsumerInfo(stream, name string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	ConsumerNames(stream string, opts ...nats.JSOpt) <-chan string
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// fetcher is the batched pull surface of *nats.Subscription.
type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// ackSender publishes raw acknowledgement protocol payloads to a reply
// token subject. *nats.Conn satisfies it.
type ackSender interface {
	Publish(subj string, data []byte) error
}

// conn owns the broker client session and the lazily resolved handles
// that share its lifetime. Reconnects are delegated to the nats.go
// client; any call through conn can still fail on connectivity loss.
type conn struct {
	cfg Config

	mu    sync.Mutex
	state connState

	nc    *nats.Conn
	js    streamManager
	acks  ackSender
	fetch fetcher
}

func newConn(cfg Config) *conn {
	return &conn{cfg: cfg}
}

// ensureConnected establishes the client session once. A fetch or
// publish call must not block longer than the caller's configured
// patience, so the batch wait doubles as the dial timeout.
func (c *conn) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked()
}

func (c *conn) ensureConnectedLocked() error {
	if c.state >= stateConnected {
		return nil
	}
	nc, err := nats.Connect(c.cfg.URL(),
		nats.Name("jetbus/"+c.cfg.Consumer),
		nats.Timeout(c.cfg.MaxBatchWait),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.cfg.Host, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}
	c.nc = nc
	c.js = js
	c.acks = nc
	c.state = stateConnected
	return nil
}

// manager returns the management interface, connecting lazily.
func (c *conn) manager() (streamManager, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.js, nil
}

// ackPublisher returns the raw acknowledgement surface, connecting lazily.
func (c *conn) ackPublisher() (ackSender, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.acks, nil
}

// puller binds the batch-fetch queue on first use and caches it. The
// consumer must exist; publish-only adapters never pay this cost.
func (c *conn) puller() (fetcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}
	if c.state == stateProvisioned && c.fetch != nil {
		return c.fetch, nil
	}
	sub, err := c.js.PullSubscribe("", "", nats.Bind(c.cfg.Stream, c.cfg.Consumer))
	if err != nil {
		return nil, fmt.Errorf("bind pull consumer %s/%s: %w", c.cfg.Stream, c.cfg.Consumer, err)
	}
	c.fetch = sub
	c.state = stateProvisioned
	return c.fetch, nil
}

// invalidate drops all lazily resolved handles together. The next call
// re-materializes them in state order.
func (c *conn) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetch = nil
	if c.state > stateConnected {
		c.state = stateConnected
	}
}

// close tears the session down. Safe to call in any state.
func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetch = nil
	c.js = nil
	c.acks = nil
	c.state = stateUnconnected
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
	return nil
}
