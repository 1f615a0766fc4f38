package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/jetbus"
)

// Config controls memory transport behavior.
type Config struct {
	// Batch is the maximum number of messages returned per Receive (default 1).
	Batch int
	// BufferSize caps the queue; Send fails beyond it (default 1024).
	BufferSize int
	// PollDelay is surfaced through the Poller capability so the bus
	// loop doesn't spin on an empty queue (default 10ms).
	PollDelay time.Duration
	// AssignIDs instructs the transport to assign IDs for messages with
	// empty ID (default true).
	AssignIDs bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		Batch:      maxInt(1, getInt("batch", 1)),
		BufferSize: maxInt(1, getInt("buffer_size", 1024)),
		PollDelay:  getDur("poll_delay", 0),
		AssignIDs:  getBool("assign_ids", true),
	}
}

// Transport implements jetbus.Transport with an in-memory queue
// (dev/testing). In-flight messages sit in a pending table keyed by
// their delivery token until acked; rejects requeue them at the front.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	queue   []*jetbus.Message
	pending map[string]*jetbus.Message

	seq    atomic.Uint64
	closed atomic.Bool
}

var (
	_ jetbus.Transport = (*Transport)(nil)
	_ jetbus.Poller    = (*Transport)(nil)
)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 10 * time.Millisecond
	}
	return &Transport{
		cfg:     cfg,
		pending: make(map[string]*jetbus.Message),
	}
}

func (t *Transport) PollDelay() time.Duration { return t.cfg.PollDelay }

// Send enqueues a copy of msg stamped with a fresh correlation id.
func (t *Transport) Send(ctx context.Context, msg *jetbus.Message) (*jetbus.Message, error) {
	if t.closed.Load() {
		return nil, errors.New("memory transport is closed")
	}

	out := msg.WithCorrelationID(t.nextToken("pub"))
	if t.cfg.AssignIDs && out.ID == "" {
		out.ID, _ = out.CorrelationID()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) >= t.cfg.BufferSize {
		return nil, &jetbus.PublishError{Err: fmt.Errorf("queue full (%d)", t.cfg.BufferSize)}
	}
	t.queue = append(t.queue, out.Clone())
	return out, nil
}

// Receive pops up to Batch messages, moving each into the pending table
// under a fresh delivery token.
func (t *Transport) Receive(ctx context.Context) ([]*jetbus.Message, error) {
	if t.closed.Load() {
		return nil, errors.New("memory transport is closed")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.cfg.Batch
	if n > len(t.queue) {
		n = len(t.queue)
	}
	out := make([]*jetbus.Message, 0, n)
	for i := 0; i < n; i++ {
		token := t.nextToken("rcv")
		m := t.queue[i].WithCorrelationID(token)
		t.pending[token] = m
		out = append(out, m)
	}
	t.queue = t.queue[n:]
	return out, nil
}

// Ack settles a pending delivery. Unknown tokens are tolerated (a
// broker double-ack is not an error either).
func (t *Transport) Ack(ctx context.Context, msg *jetbus.Message) error {
	token, ok := msg.CorrelationID()
	if !ok {
		return jetbus.ErrMissingCorrelation
	}
	t.mu.Lock()
	delete(t.pending, token)
	t.mu.Unlock()
	return nil
}

// Reject requeues a pending delivery at the front for immediate redelivery.
func (t *Transport) Reject(ctx context.Context, msg *jetbus.Message) error {
	token, ok := msg.CorrelationID()
	if !ok {
		return jetbus.ErrMissingCorrelation
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, found := t.pending[token]; found {
		delete(t.pending, token)
		t.queue = append([]*jetbus.Message{m}, t.queue...)
	}
	return nil
}

// Setup is a provisioning no-op; there is nothing broker-side to create.
func (t *Transport) Setup(ctx context.Context) error {
	if t.closed.Load() {
		return errors.New("memory transport is closed")
	}
	return nil
}

// Outstanding counts queued plus in-flight messages.
func (t *Transport) Outstanding(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue) + len(t.pending)
}

// Close drops all state. Idempotent.
func (t *Transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.queue = nil
	t.pending = map[string]*jetbus.Message{}
	t.mu.Unlock()
	return nil
}

func (t *Transport) nextToken(kind string) string {
	return fmt.Sprintf("mem-%s-%d", kind, t.seq.Add(1))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
