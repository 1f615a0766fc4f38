package jetstream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/jetbus"
)

// Transport implements jetbus.Transport over a JetStream broker: one
// stream, one subject, one durable pull consumer, resolved from the
// connection descriptor.
type Transport struct {
	cfg    Config
	conn   *conn
	codec  jetbus.Codec
	logger *xlog.Logger

	metrics *transportMetrics
}

var (
	_ jetbus.Transport = (*Transport)(nil)
	_ jetbus.Poller    = (*Transport)(nil)
)

// transportMetrics tracks performance telemetry.
type transportMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	nacked        atomic.Uint64
	publishErrors atomic.Uint64
	consumeErrors atomic.Uint64
}

// TransportOption configures a Transport at construction.
type TransportOption func(*Transport)

// WithTransportCodec sets the envelope codec (default: JSON).
func WithTransportCodec(c jetbus.Codec) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithTransportLogger sets the adapter logger.
func WithTransportLogger(l *xlog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport builds a transport from a resolved Config. The broker is
// not contacted here; the session and all handles materialize lazily on
// first use.
func NewTransport(cfg Config, opts ...TransportOption) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:     cfg,
		conn:    newConn(cfg),
		codec:   jetbus.JSONCodec{},
		logger:  xlog.Default(),
		metrics: &transportMetrics{},
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

// ParseTransport resolves a connection descriptor and builds a transport
// from it in one step.
func ParseTransport(descriptor string, overrides map[string]any, opts ...TransportOption) (*Transport, error) {
	cfg, err := ParseURL(descriptor, overrides)
	if err != nil {
		return nil, err
	}
	return NewTransport(cfg, opts...)
}

// PollDelay reports the configured spacing between polls (Poller capability).
func (t *Transport) PollDelay() time.Duration { return t.cfg.PollDelay }

// Config returns the resolved, immutable configuration.
func (t *Transport) Config() Config { return t.cfg }

// Send stamps a copy of msg with a fresh correlation id, encodes it and
// writes it once to the configured subject. The input is never mutated;
// the returned envelope is the enriched one. No retries happen here.
func (t *Transport) Send(ctx context.Context, msg *jetbus.Message) (*jetbus.Message, error) {
	js, err := t.conn.manager()
	if err != nil {
		t.metrics.publishErrors.Add(1)
		return nil, &jetbus.PublishError{Err: err}
	}

	out := msg.WithCorrelationID(uuid.NewString())
	if out.ID == "" {
		out.ID, _ = out.CorrelationID()
	}

	rec, err := encodeMessage(t.codec, t.cfg.Subject, out)
	if err != nil {
		t.metrics.publishErrors.Add(1)
		// A descriptive cause attached earlier in the pipeline beats a
		// generic encoding error in what the user gets to see.
		if detail, ok := out.Metadata[jetbus.MetaErrorDetail]; ok && detail != "" {
			return nil, &jetbus.PublishError{Detail: detail, Err: err}
		}
		return nil, err
	}

	if _, err := js.PublishMsg(rec); err != nil {
		t.metrics.publishErrors.Add(1)
		return nil, &jetbus.PublishError{Err: err}
	}
	t.metrics.published.Add(1)
	return out, nil
}

// Receive fetches at most one batch from the pull consumer. A fetch that
// times out empty yields an empty slice. A record that fails to decode
// is NAKed for redelivery and fails the whole call: a corrupt record
// must never be silently dropped, even at the cost of the batch.
func (t *Transport) Receive(ctx context.Context) ([]*jetbus.Message, error) {
	sub, err := t.conn.puller()
	if err != nil {
		t.metrics.consumeErrors.Add(1)
		return nil, &jetbus.ReceiveError{Err: err}
	}

	raws, err := sub.Fetch(t.cfg.Batch, nats.MaxWait(t.cfg.MaxBatchWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return []*jetbus.Message{}, nil
		}
		t.metrics.consumeErrors.Add(1)
		return nil, &jetbus.ReceiveError{Err: err}
	}

	msgs := make([]*jetbus.Message, 0, len(raws))
	for _, raw := range raws {
		// Broker heartbeats/empty frames are not application messages.
		if len(raw.Data) == 0 {
			continue
		}
		m, derr := decodeMessage(t.codec, raw)
		if derr != nil {
			t.nakRecord(raw)
			t.metrics.consumeErrors.Add(1)
			return nil, &jetbus.ReceiveError{Err: derr}
		}
		msgs = append(msgs, m)
		t.metrics.consumed.Add(1)
	}
	return msgs, nil
}

// nakRecord requests redelivery of a raw record, best effort.
func (t *Transport) nakRecord(raw *nats.Msg) {
	acks, err := t.conn.ackPublisher()
	if err == nil {
		err = acks.Publish(raw.Reply, nakBody(0))
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("reply", raw.Reply).Msg("jetstream: nak of undecodable record failed")
	}
}

// Ack positively acknowledges the delivery addressed by the message's
// correlation token.
func (t *Transport) Ack(ctx context.Context, msg *jetbus.Message) error {
	token, ok := msg.CorrelationID()
	if !ok {
		return jetbus.ErrMissingCorrelation
	}
	acks, err := t.conn.ackPublisher()
	if err != nil {
		return err
	}
	if err := acks.Publish(token, ackPayload); err != nil {
		return err
	}
	t.metrics.acked.Add(1)
	return nil
}

// Reject negatively acknowledges the delivery, requesting immediate
// redelivery.
func (t *Transport) Reject(ctx context.Context, msg *jetbus.Message) error {
	token, ok := msg.CorrelationID()
	if !ok {
		return jetbus.ErrMissingCorrelation
	}
	acks, err := t.conn.ackPublisher()
	if err != nil {
		return err
	}
	if err := acks.Publish(token, nakBody(0)); err != nil {
		return err
	}
	t.metrics.nacked.Add(1)
	return nil
}

// Setup idempotently provisions the stream and consumer.
func (t *Transport) Setup(ctx context.Context) error {
	return t.provision()
}

// Outstanding walks an ordered probe list and returns the first answer.
// Delivered-but-unacknowledged work outranks undelivered backlog; when
// even the stream cannot be queried the answer is 0, never an error.
func (t *Transport) Outstanding(ctx context.Context) int {
	js, err := t.conn.manager()
	if err != nil {
		return 0
	}
	probes := []func(streamManager) (int, bool){
		t.consumerPending,
		t.streamDepth,
	}
	for _, probe := range probes {
		if n, ok := probe(js); ok {
			return n
		}
	}
	return 0
}

func (t *Transport) consumerPending(js streamManager) (int, bool) {
	ci, err := js.ConsumerInfo(t.cfg.Stream, t.cfg.Consumer)
	if err != nil || ci == nil {
		return 0, false
	}
	if ci.NumAckPending > int(ci.NumPending) {
		return ci.NumAckPending, true
	}
	return int(ci.NumPending), true
}

func (t *Transport) streamDepth(js streamManager) (int, bool) {
	si, err := js.StreamInfo(t.cfg.Stream)
	if err != nil || si == nil {
		return 0, false
	}
	return int(si.State.Msgs), true
}

// Close tears down the broker session and all cached handles.
func (t *Transport) Close(ctx context.Context) error {
	return t.conn.close()
}
