package jetstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/jetbus"
)

// fakeJS is an in-memory streamManager.
type fakeJS struct {
	streamInfo      *nats.StreamInfo
	streamInfoErr   error
	consumerInfo    *nats.ConsumerInfo
	consumerInfoErr error
	consumerNames   []string

	addStreamCfg    *nats.StreamConfig
	updateStreamCfg *nats.StreamConfig
	addConsumerCfg  *nats.ConsumerConfig
	addStreamErr    error
	updateStreamErr error
	addConsumerErr  error

	published  []*nats.Msg
	publishErr error
}

func (f *fakeJS) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return f.streamInfo, f.streamInfoErr
}

func (f *fakeJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.addStreamCfg = cfg
	return &nats.StreamInfo{Config: *cfg}, f.addStreamErr
}

func (f *fakeJS) UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.updateStreamCfg = cfg
	return &nats.StreamInfo{Config: *cfg}, f.updateStreamErr
}

func (f *fakeJS) ConsumerInfo(stream, name string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return f.consumerInfo, f.consumerInfoErr
}

func (f *fakeJS) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	f.addConsumerCfg = cfg
	return &nats.ConsumerInfo{Stream: stream, Name: cfg.Durable}, f.addConsumerErr
}

func (f *fakeJS) ConsumerNames(stream string, opts ...nats.JSOpt) <-chan string {
	ch := make(chan string, len(f.consumerNames))
	for _, n := range f.consumerNames {
		ch <- n
	}
	close(ch)
	return ch
}

func (f *fakeJS) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, m)
	return &nats.PubAck{Stream: "orders", Sequence: uint64(len(f.published))}, nil
}

func (f *fakeJS) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error) {
	return nil, errors.New("fakeJS: real pull subscriptions are not available")
}

// fakeFetcher returns canned batches.
type fakeFetcher struct {
	batches [][]*nats.Msg
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nats.ErrTimeout
	}
	out := f.batches[0]
	f.batches = f.batches[1:]
	if len(out) > batch {
		out = out[:batch]
	}
	return out, nil
}

// fakeAcks records raw acknowledgement sends.
type fakeAcks struct {
	sent []sentAck
	err  error
}

type sentAck struct {
	subj string
	data string
}

func (f *fakeAcks) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentAck{subj: subj, data: string(data)})
	return nil
}

func testConfig() Config {
	return Config{
		Host: "localhost", Port: DefaultPort,
		Stream: "orders", Subject: "new",
		Consumer: "client", Batch: 3,
		MaxBatchWait: 50 * time.Millisecond, Replicas: 1,
	}
}

// newTestTransport wires fakes behind an already-provisioned connection.
func newTestTransport(t *testing.T, cfg Config, js streamManager, acks ackSender, fetch fetcher) *Transport {
	t.Helper()
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	tr.conn.state = stateProvisioned
	tr.conn.js = js
	tr.conn.acks = acks
	tr.conn.fetch = fetch
	return tr
}

func record(data string, reply string) *nats.Msg {
	return &nats.Msg{Subject: "new", Reply: reply, Data: []byte(data)}
}

func encodedRecord(t *testing.T, payload string, reply string) *nats.Msg {
	t.Helper()
	raw, err := encodeMessage(jetbus.JSONCodec{}, "new", &jetbus.Message{
		Name:    "TestEvent",
		Payload: []byte(payload),
	})
	require.NoError(t, err)
	raw.Reply = reply
	return raw
}

func TestSend_AttachesFreshCorrelationID(t *testing.T) {
	js := &fakeJS{}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})

	in := &jetbus.Message{
		Name:     "OrderCreated",
		Payload:  []byte(`{"x":1}`),
		Metadata: map[string]string{"tenant": "a"},
	}
	out, err := tr.Send(context.Background(), in)
	require.NoError(t, err)

	// Input untouched, output enriched.
	_, ok := in.CorrelationID()
	assert.False(t, ok)
	id, ok := out.CorrelationID()
	require.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Equal(t, "a", out.Metadata["tenant"])

	require.Len(t, js.published, 1)
	assert.Equal(t, "new", js.published[0].Subject)

	// Two sends never share a correlation id.
	out2, err := tr.Send(context.Background(), in)
	require.NoError(t, err)
	id2, _ := out2.CorrelationID()
	assert.NotEqual(t, id, id2)
}

func TestSend_WritesDecodableRecord(t *testing.T) {
	js := &fakeJS{}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})

	in := &jetbus.Message{Name: "OrderCreated", Payload: []byte(`"x"`)}
	out, err := tr.Send(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, js.published, 1)
	raw := js.published[0]
	raw.Reply = "$JS.ACK.orders.client.1.1.1.0.0"

	got, err := decodeMessage(jetbus.JSONCodec{}, raw)
	require.NoError(t, err)
	assert.Equal(t, out.Name, got.Name)
	assert.Equal(t, out.Payload, got.Payload)

	// Inbound correlation id is the broker token, not the publish-side id.
	token, ok := got.CorrelationID()
	require.True(t, ok)
	assert.Equal(t, "$JS.ACK.orders.client.1.1.1.0.0", token)
}

type failingCodec struct{}

func (failingCodec) Marshal(any) ([]byte, error) { return nil, errors.New("boom") }
func (failingCodec) Unmarshal([]byte, any) error { return errors.New("boom") }
func (failingCodec) Name() string                { return "failing" }

func TestSend_EncodeFailurePrefersErrorDetail(t *testing.T) {
	js := &fakeJS{}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})
	tr.codec = failingCodec{}

	in := &jetbus.Message{
		Name:     "OrderCreated",
		Metadata: map[string]string{jetbus.MetaErrorDetail: "upstream validation failed"},
	}
	_, err := tr.Send(context.Background(), in)
	require.Error(t, err)
	var perr *jetbus.PublishError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "upstream validation failed")
	assert.Empty(t, js.published)
}

func TestSend_EncodeFailureWithoutDetailSurfacesCause(t *testing.T) {
	tr := newTestTransport(t, testConfig(), &fakeJS{}, &fakeAcks{}, &fakeFetcher{})
	tr.codec = failingCodec{}

	_, err := tr.Send(context.Background(), &jetbus.Message{Name: "E"})
	require.Error(t, err)
	var perr *jetbus.PublishError
	assert.False(t, errors.As(err, &perr), "original encode error must pass through")
	assert.Contains(t, err.Error(), "boom")
}

func TestSend_BrokerFailure(t *testing.T) {
	js := &fakeJS{publishErr: errors.New("no responders")}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})

	_, err := tr.Send(context.Background(), &jetbus.Message{Name: "E", Payload: []byte(`1`)})
	var perr *jetbus.PublishError
	require.True(t, errors.As(err, &perr))
}

func TestReceive_EmptyFetchIsNotAnError(t *testing.T) {
	tr := newTestTransport(t, testConfig(), &fakeJS{}, &fakeAcks{}, &fakeFetcher{})

	msgs, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceive_DecodesBatchInOrder(t *testing.T) {
	fetch := &fakeFetcher{batches: [][]*nats.Msg{{
		encodedRecord(t, `"first"`, "$JS.ACK.orders.client.1.1.1.0.0"),
		encodedRecord(t, `"second"`, "$JS.ACK.orders.client.1.2.2.0.0"),
	}}}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, &fakeAcks{}, fetch)

	msgs, err := tr.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte(`"first"`), msgs[0].Payload)
	assert.Equal(t, []byte(`"second"`), msgs[1].Payload)

	token, ok := msgs[1].CorrelationID()
	require.True(t, ok)
	assert.Equal(t, "$JS.ACK.orders.client.1.2.2.0.0", token)
}

func TestReceive_SkipsEmptyFrames(t *testing.T) {
	fetch := &fakeFetcher{batches: [][]*nats.Msg{{
		record("", "$JS.ACK.orders.client.1.1.1.0.0"),
		encodedRecord(t, `"x"`, "$JS.ACK.orders.client.1.2.2.0.0"),
	}}}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, &fakeAcks{}, fetch)

	msgs, err := tr.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte(`"x"`), msgs[0].Payload)
}

func TestReceive_UndecodableRecordFailsWholeBatch(t *testing.T) {
	acks := &fakeAcks{}
	fetch := &fakeFetcher{batches: [][]*nats.Msg{{
		encodedRecord(t, `"good"`, "$JS.ACK.orders.client.1.1.1.0.0"),
		record("not-a-record", "$JS.ACK.orders.client.1.2.2.0.0"),
		encodedRecord(t, `"also-good"`, "$JS.ACK.orders.client.1.3.3.0.0"),
	}}}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, acks, fetch)

	msgs, err := tr.Receive(context.Background())
	require.Error(t, err)
	var rerr *jetbus.ReceiveError
	require.True(t, errors.As(err, &rerr))
	assert.Empty(t, msgs, "a failed batch returns zero envelopes")

	// The offending record was NAKed so the broker redelivers it.
	require.Len(t, acks.sent, 1)
	assert.Equal(t, "$JS.ACK.orders.client.1.2.2.0.0", acks.sent[0].subj)
	assert.Equal(t, "-NAK", acks.sent[0].data)
}

func TestReceive_FetchFailure(t *testing.T) {
	tr := newTestTransport(t, testConfig(), &fakeJS{}, &fakeAcks{}, &fakeFetcher{err: errors.New("conn lost")})

	_, err := tr.Receive(context.Background())
	var rerr *jetbus.ReceiveError
	require.True(t, errors.As(err, &rerr))
}

func TestAck_PublishesPositiveAcknowledgement(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, acks, &fakeFetcher{})

	msg := (&jetbus.Message{Name: "E"}).WithCorrelationID("$JS.ACK.orders.client.1.7.7.0.0")
	require.NoError(t, tr.Ack(context.Background(), msg))

	require.Len(t, acks.sent, 1)
	assert.Equal(t, "$JS.ACK.orders.client.1.7.7.0.0", acks.sent[0].subj)
	assert.Equal(t, "+ACK", acks.sent[0].data)
}

func TestReject_PublishesNegativeAcknowledgement(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, acks, &fakeFetcher{})

	msg := (&jetbus.Message{Name: "E"}).WithCorrelationID("$JS.ACK.orders.client.1.7.7.0.0")
	require.NoError(t, tr.Reject(context.Background(), msg))

	require.Len(t, acks.sent, 1)
	assert.Equal(t, "-NAK", acks.sent[0].data)
}

func TestAckReject_MissingCorrelationNeverContactsBroker(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTransport(t, testConfig(), &fakeJS{}, acks, &fakeFetcher{})

	msg := &jetbus.Message{Name: "E", Metadata: map[string]string{"other": "x"}}
	assert.ErrorIs(t, tr.Ack(context.Background(), msg), jetbus.ErrMissingCorrelation)
	assert.ErrorIs(t, tr.Reject(context.Background(), msg), jetbus.ErrMissingCorrelation)
	assert.Empty(t, acks.sent)
}

func TestOutstanding_PrefersAckPendingOverPending(t *testing.T) {
	js := &fakeJS{consumerInfo: &nats.ConsumerInfo{NumAckPending: 7, NumPending: 3}}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})
	assert.Equal(t, 7, tr.Outstanding(context.Background()))

	js.consumerInfo = &nats.ConsumerInfo{NumAckPending: 2, NumPending: 9}
	assert.Equal(t, 9, tr.Outstanding(context.Background()))
}

func TestOutstanding_FallsBackToStreamDepth(t *testing.T) {
	js := &fakeJS{
		consumerInfoErr: nats.ErrConsumerNotFound,
		streamInfo:      &nats.StreamInfo{State: nats.StreamState{Msgs: 42}},
	}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})
	assert.Equal(t, 42, tr.Outstanding(context.Background()))
}

func TestOutstanding_AllProbesFailingYieldsZero(t *testing.T) {
	js := &fakeJS{
		consumerInfoErr: errors.New("consumer query failed"),
		streamInfoErr:   errors.New("stream query failed"),
	}
	tr := newTestTransport(t, testConfig(), js, &fakeAcks{}, &fakeFetcher{})
	assert.Equal(t, 0, tr.Outstanding(context.Background()))
}

func TestPollDelay_Capability(t *testing.T) {
	cfg := testConfig()
	cfg.PollDelay = 250 * time.Millisecond
	tr, err := NewTransport(cfg)
	require.NoError(t, err)

	var p jetbus.Poller = tr
	assert.Equal(t, 250*time.Millisecond, p.PollDelay())
}

func TestNewTransport_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Batch = 0
	_, err := NewTransport(cfg)
	require.Error(t, err)
}

func TestNakBody(t *testing.T) {
	assert.Equal(t, "-NAK", string(nakBody(0)))
	assert.Equal(t, fmt.Sprintf(`-NAK {"delay": %d}`, time.Second.Nanoseconds()), string(nakBody(time.Second)))
}
