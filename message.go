package jetbus

import (
	"time"
)

// Well-known metadata keys the bus and transports agree on.
const (
	// MetaCorrelationID addresses a specific in-flight delivery.
	// Outbound: assigned by the transport on Send. Inbound: the broker's
	// reply/redelivery token, required by Ack/Reject.
	MetaCorrelationID = "jetbus-correlation-id"

	// MetaErrorDetail carries a human-readable cause attached earlier in
	// the pipeline; Send prefers it when encoding fails.
	MetaErrorDetail = "jetbus-error-detail"
)

// Message is the envelope traveling the bus. The Payload is encoded via Codec.
type Message struct {
	ID         string            // Unique message identifier (transport may assign if empty)
	Name       string            // Logical event name for routing/metrics
	Payload    []byte            // Encoded bytes of the event
	Metadata   map[string]string // Headers/tracing/tenancy/etc
	ProducedAt time.Time         // Production timestamp (from injected clock)
}

// Clone returns a copy of the message with its own metadata map.
// Transports must not mutate caller-owned envelopes in place.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Metadata = make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// WithCorrelationID returns a copy of the message carrying the given
// correlation identifier.
func (m *Message) WithCorrelationID(id string) *Message {
	cp := m.Clone()
	cp.Metadata[MetaCorrelationID] = id
	return cp
}

// CorrelationID reports the delivery token attached by a transport.
func (m *Message) CorrelationID() (string, bool) {
	if m == nil || m.Metadata == nil {
		return "", false
	}
	id, ok := m.Metadata[MetaCorrelationID]
	return id, ok && id != ""
}

// PublishEvent describes a single event in a batch publish call.
type PublishEvent struct {
	Name    string
	Payload any
	Meta    map[string]string
}
