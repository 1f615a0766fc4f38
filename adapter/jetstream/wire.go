package jetstream

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/jetbus"
)

// Header constants (avoid typos/allocs)
const (
	hdrCodec = "Jetbus-Codec"
	hdrName  = "Jetbus-Name"
)

// JetStream acknowledgement protocol payloads, addressed to a delivery's
// reply token subject.
var (
	ackPayload = []byte("+ACK")
	nakPayload = []byte("-NAK")
)

// nakBody builds a negative acknowledgement. delay > 0 asks the broker
// to hold redelivery; zero requests immediate redelivery.
func nakBody(delay time.Duration) []byte {
	if delay <= 0 {
		return nakPayload
	}
	return []byte(fmt.Sprintf(`-NAK {"delay": %d}`, delay.Nanoseconds()))
}

// wireMessage is the record body written to the stream. The codec owns
// its byte representation; these tags serve the default JSON codec.
type wireMessage struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"meta,omitempty"`
	ProducedAt int64             `json:"produced_at,omitempty"` // unix ns
}

// encodeMessage turns an envelope into a broker record under the given
// subject.
func encodeMessage(c jetbus.Codec, subject string, m *jetbus.Message) (*nats.Msg, error) {
	w := wireMessage{
		ID:       m.ID,
		Name:     m.Name,
		Payload:  m.Payload,
		Metadata: m.Metadata,
	}
	if !m.ProducedAt.IsZero() {
		w.ProducedAt = m.ProducedAt.UnixNano()
	}
	body, err := c.Marshal(w)
	if err != nil {
		return nil, err
	}

	out := nats.NewMsg(subject)
	out.Data = body
	out.Header.Set(hdrCodec, c.Name())
	if m.Name != "" {
		out.Header.Set(hdrName, m.Name)
	}
	if m.ID != "" {
		out.Header.Set(nats.MsgIdHdr, m.ID)
	}
	return out, nil
}

// decodeMessage reconstructs an envelope from a fetched record and
// attaches the broker's reply token as the correlation id.
func decodeMessage(c jetbus.Codec, raw *nats.Msg) (*jetbus.Message, error) {
	var w wireMessage
	if err := c.Unmarshal(raw.Data, &w); err != nil {
		return nil, err
	}
	msg := &jetbus.Message{
		ID:       w.ID,
		Name:     w.Name,
		Payload:  w.Payload,
		Metadata: w.Metadata,
	}
	if w.ProducedAt > 0 {
		msg.ProducedAt = time.Unix(0, w.ProducedAt)
	}
	return msg.WithCorrelationID(raw.Reply), nil
}
