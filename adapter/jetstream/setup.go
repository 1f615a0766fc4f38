package jetstream

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/jetbus"
)

// provision idempotently creates the stream and its durable consumer.
// Every failure comes back as one SetupError carrying the stream name,
// whichever sub-step broke.
func (t *Transport) provision() error {
	js, err := t.conn.manager()
	if err != nil {
		return &jetbus.SetupError{Stream: t.cfg.Stream, Err: err}
	}
	if err := ensureStream(js, t.cfg); err != nil {
		return &jetbus.SetupError{Stream: t.cfg.Stream, Err: err}
	}
	if err := ensureConsumer(js, t.cfg); err != nil {
		return &jetbus.SetupError{Stream: t.cfg.Stream, Err: err}
	}
	if err := verifyConsumer(js, t.cfg); err != nil {
		return &jetbus.SetupError{Stream: t.cfg.Stream, Err: err}
	}

	// Deployment contract, not enforced: instances sharing one durable
	// consumer must keep batching at 1 or redeliveries race between them.
	if t.cfg.Batch > 1 {
		t.logger.Warn().
			Str("consumer", t.cfg.Consumer).
			Int("batching", t.cfg.Batch).
			Msg("jetstream: batching > 1 is only safe when this consumer name is not shared across instances")
	}
	return nil
}

// streamConfig maps resolved retention knobs onto the broker's stream
// config. Knobs at their unlimited sentinel are left unlimited; max-age
// is already nanoseconds-denominated by option resolution.
func streamConfig(cfg Config) *nats.StreamConfig {
	sc := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: nats.LimitsPolicy,
		Replicas:  cfg.Replicas,
		MaxMsgs:   -1,
		MaxBytes:  -1,
	}
	if cfg.MaxAge > 0 {
		sc.MaxAge = cfg.MaxAge
	}
	if cfg.MaxBytes > 0 {
		sc.MaxBytes = cfg.MaxBytes
	}
	if cfg.MaxMsgs > 0 {
		sc.MaxMsgs = cfg.MaxMsgs
	}
	return sc
}

// ensureStream fetches or creates the stream and applies the configured
// subject filter and retention. Safe against an already-provisioned
// stream.
func ensureStream(js streamManager, cfg Config) error {
	sc := streamConfig(cfg)
	_, err := js.StreamInfo(cfg.Stream)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("stream info: %w", err)
	}
}

// ensureConsumer fetches or creates the durable consumer with explicit
// acknowledgement and deliver-all policies.
func ensureConsumer(js streamManager, cfg Config) error {
	_, err := js.ConsumerInfo(cfg.Stream, cfg.Consumer)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("consumer info: %w", err)
	}
	_, err = js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:         cfg.Consumer,
		AckPolicy:       nats.AckExplicitPolicy,
		DeliverPolicy:   nats.DeliverAllPolicy,
		FilterSubject:   cfg.Subject,
		MaxRequestBatch: cfg.Batch,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	return nil
}

// verifyConsumer confirms the consumer is actually listed under the
// stream. Silent non-creation must not pass for success.
func verifyConsumer(js streamManager, cfg Config) error {
	for name := range js.ConsumerNames(cfg.Stream) {
		if name == cfg.Consumer {
			return nil
		}
	}
	return fmt.Errorf("consumer %q not visible on stream %q after setup", cfg.Consumer, cfg.Stream)
}
