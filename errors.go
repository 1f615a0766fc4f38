package jetbus

import (
	"errors"
	"fmt"
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

var (
	ErrDefaultBusNotInitialized = errors.New("jetbus: default bus not initialized")
	ErrNoTransportConfigured    = errors.New("jetbus: no transport configured")
	ErrBusClosed                = errors.New("jetbus: bus is closed")
	ErrInvalidEventName         = errors.New("jetbus: event name must not be empty")
	ErrInvalidPayload           = errors.New("jetbus: payload must not be nil")
	ErrInvalidSubscription      = errors.New("jetbus: handler must not be nil")
	ErrHandlerPanic             = errors.New("jetbus: handler panic")

	// ErrMissingCorrelation means an envelope without a transport-assigned
	// correlation id was passed to Ack or Reject. This is a programming
	// error, not a transient broker condition; the broker is never
	// contacted.
	ErrMissingCorrelation = errors.New("jetbus: message has no correlation id")
)

// ConfigReason classifies why a connection descriptor was rejected.
type ConfigReason string

const (
	ConfigMalformed      ConfigReason = "malformed descriptor"
	ConfigMissingHost    ConfigReason = "missing host"
	ConfigMissingStream  ConfigReason = "missing stream name"
	ConfigMissingSubject ConfigReason = "missing subject"
)

// ConfigError reports a fatal, non-retryable descriptor problem at
// construction time.
type ConfigError struct {
	Reason     ConfigReason
	Descriptor string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jetbus: config: %s (%q): %v", e.Reason, e.Descriptor, e.Err)
	}
	return fmt.Sprintf("jetbus: config: %s (%q)", e.Reason, e.Descriptor)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SetupError wraps any provisioning failure under the stream it was
// provisioning, so deployment tooling sees one failure shape regardless
// of which sub-step broke.
type SetupError struct {
	Stream string
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("jetbus: setup of stream %q failed: %v", e.Stream, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// PublishError reports a failed Send. Retrying is the caller's choice.
type PublishError struct {
	Detail string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("jetbus: publish failed: %s", e.Detail)
	}
	return fmt.Sprintf("jetbus: publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ReceiveError reports a failed batched receive. When a record could not
// be decoded, a negative acknowledgement has already been issued for it
// on a best-effort basis, so the broker will redeliver.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string { return fmt.Sprintf("jetbus: receive failed: %v", e.Err) }

func (e *ReceiveError) Unwrap() error { return e.Err }
