package jetstream

// Package jetstream provides a NATS JetStream adapter for jetbus.
//
// Transport name: "jetstream"
//
// The adapter is configured through a connection descriptor:
//
//	nats://[user:pass@]host[:port]/stream/subject?opt=val&...
//
// Recognized options (query string or explicit overrides; overrides win):
// - delay: float seconds between polls (default 0)
// - consumer: durable consumer name (default "client")
// - batching: records per fetch (default 1)
// - max_batch_timeout: float seconds to wait for a batch; also the
//   connection timeout (default 1)
// - stream_max_age: retention in seconds, 0 = unlimited
// - stream_max_bytes: retention in bytes, 0 = unlimited
// - stream_max_messages: retention in messages, 0 = unlimited
// - stream_replicas: stream replica count (default 1)
//
// Scaling out is a deployment contract: instances may share one durable
// consumer only with batching=1 (explicit-ack consumers distribute work
// per unacknowledged message, and larger batches race redeliveries
// between instances), or use distinct consumer names with any batch size
// for independent cursors.
//
// Example builder usage:
//
//	bus, _ := jetbus.NewBusBuilder().
//	    WithTransport(jetstream.TransportName, map[string]any{
//	        "url":      "nats://localhost:4222/orders/new",
//	        "consumer": "billing",
//	        "batching": 16,
//	    }).
//	    Build()
