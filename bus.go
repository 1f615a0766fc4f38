package jetbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ API = (*Bus)(nil)

// Bus is the central Facade handling publish/subscribe against a Transport.
//
// Transports are pull-based, so the bus owns the delivery loop: a single
// poller goroutine drives Transport.Receive and hands messages to worker
// goroutines, which run the handler chain and settle each message via
// Ack or Reject.
type Bus struct {
	transport   Transport
	codec       Codec
	clock       xclock.Clock
	logger      *xlog.Logger
	middlewares []Middleware
	ackTimeout  time.Duration
	workers     int

	observersMu sync.RWMutex
	observers   []Observer

	metrics   *busMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// busMetrics uses lock-free atomics for telemetry.
type busMetrics struct {
	publishCount atomic.Uint64
	consumeCount atomic.Uint64
	ackCount     atomic.Uint64
	nackCount    atomic.Uint64
	errorCount   atomic.Uint64
	processingNs atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (b *Bus) Codec() Codec { return b.codec }

// Transport returns the configured transport (Strategy).
func (b *Bus) Transport() Transport { return b.transport }

// Publish encodes and sends a payload as an event name.
func (b *Bus) Publish(ctx context.Context, eventName string, payload any, meta map[string]string) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if eventName == "" {
		return ErrInvalidEventName
	}

	b.metrics.publishCount.Add(1)

	data, err := b.codec.Marshal(payload)
	if err != nil {
		b.metrics.errorCount.Add(1)
		return err
	}

	msg := &Message{
		Name:       eventName,
		Payload:    data,
		Metadata:   meta,
		ProducedAt: b.clock.Now(),
	}

	start := b.clock.Now()
	b.notify(Event{Type: PublishStart, EventName: eventName})

	sent, err := b.transport.Send(ctx, msg)

	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())

	var id string
	if sent != nil {
		id, _ = sent.CorrelationID()
	}
	b.notify(Event{Type: PublishDone, EventName: eventName, MessageID: id, Duration: duration, Err: err})

	if err != nil {
		b.metrics.errorCount.Add(1)
	}
	return err
}

// PublishBatch sends multiple events, stopping at the first failure.
// Each event is exactly one write at the transport; there is no partial
// rollback of already-sent events.
func (b *Bus) PublishBatch(ctx context.Context, events ...PublishEvent) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if len(events) == 0 {
		return nil
	}
	for _, evt := range events {
		if evt.Name == "" {
			return ErrInvalidEventName
		}
		if evt.Payload == nil {
			return ErrInvalidPayload
		}
	}
	for _, evt := range events {
		if err := b.Publish(ctx, evt.Name, evt.Payload, evt.Meta); err != nil {
			return err
		}
	}
	return nil
}

// Setup provisions the transport's broker-side resources (idempotent).
func (b *Bus) Setup(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	return b.transport.Setup(ctx)
}

// Outstanding reports messages still requiring attention. Never fails.
func (b *Bus) Outstanding(ctx context.Context) int {
	if b.closed.Load() {
		return 0
	}
	return b.transport.Outstanding(ctx)
}

// Subscribe starts the delivery loop and runs handler for every received
// message. The handler chain is wrapped with recovery; a nil error acks
// the message, any error rejects it for redelivery.
func (b *Bus) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if handler == nil {
		return nil, ErrInvalidSubscription
	}

	// Always enable panic recovery first for dependability.
	base := RecoveryMiddleware()(handler)
	wh := Chain(base, b.middlewares...)

	hctx := InjectAll(ctx, b.codec, b.logger, b.clock)

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	workers := b.workers
	if workers < 1 {
		workers = 1
	}
	workCh := make(chan *Message, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range workCh {
				b.process(hctx, wh, msg)
			}
		}()
	}

	pollerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer func() {
			close(workCh)
			close(pollerDone)
			wg.Done()
		}()
		b.pollLoop(innerCtx, workCh)
	}()

	return &subscription{close: func() error {
		cancel()
		<-pollerDone
		wg.Wait()
		return nil
	}}, nil
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// pollLoop drives Transport.Receive from a single goroutine, honoring
// the transport's configured poll delay when it exposes one.
func (b *Bus) pollLoop(ctx context.Context, workCh chan<- *Message) {
	var delay time.Duration
	if p, ok := b.transport.(Poller); ok {
		delay = p.PollDelay()
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := b.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.errorCount.Add(1)
			b.notify(Event{Type: Error, Err: err})
			select {
			case <-time.After(backoff):
				if backoff *= 2; backoff > maxBackoff {
					backoff = maxBackoff
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, msg := range msgs {
			select {
			case workCh <- msg:
			case <-ctx.Done():
				return
			}
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs the handler chain for one message and settles it.
func (b *Bus) process(ctx context.Context, wh Handler, msg *Message) {
	b.metrics.consumeCount.Add(1)
	b.notify(Event{Type: ConsumeStart, MessageID: msg.ID, EventName: msg.Name})

	start := b.clock.Now()
	err := wh(ctx, msg)
	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())

	b.notify(Event{Type: ConsumeDone, MessageID: msg.ID, EventName: msg.Name, Duration: duration, Err: err})

	if err == nil {
		b.metrics.ackCount.Add(1)
		b.settle(ctx, msg, true)
		b.notify(Event{Type: Ack, MessageID: msg.ID, EventName: msg.Name})
		return
	}

	b.metrics.nackCount.Add(1)
	b.settle(ctx, msg, false)
	b.notify(Event{Type: Nack, MessageID: msg.ID, EventName: msg.Name, Err: err})
}

// settle handles ack/reject with the configured timeout.
func (b *Bus) settle(ctx context.Context, msg *Message, ack bool) {
	actx := ctx
	cancel := func() {}
	if b.ackTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, b.ackTimeout)
	}
	defer cancel()

	var err error
	if ack {
		err = b.transport.Ack(actx, msg)
	} else {
		err = b.transport.Reject(actx, msg)
	}
	if err != nil {
		b.metrics.errorCount.Add(1)
		b.notify(Event{Type: Error, Err: err})
		b.logger.Warn().Err(err).Msg("jetbus: settle failed")
	}
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	return Metrics{
		Published:           b.metrics.publishCount.Load(),
		Consumed:            b.metrics.consumeCount.Load(),
		Acked:               b.metrics.ackCount.Load(),
		Nacked:              b.metrics.nackCount.Load(),
		Errors:              b.metrics.errorCount.Load(),
		AvgProcessingTimeMs: float64(b.metrics.processingNs.Load()) / 1e6,
	}
}

// Health checks bus health for Kubernetes probes.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: b.clock.Now(),
			Message:   "bus is closed",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	if metrics.Errors > 0 && metrics.Published > 0 {
		if float64(metrics.Errors)/float64(metrics.Published) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:      status,
		Metrics:     metrics,
		Outstanding: b.transport.Outstanding(ctx),
		Timestamp:   b.clock.Now(),
	}
}

// Close gracefully shuts down the bus. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if err := b.transport.Close(ctx); err != nil {
			b.logger.Error().Err(err).Msg("jetbus: transport close failed")
			closeErr = err
		}
	})
	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

func (b *Bus) notify(e Event) {
	b.observersMu.RLock()
	obs := make([]Observer, len(b.observers))
	copy(obs, b.observers)
	b.observersMu.RUnlock()
	for _, o := range obs {
		o.OnEvent(e)
	}
}

// recordProcessingTime keeps an exponential moving average of handler latency.
func (b *Bus) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := b.metrics.processingNs.Load()
	if current == 0 {
		b.metrics.processingNs.Store(ns)
		return
	}
	b.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
