package jetbus

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	transportName string
	transportCfg  map[string]any
	transportInst Transport

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	ackTimeout  time.Duration
	workers     int
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName:  "json",
		ackTimeout: 5 * time.Second, // safe default for production acknowledgments
		workers:    1,               // ordered processing unless opted into concurrency
	}
}

func (bb *BusBuilder) WithTransport(name string, cfg map[string]any) *BusBuilder {
	bb.transportName = name
	bb.transportCfg = cfg
	return bb
}

// WithTransportInstance accepts a ready Transport instance (e.g., from adapter Use()).
func (bb *BusBuilder) WithTransportInstance(t Transport) *BusBuilder {
	bb.transportInst = t
	return bb
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

func (bb *BusBuilder) WithAckTimeout(d time.Duration) *BusBuilder {
	if d > 0 {
		bb.ackTimeout = d
	}
	return bb
}

// WithWorkers sets the number of handler goroutines per subscription.
// More than one worker reorders processing within a batch; keep 1 when
// ordering matters.
func (bb *BusBuilder) WithWorkers(n int) *BusBuilder {
	if n > 0 {
		bb.workers = n
	}
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	var tr Transport
	var err error

	switch {
	case bb.transportInst != nil:
		tr = bb.transportInst
	case bb.transportName != "":
		tr, err = NewTransport(bb.transportName, bb.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	b := &Bus{
		transport:   tr,
		codec:       cd,
		clock:       clk,
		logger:      lg,
		middlewares: bb.middlewares,
		ackTimeout:  bb.ackTimeout,
		workers:     bb.workers,
		metrics:     &busMetrics{},
	}

	// Attach logging observer first for dependable telemetry unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// New constructs a Bus via Builder and returns a close func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}

// Default returns the process-wide singleton Bus. If it isn't initialized yet,
// it initializes it using the optional init function (Builder + Factory).
func Default(init func(b *BusBuilder)) (*Bus, error) {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus, nil
	}
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, err
	}
	defaultBus = bus
	return defaultBus, nil
}

// SetDefault installs a bus as the process-wide default.
func SetDefault(b *Bus) {
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade that uses the default bus.
func Publish(ctx context.Context, eventName string, payload any, meta map[string]string) error {
	b, err := Default(nil)
	if err != nil {
		return err
	}
	return b.Publish(ctx, eventName, payload, meta)
}

// Subscribe is the Facade that uses the default bus.
func Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	b, err := Default(nil)
	if err != nil {
		return nil, err
	}
	return b.Subscribe(ctx, handler)
}
