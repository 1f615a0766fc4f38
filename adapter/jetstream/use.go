package jetstream

import (
	"fmt"

	"github.com/trickstertwo/jetbus"
)

const TransportName = "jetstream"

func init() {
	if err := jetbus.RegisterTransport(TransportName, func(cfg map[string]any) (jetbus.Transport, error) {
		c, err := ConfigFromMap(cfg)
		if err != nil {
			return nil, err
		}
		return NewTransport(c)
	}); err != nil {
		panic(fmt.Errorf("jetbus: failed to register transport %q: %w", TransportName, err))
	}
}

// ConfigFromMap resolves the generic factory config: the "url" key is
// the connection descriptor, every other key an explicit override.
func ConfigFromMap(cfg map[string]any) (Config, error) {
	raw, _ := cfg["url"].(string)
	overrides := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k != "url" {
			overrides[k] = v
		}
	}
	return ParseURL(raw, overrides)
}

// Use builds a Bus over a JetStream transport resolved from the
// descriptor, installs it as the process-wide default and returns it,
// mirroring xlog/zerolog.Use for clear, explicit initialization.
//
// It fails fast by panicking if construction fails (production-friendly
// when the transport must be available at startup).
func Use(descriptor string, opts ...Option) *jetbus.Bus {
	bus, err := jetbus.Default(func(b *jetbus.BusBuilder) {
		b.WithTransport(TransportName, map[string]any{"url": descriptor})
		for _, o := range opts {
			if o != nil {
				o(b)
			}
		}
	})
	if err != nil {
		panic(fmt.Errorf("jetstream.Use: %w", err))
	}
	return bus
}
