package memory

import (
	"fmt"

	"github.com/trickstertwo/jetbus"
)

const TransportName = "memory"

func init() {
	if err := jetbus.RegisterTransport(TransportName, func(cfg map[string]any) (jetbus.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("jetbus/memory: failed to register transport: %w", err))
	}
}

// Use builds a Bus over an in-memory transport, installs it as the
// process-wide default and returns it.
func Use(cfg Config, opts ...func(*jetbus.BusBuilder)) *jetbus.Bus {
	bus, err := jetbus.Default(func(b *jetbus.BusBuilder) {
		b.WithTransportInstance(NewTransport(cfg))
		for _, o := range opts {
			if o != nil {
				o(b)
			}
		}
	})
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return bus
}
