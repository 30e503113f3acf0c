package transport

import "fmt"

// NewFactory returns the Factory for the configured backend. An empty
// backend selects the instrument backend.
func NewFactory(backend Backend) (Factory, error) {
	switch backend {
	case "", BackendInstrument:
		return InstrumentFactory{}, nil
	case BackendRaw:
		return RawFactory{}, nil
	default:
		return nil, fmt.Errorf("unknown serial backend %q", backend)
	}
}
