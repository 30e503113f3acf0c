package transport

import (
	"github.com/tarm/serial"
)

// RawFactory opens ports through github.com/tarm/serial. Unlike the
// instrument backend, tarm fixes the read timeout at open time, so the read
// slice is part of the open configuration rather than set afterwards.
type RawFactory struct{}

func (RawFactory) Open(address string, opts Options) (Port, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	cfg := &serial.Config{
		Name:        address,
		Baud:        normalized.BaudRate,
		Size:        byte(normalized.DataBits),
		ReadTimeout: portReadSlice,
	}

	switch normalized.Parity {
	case "E":
		cfg.Parity = serial.ParityEven
	case "O":
		cfg.Parity = serial.ParityOdd
	default:
		cfg.Parity = serial.ParityNone
	}

	if normalized.StopBits == 2 {
		cfg.StopBits = serial.Stop2
	} else {
		cfg.StopBits = serial.Stop1
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return rawPort{port}, nil
}

// rawPort adapts tarm's *serial.Port to the transport Port surface. Flush
// discards pending data in both directions, which is the closest the backend
// offers to an input-only reset.
type rawPort struct {
	*serial.Port
}

func (p rawPort) ResetInputBuffer() error { return p.Port.Flush() }
