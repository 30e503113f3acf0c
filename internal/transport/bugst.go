package transport

import (
	"time"

	"go.bug.st/serial"
)

// portReadSlice is the hardware-level read timeout configured on real ports.
// ReadUntil owns the actual deadline; the port just has to wake up this
// often so an elapsed deadline is noticed even when the unit stays silent.
const portReadSlice = 50 * time.Millisecond

// InstrumentFactory opens ports through go.bug.st/serial.
type InstrumentFactory struct{}

func (InstrumentFactory) Open(address string, opts Options) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(portReadSlice); err != nil {
		port.Close()
		return nil, err
	}

	// serial.Port carries Read, Write, Close, and ResetInputBuffer, so it
	// satisfies Port directly.
	return port, nil
}
