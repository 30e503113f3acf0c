package transport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Backend selects which serial implementation opens the port.
type Backend string

const (
	// BackendInstrument opens ports through go.bug.st/serial. This is the
	// default; it supports changing the read timeout after open and has a
	// native input-buffer reset.
	BackendInstrument Backend = "instrument"
	// BackendRaw opens ports through github.com/tarm/serial. The read
	// timeout is fixed at open time and Flush stands in for the input
	// reset.
	BackendRaw Backend = "raw"
)

// DefaultBaudRate is the rate the heat exchange unit ships with.
const DefaultBaudRate = 38400

// DefaultReadTimeout bounds each write and each read-until-terminator.
const DefaultReadTimeout = time.Second

// Options describes the serial connection parameters used when opening a
// port. The zero value normalizes to the unit's factory settings (38400 8N1,
// one second deadline).
type Options struct {
	Backend     Backend       `json:"backend"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o Options) Normalize() (Options, error) {
	opts := o

	switch opts.Backend {
	case "":
		opts.Backend = BackendInstrument
	case BackendInstrument, BackendRaw:
	default:
		return opts, fmt.Errorf("unknown serial backend %q: supported backends are %q and %q",
			opts.Backend, BackendInstrument, BackendRaw)
	}

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	return opts, nil
}

// Equal reports whether two Options describe the same serial configuration.
func (o Options) Equal(other Options) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	if errA != nil || errB != nil {
		return false
	}

	return a.Backend == b.Backend &&
		a.BaudRate == b.BaudRate &&
		a.DataBits == b.DataBits &&
		a.StopBits == b.StopBits &&
		a.Parity == b.Parity &&
		a.ReadTimeout == b.ReadTimeout
}

// SerialMode converts the options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o Options) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	// serial.StopBits is not the bit count: OneStopBit is 0 and 1 means one
	// and a half.
	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}

// NormalizeAddress trims surrounding whitespace and case-folds Windows-style
// COM names, which the OS treats as case-insensitive. Unix device paths are
// case-sensitive and pass through untouched.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) > 3 && strings.EqualFold(address[:3], "COM") {
		return strings.ToUpper(address)
	}
	return address
}
