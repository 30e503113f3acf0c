// Package heu3 implements the command/response driver for the Oregon
// Physics Heat Exchange Unit v3. The unit speaks a line-oriented 7-bit ASCII
// protocol over a serial link: short mnemonic commands ("SPS042", "RINTE",
// "!") each answered by a single terminated line. The protocol carries no
// request IDs, so the driver serializes the full write-then-read cycle of
// every query behind one command guard; interleaving two queries would
// corrupt response attribution.
package heu3

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oregon-physics/heu3/internal/transport"
)

// DefaultTerminator frames commands and responses unless Config overrides
// it. Early firmware revisions terminate with '\r' instead.
const DefaultTerminator = '\n'

// Config carries everything the driver needs to reach a unit. It is an
// explicit struct rather than package-level defaults so two drivers can
// coexist in one process.
type Config struct {
	// Address of the serial port, e.g. "/dev/ttyUSB0" or "COM3".
	Address string

	// Options configure the serial link, including which backend opens it.
	Options transport.Options

	// Terminator is the protocol line terminator. Zero means
	// DefaultTerminator.
	Terminator byte

	// Factory, when set, overrides the backend selected by
	// Options.Backend. Tests inject mock factories here.
	Factory transport.Factory
}

type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateClosed
)

// Driver is the command/response driver for one heat exchange unit. It is
// safe for concurrent use by multiple goroutines; each query blocks its
// caller until the response arrives or the deadline elapses. The command
// guard is not reentrant: a caller must not issue a nested query from code
// it runs while holding a response.
type Driver struct {
	cfg        Config
	terminator byte

	mu   sync.Mutex // serializes queries and guards the fields below
	tr   *transport.Transport
	st   state
	echo bool
}

// New returns a disconnected driver. Call Open to establish the link.
func New(cfg Config) (*Driver, error) {
	if cfg.Factory == nil {
		factory, err := transport.NewFactory(cfg.Options.Backend)
		if err != nil {
			return nil, err
		}
		cfg.Factory = factory
	}

	terminator := cfg.Terminator
	if terminator == 0 {
		terminator = DefaultTerminator
	}

	return &Driver{cfg: cfg, terminator: terminator}, nil
}

// Open establishes the serial connection. Opening an already connected
// driver is a no-op; opening a closed driver fails with ErrClosed. The unit
// powers up with echo enabled, so the driver assumes echo until told
// otherwise.
func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.st {
	case stateClosed:
		return ErrClosed
	case stateConnected:
		return nil
	}

	tr, err := transport.Open(d.cfg.Factory, d.cfg.Address, d.cfg.Options)
	if err != nil {
		return err
	}

	d.tr = tr
	d.st = stateConnected
	d.echo = true
	return nil
}

// Connected reports whether the driver has an open connection.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st == stateConnected
}

// Handshake disables echo and pings the unit to confirm liveness. Optional;
// callers that want the power-on echo behaviour can skip it.
func (d *Driver) Handshake() error {
	if err := d.SetEcho(false); err != nil {
		return err
	}
	return d.Ping()
}

// SendQuery frames command with the terminator if it is not already
// terminated, sends it, and returns the response trimmed of the echoed
// command (when echo is enabled), the terminator, and surrounding
// whitespace.
//
// Transport faults end the connection and surface as *CommunicationError;
// timeouts leave the connection open and surface as transport.ErrTimeout.
func (d *Driver) SendQuery(command string) (string, error) {
	framed := command
	if !strings.HasSuffix(framed, string(d.terminator)) {
		framed += string(d.terminator)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.st {
	case stateClosed:
		return "", ErrClosed
	case stateDisconnected:
		return "", ErrNotConnected
	}

	// Discard anything a slow previous response may have left behind.
	if err := d.tr.ResetInputBuffer(); err != nil {
		return "", d.dropConnection(command, err)
	}

	if err := d.tr.Write([]byte(framed)); err != nil {
		return "", d.queryError(command, err)
	}

	raw, err := d.tr.ReadUntil(d.terminator)
	if err != nil {
		return "", d.queryError(command, err)
	}

	text := string(raw)
	if d.echo {
		text = strings.TrimPrefix(text, framed)
	}
	return strings.TrimSpace(text), nil
}

// queryError classifies a transport failure mid-query. Timeouts keep the
// connection; everything else ends it.
func (d *Driver) queryError(command string, err error) error {
	if errors.Is(err, transport.ErrTimeout) {
		return fmt.Errorf("heu3: %s: %w", command, err)
	}
	return d.dropConnection(command, err)
}

// dropConnection closes the transport and moves the driver to disconnected.
// Callers must Open again before further queries.
func (d *Driver) dropConnection(command string, err error) error {
	d.st = stateDisconnected
	if d.tr != nil {
		d.tr.Close()
		d.tr = nil
	}
	return &CommunicationError{Command: command, Err: err}
}

// Close tears the driver down. Further queries fail with ErrClosed. Closing
// twice is not an error.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.st == stateClosed {
		return nil
	}
	d.st = stateClosed

	if d.tr == nil {
		return nil
	}
	err := d.tr.Close()
	d.tr = nil
	return err
}
