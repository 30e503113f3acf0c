// Package transport owns the byte-level exchange with the heat exchange
// unit: opening and closing the serial link, deadline-bounded writes, reads
// that accumulate until a terminator, and discarding stale input. It has no
// knowledge of the command protocol.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// Port is the minimal serial-port surface the transport needs. Both real
// backends satisfy it, and tests substitute in-memory implementations.
type Port interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Factory opens ports. It is the injection seam between the transport and
// the concrete serial backends (and between tests and fake hardware).
type Factory interface {
	Open(address string, opts Options) (Port, error)
}

// ConnectionError wraps a failure to open the underlying port.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: open %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// readPollInterval is how long ReadUntil sleeps when the port has nothing
// buffered. Real ports block in Read for up to portReadSlice instead, so the
// sleep only matters for non-blocking test doubles.
const readPollInterval = time.Millisecond

// Transport performs deadline-bounded I/O against a single serial port.
//
// A Transport is not safe for concurrent use on its own; the driver's
// command guard serializes access to it.
type Transport struct {
	port    Port
	timeout time.Duration
	closed  bool
}

// Open normalizes the address and options, opens the port through the given
// factory, and returns a ready Transport. Open failures are reported as a
// *ConnectionError so callers can distinguish "never connected" from faults
// on an established link.
func Open(factory Factory, address string, opts Options) (*Transport, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	address = NormalizeAddress(address)
	port, err := factory.Open(address, normalized)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: err}
	}

	return New(port, normalized.ReadTimeout), nil
}

// New wraps an already open port. Used by tests and by callers that manage
// the port lifecycle themselves.
func New(port Port, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Transport{port: port, timeout: timeout}
}

// Timeout returns the per-operation deadline.
func (t *Transport) Timeout() time.Duration { return t.timeout }

// Write sends p in full, bounded by the configured timeout. A port that
// accepts some bytes and then stops making progress is reported as
// ErrTimeout with the progress so far. The deadline is checked between
// port writes; a single port Write call that blocks inside the OS driver
// is not interrupted.
func (t *Transport) Write(p []byte) error {
	if t.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(t.timeout)
	for written := 0; written < len(p); {
		n, err := t.port.Write(p[written:])
		written += n
		if err != nil {
			return fmt.Errorf("write %q: %w", p, err)
		}
		if written < len(p) && time.Now().After(deadline) {
			return fmt.Errorf("write %q: %d of %d bytes after %s: %w",
				p, written, len(p), t.timeout, ErrTimeout)
		}
	}
	return nil
}

// ReadUntil accumulates bytes until the terminator is observed, returning
// everything up to and including it. An elapsed deadline is always reported
// as ErrTimeout carrying any partial data in the message; it is never a
// short success.
func (t *Transport) ReadUntil(terminator byte) ([]byte, error) {
	if t.closed {
		return nil, ErrClosed
	}

	var acc bytes.Buffer
	buf := make([]byte, 64)
	deadline := time.Now().Add(t.timeout)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if i := bytes.IndexByte(acc.Bytes(), terminator); i >= 0 {
				return acc.Bytes()[:i+1], nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("read: no terminator %q in %q after %s: %w",
				terminator, acc.Bytes(), t.timeout, ErrTimeout)
		}
		if n == 0 {
			time.Sleep(readPollInterval)
		}
	}
}

// ResetInputBuffer discards any stale bytes so a late response to a previous
// command cannot be attributed to the next one.
func (t *Transport) ResetInputBuffer() error {
	if t.closed {
		return ErrClosed
	}
	return t.port.ResetInputBuffer()
}

// Close releases the underlying port. Closing twice is not an error.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
