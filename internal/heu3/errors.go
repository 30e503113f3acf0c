package heu3

import (
	"errors"
	"fmt"

	"github.com/oregon-physics/heu3/internal/diag"
)

var (
	// ErrNotConnected reports a query attempted with no open connection.
	// Recoverable: call Open and retry.
	ErrNotConnected = errors.New("heu3: not connected")

	// ErrClosed reports a query against a driver after Close. Terminal; a
	// closed driver accepts no further commands.
	ErrClosed = errors.New("heu3: driver closed")
)

// InvalidArgumentError reports a setpoint outside the range the unit
// accepts. It is raised before any I/O, so a rejected setpoint never
// reaches the wire.
type InvalidArgumentError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("heu3: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// CommunicationError reports an underlying transport fault during a query,
// such as the unit being unplugged mid-read. It ends the connection: the
// driver transitions to disconnected and requires an explicit Open before
// further commands.
type CommunicationError struct {
	Command string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("heu3: %s: communication failure: %v", e.Command, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// ProtocolError reports a response that did not match the expected shape.
// It is not retried automatically: a malformed reply usually means a
// firmware or protocol mismatch rather than a transient fault.
type ProtocolError struct {
	Command string
	Raw     string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("heu3: %s: bad response %q: %s", e.Command, e.Raw, e.Reason)
}

// protocolErr builds a ProtocolError and logs the raw text for diagnosis.
func protocolErr(command, raw, reason string) error {
	err := &ProtocolError{Command: command, Raw: raw, Reason: reason}
	diag.Logf("%v", err)
	return err
}
