package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort implements Port with configurable behaviour for testing. It
// provides fine-grained control over reads, writes, errors, and latency.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReplyFunc, when set, is called with each write and its result (if
	// non-nil) is appended to ReadBuffer. This turns the port into a
	// scriptable instrument.
	ReplyFunc func(command []byte) []byte

	// ReplyLatency delays the availability of a ReplyFunc response,
	// simulating a slow instrument between write and read.
	ReplyLatency time.Duration

	// ReadError is returned by the next Read call if set.
	ReadError error

	// WriteError is returned by the next Write call if set.
	WriteError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadCalls, WriteCalls, and InputResets record call counts.
	ReadCalls   int
	WriteCalls  int
	InputResets int

	// replyReady gates ReadBuffer content queued by ReplyFunc.
	replyReady time.Time
}

// NewTestablePort creates a new TestablePort.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read returns buffered data, honouring any configured reply latency and
// scripted errors. An empty buffer yields (0, nil), matching a serial port
// whose hardware read timeout expired.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if time.Now().Before(t.replyReady) {
		return 0, nil
	}

	return t.readBuffered(p)
}

// readBuffered mirrors a hardware read timeout: no data means (0, nil), not
// io.EOF.
func (t *TestablePort) readBuffered(p []byte) (int, error) {
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write records data, optionally queueing a scripted reply.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err := t.WriteBuffer.Write(p)
	if err != nil {
		return n, err
	}

	if t.ReplyFunc != nil {
		if reply := t.ReplyFunc(append([]byte(nil), p...)); reply != nil {
			t.ReadBuffer.Write(reply)
			t.replyReady = time.Now().Add(t.ReplyLatency)
		}
	}

	return n, nil
}

// ResetInputBuffer discards unread data.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return errors.New("serial port closed")
	}

	t.InputResets++
	t.ReadBuffer.Reset()
	return nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadError arranges for the next Read call to fail with err.
func (t *TestablePort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
}

// SetWriteError arranges for the next Write call to fail with err.
func (t *TestablePort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteError = err
}

// AddReadData appends data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// WrittenData returns all data written to the port.
func (t *TestablePort) WrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// Reset clears all buffers and recorded state.
func (t *TestablePort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.InputResets = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ReplyFunc = nil
	t.ReplyLatency = 0
	t.replyReady = time.Time{}
}

// MockFactory implements Factory for testing.
type MockFactory struct {
	mu sync.Mutex

	// Port is the port returned from Open.
	Port Port

	// Err is returned by Open if set.
	Err error

	// OpenCalls records all Open calls.
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Address string
	Options Options
}

// Open returns the configured port or error.
func (f *MockFactory) Open(address string, opts Options) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Address: address, Options: opts})

	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
