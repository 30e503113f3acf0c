package heu3

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oregon-physics/heu3/internal/diag"
	"github.com/oregon-physics/heu3/internal/transport"
)

func TestMain(m *testing.M) {
	diag.SetLogger(nil)
	m.Run()
}

// fakeUnit models the instrument side of the protocol: it answers each
// framed command with a terminated line, tracks its own echo state, and
// stays silent for commands it does not know (driving the caller into a
// timeout, like real firmware that ignores garbage).
type fakeUnit struct {
	mu      sync.Mutex
	term    byte
	echo    bool
	replies map[string]string
}

func newFakeUnit(replies map[string]string) *fakeUnit {
	return &fakeUnit{term: '\n', replies: replies}
}

func (u *fakeUnit) handle(framed []byte) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	command := strings.TrimSuffix(string(framed), string(u.term))
	payload, known := u.lookup(command)
	if !known {
		return nil
	}

	if u.echo {
		out := append([]byte(nil), framed...)
		if payload != "" {
			out = append(out, payload...)
			out = append(out, u.term)
		}
		return out
	}
	return append([]byte(payload), u.term)
}

func (u *fakeUnit) lookup(command string) (string, bool) {
	if reply, ok := u.replies[command]; ok {
		return reply, true
	}

	switch command {
	case "!":
		return "WAZOO!", true
	case "DE":
		u.echo = false
		return "", true
	case "EE":
		u.echo = true
		return "", true
	case "EP", "DP", "ON", "OFF":
		return "", true
	}

	for _, prefix := range []string{"SPS", "SMAXT", "SMINF", "SPONO"} {
		if strings.HasPrefix(command, prefix) {
			return "", true
		}
	}
	return "", false
}

// testTimeout keeps the deadline-driven tests fast.
const testTimeout = 100 * time.Millisecond

func newTestDriver(t *testing.T, unit *fakeUnit) (*Driver, *transport.TestablePort) {
	t.Helper()

	port := transport.NewTestablePort()
	if unit != nil {
		port.ReplyFunc = unit.handle
	}

	driver, err := New(Config{
		Address: "COM3",
		Options: transport.Options{ReadTimeout: testTimeout},
		Factory: &transport.MockFactory{Port: port},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := driver.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return driver, port
}

func TestSendQuery_NotConnected(t *testing.T) {
	port := transport.NewTestablePort()
	driver, err := New(Config{
		Address: "COM3",
		Factory: &transport.MockFactory{Port: port},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := driver.SendQuery("RINTE"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendQuery = %v, want ErrNotConnected", err)
	}
	if port.WriteCalls != 0 {
		t.Errorf("port saw %d writes while disconnected, want 0", port.WriteCalls)
	}
}

func TestSendQuery_IdempotentFraming(t *testing.T) {
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})

	var wires []string
	for _, command := range []string{"RINTE", "RINTE\n"} {
		driver, port := newTestDriver(t, unit)
		if _, err := driver.SendQuery(command); err != nil {
			t.Fatalf("SendQuery(%q) returned error: %v", command, err)
		}
		wires = append(wires, string(port.WrittenData()))
	}

	if wires[0] != wires[1] {
		t.Errorf("framed bytes differ: %q vs %q", wires[0], wires[1])
	}
	if wires[0] != "RINTE\n" {
		t.Errorf("wire bytes = %q, want %q", wires[0], "RINTE\n")
	}
}

func TestSendQuery_EchoStripped(t *testing.T) {
	unit := newFakeUnit(nil)
	unit.echo = true

	driver, port := newTestDriver(t, unit)

	// SPS042 round trip: with echo enabled the unit sends "SPS042\n" back
	// verbatim, so nothing remains after stripping.
	resp, err := driver.SendQuery("SPS042")
	if err != nil {
		t.Fatalf("SendQuery returned error: %v", err)
	}
	if resp != "" {
		t.Errorf("cleaned response = %q, want empty", resp)
	}
	if got := string(port.WrittenData()); got != "SPS042\n" {
		t.Errorf("wire bytes = %q, want %q", got, "SPS042\n")
	}
}

func TestSendQuery_NoEchoResponseUnchanged(t *testing.T) {
	// Driver assumes echo after Open; a prefix that is not present must not
	// be stripped from anything else.
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})
	driver, _ := newTestDriver(t, unit)

	resp, err := driver.SendQuery("RINTE")
	if err != nil {
		t.Fatalf("SendQuery returned error: %v", err)
	}
	if resp != "23.4" {
		t.Errorf("response = %q, want %q", resp, "23.4")
	}
}

func TestSendQuery_TimeoutReleasesGuard(t *testing.T) {
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})
	driver, _ := newTestDriver(t, unit)

	// unknown command: the unit stays silent, the read times out
	start := time.Now()
	_, err := driver.SendQuery("RXXXX")
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("SendQuery = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < testTimeout {
		t.Errorf("timed out after %v, before the %v deadline", elapsed, testTimeout)
	}

	// a timeout must not end the connection
	if !driver.Connected() {
		t.Fatal("driver disconnected after a timeout")
	}

	// and the guard must be free: the next query completes within one
	// deadline window
	done := make(chan error, 1)
	go func() {
		_, err := driver.SendQuery("RINTE")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("query after timeout returned error: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("guard not released: query after timeout did not complete within one deadline window")
	}
}

func TestSendQuery_CommunicationErrorEndsConnection(t *testing.T) {
	unit := newFakeUnit(nil)
	driver, port := newTestDriver(t, unit)

	port.SetReadError(errors.New("device unplugged"))
	_, err := driver.SendQuery("RINTE")

	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("SendQuery error = %v, want *CommunicationError", err)
	}
	if commErr.Command != "RINTE" {
		t.Errorf("CommunicationError.Command = %q, want %q", commErr.Command, "RINTE")
	}
	if driver.Connected() {
		t.Error("driver still connected after communication error")
	}
	if !port.Closed {
		t.Error("port not closed after communication error")
	}

	// further queries fail until an explicit reopen
	if _, err := driver.SendQuery("RINTE"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendQuery after drop = %v, want ErrNotConnected", err)
	}

	if err := driver.Open(); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if !driver.Connected() {
		t.Error("driver not connected after reopen")
	}
}

func TestSendQuery_ResetsInputBufferFirst(t *testing.T) {
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})
	driver, port := newTestDriver(t, unit)

	// a late response from some earlier command is still sitting in the
	// buffer; it must not be attributed to the next query
	port.AddReadData([]byte("99.9\n"))

	got, err := driver.InletTemp()
	if err != nil {
		t.Fatalf("InletTemp returned error: %v", err)
	}
	if got != 23.4 {
		t.Errorf("InletTemp = %v, want 23.4 (stale bytes leaked through)", got)
	}
	if port.InputResets == 0 {
		t.Error("input buffer never reset before the query")
	}
}

func TestConcurrentQueries_ResponsesAttributedCorrectly(t *testing.T) {
	unit := newFakeUnit(map[string]string{
		"RINTE": "11.1",
		"ROUTT": "22.2",
		"RFLOW": "3.33",
		"RPOWR": "1200",
	})
	driver, port := newTestDriver(t, unit)
	port.ReplyLatency = 2 * time.Millisecond // instrument thinks between write and read

	checks := []struct {
		name string
		call func() (string, error)
		want string
	}{
		{"RINTE", func() (string, error) { v, err := driver.InletTemp(); return fmt.Sprint(v), err }, "11.1"},
		{"ROUTT", func() (string, error) { v, err := driver.OutletTemp(); return fmt.Sprint(v), err }, "22.2"},
		{"RFLOW", func() (string, error) { v, err := driver.FlowRate(); return fmt.Sprint(v), err }, "3.33"},
		{"RPOWR", func() (string, error) { v, err := driver.PowerDissipated(); return fmt.Sprint(v), err }, "1200"},
	}

	const iterations = 20
	var wg sync.WaitGroup
	for _, check := range checks {
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				got, err := check.call()
				if err != nil {
					t.Errorf("%s: %v", check.name, err)
					return
				}
				if got != check.want {
					t.Errorf("%s = %s, want %s (response cross-attributed)", check.name, got, check.want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestClose_IsIdempotentAndTerminal(t *testing.T) {
	unit := newFakeUnit(nil)
	driver, port := newTestDriver(t, unit)

	if err := driver.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := driver.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if !port.Closed {
		t.Error("port not closed")
	}

	if _, err := driver.SendQuery("RINTE"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendQuery after Close = %v, want ErrClosed", err)
	}
	if err := driver.Open(); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestOpen_ConnectionError(t *testing.T) {
	driver, err := New(Config{
		Address: "/dev/ttyUSB9",
		Factory: &transport.MockFactory{Err: errors.New("no such device")},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	openErr := driver.Open()
	var connErr *transport.ConnectionError
	if !errors.As(openErr, &connErr) {
		t.Fatalf("Open error = %v, want *transport.ConnectionError", openErr)
	}
	if driver.Connected() {
		t.Error("driver reports connected after failed Open")
	}
	if _, err := driver.SendQuery("RINTE"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendQuery after failed Open = %v, want ErrNotConnected", err)
	}
}

func TestOpen_Twice(t *testing.T) {
	unit := newFakeUnit(nil)
	driver, _ := newTestDriver(t, unit)

	if err := driver.Open(); err != nil {
		t.Errorf("second Open returned error: %v", err)
	}
}

func TestHandshake(t *testing.T) {
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})
	unit.echo = true

	driver, port := newTestDriver(t, unit)
	if err := driver.Handshake(); err != nil {
		t.Fatalf("Handshake returned error: %v", err)
	}

	wire := string(port.WrittenData())
	if !strings.HasPrefix(wire, "DE\n") {
		t.Errorf("handshake did not lead with DE: wire = %q", wire)
	}
	if !strings.Contains(wire, "!\n") {
		t.Errorf("handshake never pinged: wire = %q", wire)
	}

	// echo is off on both ends now; telemetry parses cleanly
	got, err := driver.InletTemp()
	if err != nil {
		t.Fatalf("InletTemp after handshake returned error: %v", err)
	}
	if got != 23.4 {
		t.Errorf("InletTemp = %v, want 23.4", got)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{
		Address: "COM3",
		Options: transport.Options{Backend: "visa"},
	})
	if err == nil {
		t.Fatal("New accepted an unknown backend")
	}
}

func TestCustomTerminator(t *testing.T) {
	unit := newFakeUnit(map[string]string{"RINTE": "23.4"})
	unit.term = '\r'

	port := transport.NewTestablePort()
	port.ReplyFunc = unit.handle

	driver, err := New(Config{
		Address:    "COM3",
		Options:    transport.Options{ReadTimeout: testTimeout},
		Terminator: '\r',
		Factory:    &transport.MockFactory{Port: port},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := driver.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	got, err := driver.InletTemp()
	if err != nil {
		t.Fatalf("InletTemp returned error: %v", err)
	}
	if got != 23.4 {
		t.Errorf("InletTemp = %v, want 23.4", got)
	}
	if wire := string(port.WrittenData()); wire != "RINTE\r" {
		t.Errorf("wire bytes = %q, want %q", wire, "RINTE\r")
	}
}
