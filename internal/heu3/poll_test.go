package heu3

import (
	"context"
	"errors"
	"testing"
	"time"
)

func telemetryUnit() *fakeUnit {
	return newFakeUnit(map[string]string{
		"RINTE": "23.4",
		"ROUTT": "31.9",
		"RFLOW": "4.72",
		"RPOWR": "1200",
		"RINTR": "1",
		"RLEAK": "0",
		"RPUMP": "1,1",
	})
}

func TestPoller_PublishesSnapshots(t *testing.T) {
	driver, _ := newTestDriver(t, telemetryUnit())
	poller := NewPoller(driver, 10*time.Millisecond)
	defer poller.Close()

	id, snapshots := poller.Subscribe()
	defer poller.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case snap := <-snapshots:
		if snap.InletTempC != 23.4 || snap.OutletTempC != 31.9 || snap.FlowLPM != 4.72 {
			t.Errorf("snapshot temperatures/flow = %+v", snap)
		}
		if snap.PowerW != 1200 {
			t.Errorf("snapshot power = %d, want 1200", snap.PowerW)
		}
		if snap.Interlocked || snap.Leak {
			t.Errorf("snapshot flags = %+v, want all clear", snap)
		}
		if snap.Pump1 != PumpGood || snap.Pump2 != PumpGood {
			t.Errorf("snapshot pumps = %v, %v; want good, good", snap.Pump1, snap.Pump2)
		}
		if snap.Taken.IsZero() {
			t.Error("snapshot has zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot within one second")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestPoller_SlowSubscriberDropsSnapshots(t *testing.T) {
	driver, _ := newTestDriver(t, telemetryUnit())
	poller := NewPoller(driver, time.Hour) // Run never ticks; publish directly
	defer poller.Close()

	id, snapshots := poller.Subscribe()
	defer poller.Unsubscribe(id)

	first := Snapshot{PowerW: 1}
	second := Snapshot{PowerW: 2}

	// the channel buffers one snapshot; the second publish must neither
	// block nor displace the first
	poller.publish(first)
	poller.publish(second)

	got := <-snapshots
	if got.PowerW != first.PowerW {
		t.Errorf("received snapshot %d, want %d", got.PowerW, first.PowerW)
	}
	select {
	case snap := <-snapshots:
		t.Errorf("unexpected second snapshot %d", snap.PowerW)
	default:
	}
}

func TestPoller_KeepsPollingThroughProtocolErrors(t *testing.T) {
	unit := telemetryUnit()
	unit.replies["RINTE"] = "abc" // every round fails to parse
	driver, _ := newTestDriver(t, unit)

	poller := NewPoller(driver, 5*time.Millisecond)
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := poller.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want context.DeadlineExceeded (loop must survive protocol errors)", err)
	}
}

func TestPoller_StopsOnCommunicationError(t *testing.T) {
	driver, port := newTestDriver(t, telemetryUnit())
	poller := NewPoller(driver, 5*time.Millisecond)
	defer poller.Close()

	port.SetReadError(errors.New("device unplugged"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := poller.Run(ctx)
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Run = %v, want *CommunicationError", err)
	}
	if driver.Connected() {
		t.Error("driver still connected after communication error")
	}
}

func TestPoller_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	driver, _ := newTestDriver(t, telemetryUnit())
	poller := NewPoller(driver, time.Second)

	id, ch := poller.Subscribe()
	poller.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed by Close")
	}

	// closing twice and unsubscribing after close are both harmless
	poller.Close()
	poller.Unsubscribe(id)

	_, late := poller.Subscribe()
	if _, ok := <-late; ok {
		t.Error("channel from Subscribe-after-Close not closed")
	}
}

func TestPoller_UnsubscribeClosesChannel(t *testing.T) {
	driver, _ := newTestDriver(t, telemetryUnit())
	poller := NewPoller(driver, time.Second)
	defer poller.Close()

	id, ch := poller.Subscribe()
	poller.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed by Unsubscribe")
	}

	// unknown IDs are ignored
	poller.Unsubscribe("no-such-subscriber")
}
