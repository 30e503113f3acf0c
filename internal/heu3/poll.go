package heu3

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oregon-physics/heu3/internal/diag"
)

// Snapshot is one round of telemetry collected by the Poller.
type Snapshot struct {
	Taken       time.Time `json:"taken"`
	InletTempC  float64   `json:"inlet_temp_c"`
	OutletTempC float64   `json:"outlet_temp_c"`
	FlowLPM     float64   `json:"flow_lpm"`
	PowerW      int       `json:"power_w"`
	Interlocked bool      `json:"interlocked"`
	Leak        bool      `json:"leak"`
	Pump1       PumpState `json:"pump1"`
	Pump2       PumpState `json:"pump2"`
}

// DefaultPollInterval is the cadence used when NewPoller is given a
// non-positive interval.
const DefaultPollInterval = time.Second

// Poller is the asynchronous polling hook consumed by UI layers. It reads a
// telemetry Snapshot from the driver on a fixed cadence and fans it out to
// subscribers. Each subscriber gets a buffered channel and a non-blocking
// send, so a slow consumer drops snapshots rather than stalling the poll
// loop.
type Poller struct {
	driver   *Driver
	interval time.Duration

	subscriberMu sync.Mutex
	subscribers  map[string]chan Snapshot
	closing      bool
}

// NewPoller wraps driver with a poller at the given cadence.
func NewPoller(driver *Driver, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		driver:      driver,
		interval:    interval,
		subscribers: make(map[string]chan Snapshot),
	}
}

// Subscribe creates a new channel for receiving snapshots. The returned ID
// identifies the channel when unsubscribing.
func (p *Poller) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 1)

	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if p.closing {
		close(ch)
		return id, ch
	}
	p.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (p *Poller) Unsubscribe(id string) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
}

// Run polls until the context is cancelled or the connection dies. Protocol
// and timeout errors are logged and the loop carries on; a
// *CommunicationError means the connection is gone, so the loop stops and
// returns it.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := p.collect()
			if err != nil {
				var commErr *CommunicationError
				if errors.As(err, &commErr) {
					return err
				}
				diag.Logf("heu3: poll: %v", err)
				continue
			}
			p.publish(snap)
		}
	}
}

// collect reads one full telemetry round. Each accessor serializes on the
// driver's command guard, so a concurrent manual command simply interleaves
// between reads.
func (p *Poller) collect() (Snapshot, error) {
	snap := Snapshot{Taken: time.Now()}

	var err error
	if snap.InletTempC, err = p.driver.InletTemp(); err != nil {
		return snap, err
	}
	if snap.OutletTempC, err = p.driver.OutletTemp(); err != nil {
		return snap, err
	}
	if snap.FlowLPM, err = p.driver.FlowRate(); err != nil {
		return snap, err
	}
	if snap.PowerW, err = p.driver.PowerDissipated(); err != nil {
		return snap, err
	}
	if snap.Interlocked, err = p.driver.IsInterlocked(); err != nil {
		return snap, err
	}
	if snap.Leak, err = p.driver.LeakDetected(); err != nil {
		return snap, err
	}
	if snap.Pump1, snap.Pump2, err = p.driver.PumpStatus(); err != nil {
		return snap, err
	}
	return snap, nil
}

func (p *Poller) publish(snap Snapshot) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if p.closing {
		return
	}
	for _, ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			// subscriber still holds an unread snapshot; drop this one
		}
	}
}

// Close closes all subscriber channels. The driver is left open; closing it
// is the owner's job.
func (p *Poller) Close() {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if p.closing {
		return
	}
	p.closing = true
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
}
