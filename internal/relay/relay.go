// Package relay implements the dual-role heart-rate relay: it discovers the
// source device, keeps a central link to it, and republishes every
// measurement notification unchanged through a local peripheral.
//
// Stack callbacks never touch relay state directly. They post typed events
// into a queue which Relay drains on each tick, so the connection state
// machines only ever run on the goroutine calling Tick.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hr-relay/internal/ble"
	"github.com/chaz8081/hr-relay/internal/hrm"
)

// Options configures the orchestrator's timing.
type Options struct {
	ScanDuration      time.Duration // length of one discovery pass
	ConnectTimeout    time.Duration // bound on one connect attempt
	TickInterval      time.Duration // polling period of Run
	HeartbeatInterval time.Duration // liveness log period
	QueueSize         int           // max buffered stack events
	PeripheralName    string        // advertised local name
}

// DefaultOptions returns the stock timing and advertised name.
func DefaultOptions() Options {
	return Options{
		ScanDuration:      5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		TickInterval:      10 * time.Millisecond,
		HeartbeatInterval: 2 * time.Second,
		QueueSize:         256,
		PeripheralName:    "Pixel-HR-Repeater",
	}
}

// Stats is a snapshot of relay counters.
type Stats struct {
	FramesRelayed   uint64
	FramesDropped   uint64 // no subscriber, or notify failed
	ShortFrames     uint64 // notifications of one byte or less
	Scans           uint64
	ConnectAttempts uint64
	ConnectFailures uint64
	Disconnects     uint64
}

// Relay is the orchestrator tying scanner, central and peripheral together.
type Relay struct {
	opts       Options
	queue      *eventQueue
	scanner    *Scanner
	central    *Central
	peripheral *Peripheral

	pending      string     // target found, connect not yet issued
	incompatible *blocklist // addresses that failed GATT checks
	lastBeat     time.Time
	now          func() time.Time

	scans           atomic.Uint64
	connectAttempts atomic.Uint64
	connectFailures atomic.Uint64
	disconnects     atomic.Uint64
}

// New wires a relay over the given central-role adapter and peripheral-role
// server, which are usually the same backend.
func New(adapter ble.Adapter, server ble.Server, selector Selector, opts Options) *Relay {
	def := DefaultOptions()
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = def.ScanDuration
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.PeripheralName == "" {
		opts.PeripheralName = def.PeripheralName
	}

	r := &Relay{
		opts:         opts,
		queue:        newEventQueue(opts.QueueSize),
		incompatible: newBlocklist(),
		now:          time.Now,
	}
	r.scanner = NewScanner(adapter, selector, r.queue.push)
	r.scanner.SkipIf(r.incompatible.has)
	r.central = NewCentral(adapter, ble.HeartRateServiceUUID, ble.HeartRateMeasurementUUID, opts.ConnectTimeout, r.queue.push)
	r.peripheral = NewPeripheral(server, opts.PeripheralName, ble.HeartRateServiceUUID, ble.HeartRateMeasurementUUID)

	server.OnSubscriber(func(address string, joined bool) {
		kind := EventSubscriberLeft
		if joined {
			kind = EventSubscriberJoined
		}
		r.queue.push(Event{Kind: kind, Address: address})
	})
	return r
}

// Start brings up the peripheral side. The central side starts on the
// first tick.
func (r *Relay) Start() error {
	return r.peripheral.Start()
}

// Run starts the relay and ticks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Close()

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one pass of the control loop.
func (r *Relay) Tick(ctx context.Context) {
	for _, ev := range r.queue.drain() {
		r.apply(ev)
	}

	// Clear the signal before connecting so that, whatever the outcome, a
	// found event yields at most one attempt.
	if r.pending != "" {
		target := r.pending
		r.pending = ""
		r.connect(ctx, target)
	}

	if r.central.State() == StateIdle && !r.scanner.Scanning() && ctx.Err() == nil {
		if r.scanner.Start(ctx, r.opts.ScanDuration) {
			r.scans.Add(1)
		}
	}

	r.peripheral.EnsureAdvertising()
	r.heartbeat()
}

func (r *Relay) apply(ev Event) {
	switch ev.Kind {
	case EventFound:
		if r.central.State() != StateIdle || r.pending != "" {
			return
		}
		if r.incompatible.has(ev.Address) {
			slog.Debug("[RELAY] ignoring incompatible device", "address", ev.Address)
			return
		}
		r.pending = ev.Address
	case EventDisconnected:
		if r.central.HandleDisconnect(ev.Link) {
			r.disconnects.Add(1)
		}
	case EventNotification:
		if ev.Link != r.central.Link() {
			return
		}
		r.logMeasurement(ev.Frame)
		r.peripheral.Publish(ev.Frame)
	case EventSubscriberJoined:
		r.peripheral.SubscriberConnected(ev.Address)
	case EventSubscriberLeft:
		r.peripheral.SubscriberDisconnected(ev.Address)
	}
}

func (r *Relay) connect(ctx context.Context, target string) {
	r.scanner.Stop()
	r.connectAttempts.Add(1)

	err := r.central.Connect(ctx, target)
	switch {
	case err == nil:
		slog.Info("[RELAY] relaying from source", "address", target)
	case permanent(err):
		r.connectFailures.Add(1)
		r.incompatible.add(target)
		slog.Error("[RELAY] source is incompatible, not retrying it", "address", target, "error", err)
	default:
		r.connectFailures.Add(1)
		slog.Warn("[RELAY] connect failed, rescanning", "address", target, "error", err)
	}
}

func (r *Relay) logMeasurement(f Frame) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	m, err := hrm.Decode(f)
	if err != nil {
		slog.Debug("[RELAY] frame", "len", len(f), "error", err)
		return
	}
	slog.Debug("[RELAY] heart rate", "bpm", m.BPM, "rr", m.RRIntervals, "len", len(f))
}

func (r *Relay) heartbeat() {
	now := r.now()
	if now.Sub(r.lastBeat) < r.opts.HeartbeatInterval {
		return
	}
	r.lastBeat = now
	s := r.Stats()
	slog.Info("[RELAY] heartbeat",
		"central", r.central.State(),
		"source", r.central.Target(),
		"subscriber", r.peripheral.Subscribed(),
		"relayed", s.FramesRelayed,
		"dropped", s.FramesDropped,
	)
}

// Stats returns the current counters. Safe for concurrent use.
func (r *Relay) Stats() Stats {
	return Stats{
		FramesRelayed:   r.peripheral.relayed.Load(),
		FramesDropped:   r.peripheral.dropped.Load(),
		ShortFrames:     r.central.ShortFrames(),
		Scans:           r.scans.Load(),
		ConnectAttempts: r.connectAttempts.Load(),
		ConnectFailures: r.connectFailures.Load(),
		Disconnects:     r.disconnects.Load(),
	}
}

// Close stops scanning, drops the source link and stops advertising.
func (r *Relay) Close() {
	r.scanner.Stop()
	r.central.Close()
	r.peripheral.Stop()
	slog.Info("[RELAY] stopped", "relayed", r.peripheral.relayed.Load())
}
