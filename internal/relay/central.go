package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hr-relay/internal/ble"
	"tinygo.org/x/bluetooth"
)

// State is the central endpoint's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateServiceDiscovery
	StateCharacteristicDiscovery
	StateSubscribing
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service-discovery"
	case StateCharacteristicDiscovery:
		return "characteristic-discovery"
	case StateSubscribing:
		return "subscribing"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Central is the GATT client side of the relay: it owns at most one link to
// the source device and turns its notifications into events. All methods
// must be called from the orchestrator's goroutine; only the stack
// callbacks it registers run elsewhere, and they only post events.
type Central struct {
	adapter        ble.Adapter
	serviceUUID    bluetooth.UUID
	charUUID       bluetooth.UUID
	connectTimeout time.Duration
	post           func(Event)

	state   State
	target  string
	link    ble.Connection
	service ble.Service
	char    ble.Characteristic
	gen     uint64
	err     error

	shortFrames atomic.Uint64
}

// NewCentral creates an idle central endpoint.
func NewCentral(adapter ble.Adapter, serviceUUID, charUUID bluetooth.UUID, connectTimeout time.Duration, post func(Event)) *Central {
	return &Central{
		adapter:        adapter,
		serviceUUID:    serviceUUID,
		charUUID:       charUUID,
		connectTimeout: connectTimeout,
		post:           post,
	}
}

func (c *Central) State() State { return c.state }

// Link returns the generation of the current link, zero before the first connect.
func (c *Central) Link() uint64 { return c.gen }

// Target returns the address of the current or last attempted link.
func (c *Central) Target() string { return c.target }

// Connect walks the state machine from Connecting to Connected. Any failure
// releases the link and leaves the endpoint Idle; retrying is the
// orchestrator's job.
func (c *Central) Connect(ctx context.Context, address string) error {
	if c.state != StateIdle {
		return ErrBusy
	}
	c.target = address
	c.err = nil
	c.state = StateConnecting
	for c.state != StateIdle && c.state != StateConnected {
		c.state = c.step(ctx)
	}
	return c.err
}

func (c *Central) step(ctx context.Context) State {
	switch c.state {
	case StateConnecting:
		return c.dial(ctx)
	case StateServiceDiscovery:
		return c.discoverService()
	case StateCharacteristicDiscovery:
		return c.discoverCharacteristic()
	case StateSubscribing:
		return c.subscribe()
	default:
		return c.fail(fmt.Errorf("relay: connect stepped from %s", c.state))
	}
}

func (c *Central) dial(ctx context.Context) State {
	// Never hold two links: drop whatever the last attempt left behind.
	c.release()

	slog.Info("[CENTRAL] connecting", "address", c.target)
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	link, err := c.adapter.Connect(dialCtx, c.target)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %w", ErrConnectFailure, err))
	}
	c.gen++
	c.link = link
	gen := c.gen
	link.OnDisconnect(func() {
		c.post(Event{Kind: EventDisconnected, Address: link.Address(), Link: gen})
	})
	slog.Info("[CENTRAL] link up", "address", c.target, "link", gen)
	return StateServiceDiscovery
}

func (c *Central) discoverService() State {
	svc, err := c.link.DiscoverService(c.serviceUUID)
	if err != nil {
		return c.fail(classify(ErrServiceNotFound, err))
	}
	c.service = svc
	return StateCharacteristicDiscovery
}

func (c *Central) discoverCharacteristic() State {
	char, err := c.service.DiscoverCharacteristic(c.charUUID)
	if err != nil {
		return c.fail(classify(ErrCharacteristicNotFound, err))
	}
	c.char = char
	return StateSubscribing
}

func (c *Central) subscribe() State {
	if !c.char.CanNotify() {
		return c.fail(ErrNotifyUnsupported)
	}
	gen := c.gen
	err := c.char.Subscribe(func(data []byte) {
		c.onNotification(gen, data)
	})
	if err != nil {
		// The characteristic declared notify; a failed CCCD write is a link
		// or security problem worth retrying.
		return c.fail(fmt.Errorf("%w: subscribe: %w", ErrConnectFailure, err))
	}
	slog.Info("[CENTRAL] subscribed to measurements", "address", c.target, "link", gen)
	return StateConnected
}

// onNotification runs on the stack's goroutine.
func (c *Central) onNotification(gen uint64, data []byte) {
	frame, ok := newFrame(data)
	if !ok {
		c.shortFrames.Add(1)
		return
	}
	c.post(Event{Kind: EventNotification, Frame: frame, Link: gen})
}

// fail records err, releases the link and returns StateIdle.
func (c *Central) fail(err error) State {
	c.err = err
	c.release()
	return StateIdle
}

// release disconnects and forgets the current link, if any.
func (c *Central) release() {
	if c.link == nil {
		return
	}
	if err := c.link.Disconnect(); err != nil {
		slog.Debug("[CENTRAL] disconnect", "address", c.link.Address(), "error", err)
	}
	c.link = nil
	c.service = nil
	c.char = nil
}

// HandleDisconnect processes a stack-reported link loss for generation gen.
// It reports whether the current link was affected; stale generations are
// ignored.
func (c *Central) HandleDisconnect(gen uint64) bool {
	if gen != c.gen || c.state == StateIdle {
		return false
	}
	c.state = StateDisconnected
	slog.Warn("[CENTRAL] source disconnected", "address", c.target, "link", gen)
	c.release()
	c.state = StateIdle
	return true
}

// Close drops the link, if any, and returns to Idle.
func (c *Central) Close() {
	c.release()
	c.state = StateIdle
}

// ShortFrames returns how many notifications were too short to relay.
func (c *Central) ShortFrames() uint64 { return c.shortFrames.Load() }
