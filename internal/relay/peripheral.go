package relay

import (
	"log/slog"
	"sync/atomic"

	"github.com/chaz8081/hr-relay/internal/ble"
	"tinygo.org/x/bluetooth"
)

// Peripheral hosts the re-broadcast Heart Rate service and serves a single
// subscriber. Like Central, it is only touched from the orchestrator's
// goroutine.
type Peripheral struct {
	server      ble.Server
	name        string
	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID

	subscribed  bool
	subscriber  string
	advertising bool

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// NewPeripheral creates the peripheral endpoint. Nothing is registered with
// the stack until Start.
func NewPeripheral(server ble.Server, name string, serviceUUID, charUUID bluetooth.UUID) *Peripheral {
	return &Peripheral{
		server:      server,
		name:        name,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
	}
}

// Start registers the notify-only service and begins advertising it.
func (p *Peripheral) Start() error {
	err := p.server.AddService(ble.LocalService{
		ServiceUUID:        p.serviceUUID,
		CharacteristicUUID: p.charUUID,
	})
	if err != nil {
		return err
	}
	if err := p.startAdvertising(); err != nil {
		return err
	}
	slog.Info("[PERIPHERAL] advertising", "name", p.name, "service", p.serviceUUID.String())
	return nil
}

func (p *Peripheral) startAdvertising() error {
	if err := p.server.StartAdvertising(p.name, p.serviceUUID); err != nil {
		p.advertising = false
		return err
	}
	p.advertising = true
	return nil
}

// EnsureAdvertising restarts advertising if no subscriber is connected and a
// previous restart failed.
func (p *Peripheral) EnsureAdvertising() {
	if p.subscribed || p.advertising {
		return
	}
	if err := p.startAdvertising(); err != nil {
		slog.Warn("[PERIPHERAL] restart advertising failed", "error", err)
		return
	}
	slog.Info("[PERIPHERAL] advertising resumed", "name", p.name)
}

// Publish forwards frame to the subscriber. Without a subscriber the frame
// is dropped; losing a heart-rate sample is acceptable.
func (p *Peripheral) Publish(frame Frame) {
	if !p.subscribed {
		p.dropped.Add(1)
		return
	}
	if err := p.server.Notify(frame); err != nil {
		p.dropped.Add(1)
		slog.Warn("[PERIPHERAL] notify failed", "subscriber", p.subscriber, "error", err)
		return
	}
	p.relayed.Add(1)
}

// SubscriberConnected marks address as the subscriber. Only one subscriber
// is served; later ones are ignored until it leaves.
func (p *Peripheral) SubscriberConnected(address string) {
	if p.subscribed {
		if !ble.SameAddress(address, p.subscriber) {
			slog.Warn("[PERIPHERAL] ignoring second subscriber", "address", address, "subscriber", p.subscriber)
		}
		return
	}
	p.subscribed = true
	p.subscriber = address
	// The stack stops advertising once a central connects.
	p.advertising = false
	slog.Info("[PERIPHERAL] subscriber connected", "address", address)
}

// SubscriberDisconnected clears the subscriber and restarts advertising,
// which the stack does not do on its own after a disconnect.
func (p *Peripheral) SubscriberDisconnected(address string) {
	if !p.subscribed || !ble.SameAddress(address, p.subscriber) {
		return
	}
	p.subscribed = false
	p.subscriber = ""
	slog.Info("[PERIPHERAL] subscriber disconnected", "address", address)

	if err := p.startAdvertising(); err != nil {
		slog.Warn("[PERIPHERAL] restart advertising failed", "error", err)
		return
	}
	slog.Info("[PERIPHERAL] advertising resumed", "name", p.name)
}

// Stop ends advertising.
func (p *Peripheral) Stop() {
	if err := p.server.StopAdvertising(); err != nil {
		slog.Debug("[PERIPHERAL] stop advertising", "error", err)
	}
	p.advertising = false
}

func (p *Peripheral) Subscribed() bool  { return p.subscribed }
func (p *Peripheral) Advertising() bool { return p.advertising }
