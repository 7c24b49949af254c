package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. It runs on BlueZ (Linux, over
// D-Bus) and CoreBluetooth (macOS). On macOS, device addresses are
// CoreBluetooth UUIDs rather than MAC addresses.
//
// The stack reports every link through one adapter-wide connect handler, so
// events are demultiplexed by address: links we dialed belong to the central
// role, everything else is a central connecting to our peripheral.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the fields below.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by upper-case address
	dialing     map[string]bool
	subscriber  func(address string, joined bool)

	char        bluetooth.Characteristic
	adv         *bluetooth.Advertisement
	configured  bool
	advertising bool
}

// NewTinyGoAdapter creates a BLE adapter using the default tinygo adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
		dialing:     make(map[string]bool),
	}
}

// Compile-time checks that TinyGoAdapter implements both roles.
var (
	_ Adapter = (*TinyGoAdapter)(nil)
	_ Server  = (*TinyGoAdapter)(nil)
)

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	a.adapter.SetConnectHandler(a.handleConnect)
	return nil
}

func (a *TinyGoAdapter) handleConnect(device bluetooth.Device, connected bool) {
	key := strings.ToUpper(device.Address.String())

	a.mu.Lock()
	conn, central := a.connections[key]
	dialing := a.dialing[key]
	if central && !connected {
		delete(a.connections, key)
	}
	subscriber := a.subscriber
	a.mu.Unlock()

	if central || dialing {
		if central && !connected {
			conn.fireDisconnect()
		}
		return
	}
	if subscriber != nil {
		subscriber(key, connected)
	}
}

func (a *TinyGoAdapter) Scan(ctx context.Context, handler func(Advertisement)) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(tinygoAdvertisement{result})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	// tinygo returns an error when no scan is in progress.
	_ = a.adapter.StopScan()
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	key := strings.ToUpper(address)
	var addr bluetooth.Address
	addr.Set(address)

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	a.mu.Lock()
	a.dialing[key] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.dialing, key)
		a.mu.Unlock()
	}()

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, params)
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed; a late
		// success is torn down so it does not linger as a second link.
		go func() {
			if r := <-ch; r.err == nil {
				slog.Debug("[BLE] dropping late connection", "address", address)
				r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinygoConnection{device: result.device, address: key}

		a.mu.Lock()
		a.connections[key] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

func (a *TinyGoAdapter) AddService(svc LocalService) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.adapter.AddService(&bluetooth.Service{
		UUID: svc.ServiceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &a.char,
				UUID:   svc.CharacteristicUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ble: add service %s: %w", svc.ServiceUUID, err)
	}
	return nil
}

func (a *TinyGoAdapter) StartAdvertising(name string, uuids ...bluetooth.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adv == nil {
		a.adv = a.adapter.DefaultAdvertisement()
	}
	// BlueZ only lets an advertisement be configured once.
	if !a.configured {
		err := a.adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    name,
			ServiceUUIDs: uuids,
		})
		if err != nil {
			return fmt.Errorf("ble: configure advertisement: %w", err)
		}
		a.configured = true
	}
	if a.advertising {
		_ = a.adv.Stop()
		a.advertising = false
	}
	if err := a.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	a.advertising = true
	return nil
}

func (a *TinyGoAdapter) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil || !a.advertising {
		return nil
	}
	a.advertising = false
	if err := a.adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Notify(data []byte) error {
	if _, err := a.char.Write(data); err != nil {
		return fmt.Errorf("ble: notify: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) OnSubscriber(callback func(address string, joined bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriber = callback
}

type tinygoAdvertisement struct {
	result bluetooth.ScanResult
}

func (r tinygoAdvertisement) Address() string   { return r.result.Address.String() }
func (r tinygoAdvertisement) LocalName() string { return r.result.LocalName() }
func (r tinygoAdvertisement) RSSI() int         { return int(r.result.RSSI) }

func (r tinygoAdvertisement) HasServiceUUID(uuid bluetooth.UUID) bool {
	return r.result.HasServiceUUID(uuid)
}

type tinygoConnection struct {
	device  bluetooth.Device
	address string

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) Address() string { return c.address }

func (c *tinygoConnection) DiscoverService(uuid bluetooth.UUID) (Service, error) {
	// A filtered discovery fails the same way for a missing service and a
	// dropped link, so list everything and look for uuid ourselves.
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	for _, s := range svcs {
		if s.UUID() == uuid {
			return tinygoService{svc: s}, nil
		}
	}
	return nil, fmt.Errorf("ble: service %s: %w", uuid, ErrNotFound)
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoService struct {
	svc bluetooth.DeviceService
}

func (s tinygoService) DiscoverCharacteristic(uuid bluetooth.UUID) (Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	for _, c := range chars {
		if c.UUID() == uuid {
			return &tinygoCharacteristic{char: c}, nil
		}
	}
	return nil, fmt.Errorf("ble: characteristic %s: %w", uuid, ErrNotFound)
}

// tinygoCharacteristic cannot inspect the declared properties on every
// platform, so CanNotify is optimistic and a failing EnableNotifications is
// treated by callers as a retryable link error.
type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) CanNotify() bool { return true }

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
