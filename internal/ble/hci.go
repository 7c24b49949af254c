package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goble "github.com/go-ble/ble"
	"tinygo.org/x/bluetooth"
)

// HCIOptions configures the raw HCI backend.
type HCIOptions struct {
	DeviceID     int           // hciN
	DialTimeout  time.Duration // LE create connection timeout
	ScanInterval time.Duration
	ScanWindow   time.Duration
	ActiveScan   bool
}

// scanUnits converts d to LE scan timing units of 0.625ms, clamped to the
// range the controller accepts (0x0004..0x4000).
func scanUnits(d time.Duration) uint16 {
	n := d / (625 * time.Microsecond)
	switch {
	case n < 0x0004:
		return 0x0004
	case n > 0x4000:
		return 0x4000
	}
	return uint16(n)
}

// HCIAdapter drives the controller directly over a raw HCI socket with
// go-ble, bypassing bluetoothd. It serves both roles on one device.
type HCIAdapter struct {
	newDevice func() (goble.Device, error)

	// mu protects the fields below.
	mu         sync.Mutex
	dev        goble.Device
	scanCancel context.CancelFunc
	advCancel  context.CancelFunc
	advDone    chan struct{}
	notifiers  map[string]goble.Notifier
	active     string // address whose notifier receives Notify
	subscriber func(address string, joined bool)
}

func newHCIAdapter(newDevice func() (goble.Device, error)) *HCIAdapter {
	return &HCIAdapter{
		newDevice: newDevice,
		notifiers: make(map[string]goble.Notifier),
	}
}

// Compile-time checks that HCIAdapter implements both roles.
var (
	_ Adapter = (*HCIAdapter)(nil)
	_ Server  = (*HCIAdapter)(nil)
)

func (a *HCIAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}
	dev, err := a.newDevice()
	if err != nil {
		return fmt.Errorf("ble: open hci device: %w", err)
	}
	a.dev = dev
	return nil
}

func (a *HCIAdapter) device() (goble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, errors.New("ble: hci adapter not enabled")
	}
	return a.dev, nil
}

// Close stops advertising and releases the HCI device.
func (a *HCIAdapter) Close() error {
	a.StopAdvertising()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}
	err := a.dev.Stop()
	a.dev = nil
	return err
}

func (a *HCIAdapter) Scan(ctx context.Context, handler func(Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.scanCancel = cancel
	a.mu.Unlock()
	defer cancel()

	err = dev.Scan(scanCtx, false, func(adv goble.Advertisement) {
		handler(hciAdvertisement{adv})
	})
	if err != nil && scanCtx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *HCIAdapter) StopScan() error {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (a *HCIAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}
	cln, err := dev.Dial(ctx, goble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	conn := &hciConnection{cln: cln, address: address}
	go func() {
		<-cln.Disconnected()
		conn.fireDisconnect()
	}()
	return conn, nil
}

func (a *HCIAdapter) AddService(svc LocalService) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	su, err := toGoBLE(svc.ServiceUUID)
	if err != nil {
		return err
	}
	cu, err := toGoBLE(svc.CharacteristicUUID)
	if err != nil {
		return err
	}

	s := goble.NewService(su)
	c := s.NewCharacteristic(cu)
	c.HandleNotify(goble.NotifyHandlerFunc(a.serveNotify))

	if err := dev.AddService(s); err != nil {
		return fmt.Errorf("ble: add service %s: %w", svc.ServiceUUID, err)
	}
	return nil
}

// serveNotify runs for the lifetime of one subscription.
func (a *HCIAdapter) serveNotify(req goble.Request, n goble.Notifier) {
	addr := req.Conn().RemoteAddr().String()

	a.mu.Lock()
	a.notifiers[addr] = n
	if a.active == "" {
		a.active = addr
	}
	subscriber := a.subscriber
	a.mu.Unlock()

	if subscriber != nil {
		subscriber(addr, true)
	}

	<-n.Context().Done()

	a.mu.Lock()
	delete(a.notifiers, addr)
	if a.active == addr {
		a.active = ""
	}
	a.mu.Unlock()

	if subscriber != nil {
		subscriber(addr, false)
	}
}

func (a *HCIAdapter) StartAdvertising(name string, uuids ...bluetooth.UUID) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	us := make([]goble.UUID, 0, len(uuids))
	for _, u := range uuids {
		gu, err := toGoBLE(u)
		if err != nil {
			return err
		}
		us = append(us, gu)
	}

	a.StopAdvertising()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.advCancel = cancel
	a.advDone = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		err := dev.AdvertiseNameAndServices(ctx, name, us...)
		if err != nil && ctx.Err() == nil {
			slog.Warn("[BLE] advertising stopped", "error", err)
		}
	}()
	return nil
}

func (a *HCIAdapter) StopAdvertising() error {
	a.mu.Lock()
	cancel, done := a.advCancel, a.advDone
	a.advCancel, a.advDone = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (a *HCIAdapter) Notify(data []byte) error {
	a.mu.Lock()
	n := a.notifiers[a.active]
	a.mu.Unlock()
	if n == nil {
		return errors.New("ble: notify: no subscriber")
	}
	if _, err := n.Write(data); err != nil {
		return fmt.Errorf("ble: notify: %w", err)
	}
	return nil
}

func (a *HCIAdapter) OnSubscriber(callback func(address string, joined bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriber = callback
}

// toGoBLE converts u to go-ble's byte form. go-ble compares UUIDs
// byte-wise, so SIG-assigned 16-bit UUIDs must stay in their short form.
func toGoBLE(u bluetooth.UUID) (goble.UUID, error) {
	if u.Is16Bit() {
		return goble.UUID16(u.Get16Bit()), nil
	}
	gu, err := goble.Parse(u.String())
	if err != nil {
		return nil, fmt.Errorf("ble: convert uuid %s: %w", u, err)
	}
	return gu, nil
}

type hciAdvertisement struct {
	adv goble.Advertisement
}

func (h hciAdvertisement) Address() string   { return h.adv.Addr().String() }
func (h hciAdvertisement) LocalName() string { return h.adv.LocalName() }
func (h hciAdvertisement) RSSI() int         { return h.adv.RSSI() }

func (h hciAdvertisement) HasServiceUUID(uuid bluetooth.UUID) bool {
	gu, err := toGoBLE(uuid)
	if err != nil {
		return false
	}
	for _, s := range h.adv.Services() {
		if s.Equal(gu) {
			return true
		}
	}
	return false
}

type hciConnection struct {
	cln     goble.Client
	address string

	mu           sync.Mutex
	disconnected bool
	disconnectCb func()
}

func (c *hciConnection) Address() string { return c.address }

func (c *hciConnection) DiscoverService(uuid bluetooth.UUID) (Service, error) {
	gu, err := toGoBLE(uuid)
	if err != nil {
		return nil, err
	}
	svcs, err := c.cln.DiscoverServices([]goble.UUID{gu})
	if err != nil {
		return nil, fmt.Errorf("ble: discover service %s: %w", uuid, err)
	}
	for _, s := range svcs {
		if s.UUID.Equal(gu) {
			return &hciService{cln: c.cln, svc: s}, nil
		}
	}
	return nil, fmt.Errorf("ble: service %s: %w", uuid, ErrNotFound)
}

func (c *hciConnection) Disconnect() error {
	return c.cln.CancelConnection()
}

// OnDisconnect fires cb immediately if the link already dropped.
func (c *hciConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	gone := c.disconnected
	c.mu.Unlock()
	if gone && cb != nil {
		cb()
	}
}

func (c *hciConnection) fireDisconnect() {
	c.mu.Lock()
	c.disconnected = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type hciService struct {
	cln goble.Client
	svc *goble.Service
}

func (s *hciService) DiscoverCharacteristic(uuid bluetooth.UUID) (Characteristic, error) {
	gu, err := toGoBLE(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := s.cln.DiscoverCharacteristics([]goble.UUID{gu}, s.svc)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristic %s: %w", uuid, err)
	}
	for _, c := range chars {
		if !c.UUID.Equal(gu) {
			continue
		}
		// Subscribe needs the CCCD, which lives in the descriptors.
		if _, err := s.cln.DiscoverDescriptors(nil, c); err != nil {
			return nil, fmt.Errorf("ble: discover descriptors of %s: %w", uuid, err)
		}
		return &hciCharacteristic{cln: s.cln, char: c}, nil
	}
	return nil, fmt.Errorf("ble: characteristic %s: %w", uuid, ErrNotFound)
}

type hciCharacteristic struct {
	cln  goble.Client
	char *goble.Characteristic
}

func (c *hciCharacteristic) CanNotify() bool {
	return c.char.Property&goble.CharNotify != 0 && c.char.CCCD != nil
}

func (c *hciCharacteristic) Subscribe(cb func([]byte)) error {
	return c.cln.Subscribe(c.char, false, func(req []byte) {
		cb(req)
	})
}
