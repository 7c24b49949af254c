// Package ble hides the Bluetooth Low Energy stack behind small interfaces so
// the relay can act as a central and a peripheral at the same time, and so
// that the relay logic can be tested without a radio. Two backends are
// provided: tinygo.org/x/bluetooth (BlueZ / CoreBluetooth) and go-ble over a
// raw HCI socket.
package ble

import (
	"context"
	"errors"

	"tinygo.org/x/bluetooth"
)

var (
	// ErrNotFound is returned when a service or characteristic is missing
	// from the remote GATT profile.
	ErrNotFound = errors.New("ble: not found")
	// ErrUnsupported is returned by backends that cannot run on this platform.
	ErrUnsupported = errors.New("ble: backend not supported on this platform")
)

// Advertisement is a single scan result. It is only valid for the duration
// of the scan callback it was delivered to.
type Advertisement interface {
	// Address returns the advertiser's address (MAC, or a CoreBluetooth UUID on macOS).
	Address() string
	// LocalName returns the advertised local name, possibly empty.
	LocalName() string
	RSSI() int
	// HasServiceUUID reports whether uuid is listed in the advertisement.
	HasServiceUUID(uuid bluetooth.UUID) bool
}

// Characteristic represents a remote GATT characteristic.
type Characteristic interface {
	// CanNotify reports whether the characteristic declares notify support.
	CanNotify() bool
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Service represents a remote GATT service.
type Service interface {
	// DiscoverCharacteristic finds a characteristic by UUID within the service.
	DiscoverCharacteristic(uuid bluetooth.UUID) (Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	Address() string
	// DiscoverService finds a primary service by UUID.
	DiscoverService(uuid bluetooth.UUID) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the central role of the BLE hardware adapter.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan delivers advertisements to handler until ctx is done or StopScan
	// is called. It blocks for the whole scan.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// StopScan ends a running scan. Stopping an idle adapter is not an error.
	StopScan() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// LocalService describes the single notify-only service hosted in the
// peripheral role.
type LocalService struct {
	ServiceUUID        bluetooth.UUID
	CharacteristicUUID bluetooth.UUID
}

// Server abstracts the peripheral role of the BLE hardware adapter.
type Server interface {
	// AddService registers svc in the local GATT database.
	AddService(svc LocalService) error
	// StartAdvertising advertises name and uuids. Calling it while already
	// advertising restarts the advertisement.
	StartAdvertising(name string, uuids ...bluetooth.UUID) error
	StopAdvertising() error
	// Notify sets the local characteristic value and notifies the subscriber.
	Notify(data []byte) error
	// OnSubscriber registers a callback invoked when a remote central
	// connects (joined=true) or goes away (joined=false).
	OnSubscriber(callback func(address string, joined bool))
}
