//go:build !linux

package ble

import goble "github.com/go-ble/ble"

// NewHCIAdapter returns an adapter whose Enable always fails: raw HCI
// sockets only exist on Linux.
func NewHCIAdapter(opts HCIOptions) *HCIAdapter {
	return newHCIAdapter(func() (goble.Device, error) {
		return nil, ErrUnsupported
	})
}
