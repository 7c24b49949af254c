//go:build linux

package ble

import (
	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// NewHCIAdapter creates an adapter bound to hciN. The device is opened on
// Enable; the process needs CAP_NET_ADMIN and bluetoothd must not own hciN.
func NewHCIAdapter(opts HCIOptions) *HCIAdapter {
	scanType := uint8(0x00) // passive
	if opts.ActiveScan {
		scanType = 0x01
	}
	return newHCIAdapter(func() (goble.Device, error) {
		dev, err := linux.NewDevice(
			goble.OptDeviceID(opts.DeviceID),
			goble.OptDialerTimeout(opts.DialTimeout),
			goble.OptScanParams(cmd.LESetScanParameters{
				LEScanType:           scanType,
				LEScanInterval:       scanUnits(opts.ScanInterval),
				LEScanWindow:         scanUnits(opts.ScanWindow),
				OwnAddressType:       0x00, // public
				ScanningFilterPolicy: 0x00, // accept all
			}),
		)
		if err != nil {
			return nil, err
		}
		return dev, nil
	})
}
