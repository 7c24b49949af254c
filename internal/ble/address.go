package ble

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// NormalizeAddress returns the canonical form of a device address. Linux
// backends identify devices by MAC ("20:F0:94:4C:01:D5"); CoreBluetooth
// identifies them by an opaque UUID, which is accepted as well.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if mac, err := bluetooth.ParseMAC(s); err == nil {
		return mac.String(), nil
	}
	if u, err := uuid.Parse(s); err == nil {
		return strings.ToUpper(u.String()), nil
	}
	return "", fmt.Errorf("ble: %q is neither a MAC address nor a device UUID", s)
}

// SameAddress compares two device addresses, ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
