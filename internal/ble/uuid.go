package ble

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// Heart Rate service and Heart Rate Measurement characteristic.
var (
	HeartRateServiceUUID     = bluetooth.ServiceUUIDHeartRate
	HeartRateMeasurementUUID = bluetooth.CharacteristicUUIDHeartRateMeasurement
)

// ParseUUID parses a 16-bit ("180D"), 32-bit ("0000180D") or 128-bit
// ("0000180d-0000-1000-8000-00805f9b34fb") UUID. Short forms are expanded
// with the Bluetooth base UUID.
func ParseUUID(s string) (bluetooth.UUID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	switch len(s) {
	case 4, 8:
		b, err := hex.DecodeString(s)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse uuid %q: %w", s, err)
		}
		var v uint32
		for _, c := range b {
			v = v<<8 | uint32(c)
		}
		if len(b) == 2 {
			return bluetooth.New16BitUUID(uint16(v)), nil
		}
		return bluetooth.New32BitUUID(v), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse uuid %q: %w", s, err)
	}
	return bluetooth.NewUUID(u), nil
}
