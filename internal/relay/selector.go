package relay

import (
	"errors"
	"fmt"

	"github.com/chaz8081/hr-relay/internal/ble"
	"tinygo.org/x/bluetooth"
)

// Selector decides which advertiser is the heart-rate source. A configured
// address is authoritative; the service UUID is only consulted when no
// address is set and service matching is enabled, since many devices leave
// it out of their advertisements.
type Selector struct {
	address      string
	serviceUUID  bluetooth.UUID
	matchService bool
}

// NewSelector validates and builds a Selector. At least one criterion must
// be enabled.
func NewSelector(address string, serviceUUID bluetooth.UUID, matchService bool) (Selector, error) {
	if address == "" && !matchService {
		return Selector{}, errors.New("relay: selector needs a target address or service matching")
	}
	if address != "" {
		norm, err := ble.NormalizeAddress(address)
		if err != nil {
			return Selector{}, fmt.Errorf("relay: selector: %w", err)
		}
		address = norm
	}
	return Selector{
		address:      address,
		serviceUUID:  serviceUUID,
		matchService: matchService,
	}, nil
}

// Match reports whether adv is the target device.
func (s Selector) Match(adv ble.Advertisement) bool {
	if s.address != "" {
		return ble.SameAddress(adv.Address(), s.address)
	}
	return s.matchService && adv.HasServiceUUID(s.serviceUUID)
}

func (s Selector) String() string {
	if s.address != "" {
		return "address " + s.address
	}
	return "service " + s.serviceUUID.String()
}
