package relay

import (
	"errors"
	"fmt"

	"github.com/chaz8081/hr-relay/internal/ble"
)

var (
	// ErrBusy is returned by Central.Connect while a link is being set up or
	// is already up.
	ErrBusy = errors.New("relay: central already connecting or connected")
	// ErrConnectFailure means the link could not be set up: the dial was
	// rejected or timed out, or the link failed during discovery or subscribe.
	ErrConnectFailure = errors.New("relay: connect failed")
	// ErrServiceNotFound means the device does not host the Heart Rate service.
	ErrServiceNotFound = errors.New("relay: service not found")
	// ErrCharacteristicNotFound means the service lacks the measurement characteristic.
	ErrCharacteristicNotFound = errors.New("relay: characteristic not found")
	// ErrNotifyUnsupported means the characteristic cannot notify.
	ErrNotifyUnsupported = errors.New("relay: characteristic does not support notify")
)

// permanent reports whether err marks the device as structurally
// incompatible rather than temporarily unreachable.
func permanent(err error) bool {
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrCharacteristicNotFound) ||
		errors.Is(err, ErrNotifyUnsupported)
}

// classify wraps a discovery error as missing when the backend reports a
// genuine absence, and as a retryable link failure otherwise.
func classify(missing, err error) error {
	if errors.Is(err, ble.ErrNotFound) {
		return fmt.Errorf("%w: %w", missing, err)
	}
	return fmt.Errorf("%w: discovery: %w", ErrConnectFailure, err)
}
