package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Enabler is implemented by anything that can power on a BLE adapter.
type Enabler interface {
	Enable() error
}

// backoffDelay returns the retry delay for attempt n, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// EnableWithRetry powers on the adapter, retrying with exponential backoff
// (capped at maxDelay) until it succeeds or ctx is done. bluetoothd or the
// HCI device are often not ready yet when the relay starts at boot.
func EnableWithRetry(ctx context.Context, a Enabler, maxDelay time.Duration) error {
	for attempt := 0; ; attempt++ {
		err := a.Enable()
		if err == nil {
			if attempt > 0 {
				slog.Info("[BLE] adapter enabled", "attempts", attempt+1)
			}
			return nil
		}

		delay := backoffDelay(attempt, maxDelay)
		slog.Warn("[BLE] enable adapter failed", "error", err, "attempt", attempt+1, "retry_in", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("ble: enable adapter: %w", err)
		case <-time.After(delay):
		}
	}
}
