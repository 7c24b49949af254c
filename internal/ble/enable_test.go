package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyEnabler fails the first failures calls to Enable.
type flakyEnabler struct {
	failures int
	calls    int
}

func (f *flakyEnabler) Enable() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("adapter not ready")
	}
	return nil
}

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d, 30s) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	// Attempt=100 would overflow the shift without the guard
	got := backoffDelay(100, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("backoffDelay(100, 30s) = %v, want 30s", got)
	}

	got = backoffDelay(31, time.Minute)
	if got <= 0 || got > time.Minute {
		t.Errorf("backoffDelay(31, 1m) = %v, want within (0, 1m]", got)
	}
}

func TestEnableWithRetryImmediateSuccess(t *testing.T) {
	e := &flakyEnabler{}
	if err := EnableWithRetry(context.Background(), e, time.Second); err != nil {
		t.Fatalf("EnableWithRetry() error = %v", err)
	}
	if e.calls != 1 {
		t.Errorf("Enable called %d times, want 1", e.calls)
	}
}

func TestEnableWithRetryRecovers(t *testing.T) {
	e := &flakyEnabler{failures: 1}

	// the first retry waits backoffDelay(0) = 1s, capped here to 10ms
	if err := EnableWithRetry(context.Background(), e, 10*time.Millisecond); err != nil {
		t.Fatalf("EnableWithRetry() error = %v", err)
	}
	if e.calls != 2 {
		t.Errorf("Enable called %d times, want 2", e.calls)
	}
}

func TestEnableWithRetryStopsOnCancel(t *testing.T) {
	e := &flakyEnabler{failures: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := EnableWithRetry(ctx, e, 10*time.Millisecond)
	if err == nil {
		t.Fatal("EnableWithRetry() should fail once ctx is done")
	}
	if e.calls < 2 {
		t.Errorf("Enable called %d times, want retries before giving up", e.calls)
	}
}
