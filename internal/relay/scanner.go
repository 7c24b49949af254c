package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hr-relay/internal/ble"
)

// Scanner runs bounded discovery passes and posts EventFound for the first
// advertiser the selector accepts.
type Scanner struct {
	adapter  ble.Adapter
	selector Selector
	post     func(Event)
	skip     func(address string) bool

	scanning atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner creates a scanner that reports matches through post.
func NewScanner(adapter ble.Adapter, selector Selector, post func(Event)) *Scanner {
	return &Scanner{adapter: adapter, selector: selector, post: post}
}

// SkipIf makes passes ignore matching advertisers for which fn returns true,
// so they neither end the pass nor post EventFound. It must be called before
// the first Start.
func (s *Scanner) SkipIf(fn func(address string) bool) {
	s.skip = fn
}

// Scanning reports whether a pass is in progress, including one that is
// still tearing down after a match.
func (s *Scanner) Scanning() bool {
	return s.scanning.Load()
}

// Start begins a pass lasting at most duration. It is a no-op returning
// false while a previous pass is still running.
func (s *Scanner) Start(ctx context.Context, duration time.Duration) bool {
	if !s.scanning.CompareAndSwap(false, true) {
		return false
	}

	passCtx, cancel := context.WithTimeout(ctx, duration)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	slog.Info("[SCAN] scanning for source", "target", s.selector, "duration", duration)
	go s.run(passCtx, cancel, done)
	return true
}

func (s *Scanner) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		s.scanning.Store(false)
		close(done)
	}()

	var found atomic.Bool
	err := s.adapter.Scan(ctx, func(adv ble.Advertisement) {
		if found.Load() {
			return
		}
		slog.Debug("[SCAN] advertisement", "address", adv.Address(), "name", adv.LocalName(), "rssi", adv.RSSI())
		if !s.selector.Match(adv) {
			return
		}
		if s.skip != nil && s.skip(adv.Address()) {
			return
		}
		if !found.CompareAndSwap(false, true) {
			return
		}
		slog.Info("[SCAN] found source", "address", adv.Address(), "name", adv.LocalName(), "rssi", adv.RSSI())
		// Stop the pass here rather than leaving it to the caller, so a
		// second match cannot arrive while the pass tears down.
		cancel()
		s.post(Event{Kind: EventFound, Address: adv.Address()})
	})
	if err != nil {
		slog.Warn("[SCAN] scan failed", "error", err)
		return
	}
	if !found.Load() {
		slog.Debug("[SCAN] scan window elapsed without a match")
	}
}

// Stop cancels the running pass, if any, and waits for it to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
