// Package app contains the application services of the safety governor.
// Services hold injected repository and notifier dependencies and carry the
// orchestration logic; pure decision rules live in internal/core.
package app

import (
	"sync"

	"github.com/example/warden/internal/ports/primary"
)

// WaiterRegistry parks AwaitResolution callers on one-shot channels keyed by
// approval request ID. Resolution paths (human resolve, expiry sweep,
// emergency stop) deliver through it so waiters never poll the ledger.
type WaiterRegistry struct {
	mu      sync.Mutex
	waiters map[string][]chan primary.Resolution
}

// NewWaiterRegistry creates an empty registry.
func NewWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{waiters: make(map[string][]chan primary.Resolution)}
}

// Register parks a new waiter for the given request. The returned channel
// receives at most one resolution. The cancel function must be called when
// the waiter stops listening, or the slot leaks.
func (r *WaiterRegistry) Register(requestID string) (<-chan primary.Resolution, func()) {
	ch := make(chan primary.Resolution, 1)

	r.mu.Lock()
	r.waiters[requestID] = append(r.waiters[requestID], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.waiters[requestID]
		for i, c := range chans {
			if c == ch {
				r.waiters[requestID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(r.waiters[requestID]) == 0 {
			delete(r.waiters, requestID)
		}
	}
	return ch, cancel
}

// Notify delivers the resolution to every waiter of the request and clears
// the slot. Channels are buffered so delivery never blocks.
func (r *WaiterRegistry) Notify(requestID string, resolution primary.Resolution) {
	r.mu.Lock()
	chans := r.waiters[requestID]
	delete(r.waiters, requestID)
	r.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- resolution:
		default:
		}
	}
}

// Waiting reports how many waiters are parked for the request.
func (r *WaiterRegistry) Waiting(requestID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[requestID])
}
