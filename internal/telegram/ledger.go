package telegram

import (
	"sync"
	"time"

	internalSync "github.com/shzored/mediabot/pkg/sync"
)

// deliveryLedger tracks media sends across the acknowledgement gap: a
// send whose HTTP round trip times out may still have gone through on
// the API side. Every send is registered in flight before it starts
// and settled when its outcome is known, so a caller that observed a
// timeout can wait for the real outcome instead of guessing.
type deliveryLedger struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}

	confirmed internalSync.TypedSyncMap[string, time.Time]
	window    time.Duration
}

func newDeliveryLedger(window time.Duration) *deliveryLedger {
	return &deliveryLedger{
		inflight: make(map[string]chan struct{}),
		window:   window,
	}
}

// begin registers a send attempt. The returned channel is closed when
// the attempt settles.
func (ledger *deliveryLedger) begin(key string) chan struct{} {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	done := make(chan struct{})
	ledger.inflight[key] = done
	return done
}

// settle records the outcome of a send attempt and releases anyone
// waiting on it.
func (ledger *deliveryLedger) settle(key string, delivered bool) {
	if delivered {
		ledger.confirm(key)
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if done, ok := ledger.inflight[key]; ok {
		close(done)
		delete(ledger.inflight, key)
	}
}

// confirm records a delivery that completed without an attempt record,
// such as a media group entry.
func (ledger *deliveryLedger) confirm(key string) {
	ledger.confirmed.Store(key, time.Now())

	// Drop records past the window so the map stays bounded.
	ledger.confirmed.Range(func(other string, at time.Time) bool {
		if time.Since(at) > ledger.window {
			ledger.confirmed.Delete(other)
		}
		return true
	})
}

// wasDelivered reports whether the keyed send was confirmed within the
// record window, waiting up to maxWait for an in-flight attempt to
// settle first.
func (ledger *deliveryLedger) wasDelivered(key string, maxWait time.Duration) bool {
	ledger.mu.Lock()
	done, pending := ledger.inflight[key]
	ledger.mu.Unlock()

	if pending {
		select {
		case <-done:
		case <-time.After(maxWait):
		}
	}

	at, ok := ledger.confirmed.Load(key)
	return ok && time.Since(at) <= ledger.window
}
