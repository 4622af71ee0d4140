package orchestrator

import (
	"context"
	"sync"

	"taxdesk/internal/eri"
	dErrors "taxdesk/pkg/domain-errors"
)

// AckWaiters fans acknowledgment results out to in-process waiters keyed by
// gateway correlation id. Delivery never blocks: each waiter channel is
// buffered and registered at most once per correlation id.
type AckWaiters struct {
	mu      sync.Mutex
	waiters map[string]chan eri.AckStatus
}

func NewAckWaiters() *AckWaiters {
	return &AckWaiters{waiters: make(map[string]chan eri.AckStatus)}
}

// Register returns a channel that receives the acknowledgment result for the
// correlation id. The caller must Cancel when it stops waiting.
func (w *AckWaiters) Register(correlationID string) <-chan eri.AckStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiters[correlationID]
	if !ok {
		ch = make(chan eri.AckStatus, 1)
		w.waiters[correlationID] = ch
	}
	return ch
}

// Cancel drops the waiter for a correlation id.
func (w *AckWaiters) Cancel(correlationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, correlationID)
}

// Deliver hands the result to the registered waiter, if any.
func (w *AckWaiters) Deliver(correlationID string, status eri.AckStatus) {
	if correlationID == "" {
		return
	}
	w.mu.Lock()
	ch, ok := w.waiters[correlationID]
	if ok {
		delete(w.waiters, correlationID)
	}
	w.mu.Unlock()
	if ok {
		select {
		case ch <- status:
		default:
		}
	}
}

// Wait blocks until the acknowledgment result for the correlation id arrives
// or the context expires.
func (w *AckWaiters) Wait(ctx context.Context, correlationID string) (*eri.AckStatus, error) {
	ch := w.Register(correlationID)
	defer w.Cancel(correlationID)
	select {
	case status := <-ch:
		return &status, nil
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "waiting for acknowledgment")
	}
}
