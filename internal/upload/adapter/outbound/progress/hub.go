// Package progress delivers orchestrator progress labels to observers.
package progress

import (
	"context"
	"sync"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
)

const defaultQueueSize = 64

// Subscription is one observer's bounded message queue.
type Subscription struct {
	ch chan string
}

// C yields progress labels in publish order. It is closed on Unsubscribe or Hub.Close.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Hub broadcasts every progress label to all current subscribers.
// A subscriber whose queue is full misses the label; Notify never blocks.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
}

// Ensure Hub implements port.ProgressNotifier.
var _ port.ProgressNotifier = (*Hub)(nil)

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a new observer. On a closed hub the returned
// subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan string, h.queueSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

func (h *Hub) Notify(_ context.Context, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- message:
		default:
			logger.Debugw("Dropping progress message for slow subscriber", "message", message)
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later Notify calls are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
