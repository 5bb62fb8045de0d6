// Package notifier delivers operation progress events to whoever listens:
// websocket sessions, logs, tests.
package notifier

import (
	"context"
	"fmt"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Callback func(ctx context.Context, event models.ProgressEvent) error

type ListenerID uint64

type listener struct {
	id ListenerID
	cb Callback
}

type Notifier struct {
	log     *logger.Logger
	timeout time.Duration

	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    atomic.Uint64
}

// New returns a notifier that bounds every callback invocation by timeout.
// Callbacks should honour their ctx; one that does not is abandoned once the
// timeout passes.
func New(log *logger.Logger, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		log:       log,
		timeout:   timeout,
		listeners: make(map[string][]listener),
	}
}

func (n *Notifier) Register(operationID string, cb Callback) ListenerID {
	id := ListenerID(n.nextID.Add(1))
	n.mu.Lock()
	n.listeners[operationID] = append(n.listeners[operationID], listener{id: id, cb: cb})
	n.mu.Unlock()
	return id
}

// Remove drops a single listener.
func (n *Notifier) Remove(operationID string, id ListenerID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ls := n.listeners[operationID]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(n.listeners, operationID)
		return
	}
	n.listeners[operationID] = ls
}

// Unregister drops every listener of the operation.
func (n *Notifier) Unregister(operationID string) {
	n.mu.Lock()
	delete(n.listeners, operationID)
	n.mu.Unlock()
}

func (n *Notifier) Count(operationID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners[operationID])
}

// Notify calls the listeners of the operation in registration order.
// Callback errors and panics are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, operationID string, event models.ProgressEvent) {
	n.mu.RLock()
	ls := append([]listener(nil), n.listeners[operationID]...)
	n.mu.RUnlock()

	for _, l := range ls {
		if err := n.call(ctx, l, event); err != nil {
			n.logEntry().WithFields(logrus.Fields{
				"operation_id": operationID,
				"listener":     l.id,
				"status":       event.Status,
			}).WithError(err).Warn("Progress listener failed.")
		}
	}
}

// call runs the callback on its own goroutine so a listener that ignores
// ctx costs the caller at most the timeout. An abandoned callback keeps
// running and may overlap later deliveries to the same listener.
func (n *Notifier) call(ctx context.Context, l listener, event models.ProgressEvent) error {
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("listener panic: %v", r)
			}
		}()
		done <- l.cb(cctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("listener abandoned: %w", cctx.Err())
	}
}

func (n *Notifier) logEntry() *logrus.Entry {
	return n.log.WithComponent("notifier")
}
