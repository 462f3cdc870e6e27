package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// registration binds one observer to the session until released.
type registration struct {
	obs      Observer
	released atomic.Bool
}

type notification struct {
	reg     *registration
	deliver func(Observer)
	flushed chan struct{}
}

// notifier delivers notifications in enqueue order from one goroutine.
// The queue is unbounded so producers holding the session lock never block.
type notifier struct {
	mu      sync.Mutex
	queue   []notification
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(reg *registration, deliver func(Observer)) {
	if reg == nil {
		return
	}
	n.enqueue(notification{reg: reg, deliver: deliver})
}

func (n *notifier) enqueue(item notification) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		if item.flushed != nil {
			close(item.flushed)
		}
		return
	}
	n.queue = append(n.queue, item)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// flush waits until everything queued before the call was delivered.
func (n *notifier) flush(ctx context.Context) error {
	done := make(chan struct{})
	n.enqueue(notification{flushed: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close delivers what is queued and stops the dispatcher.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.stopped
		return
	}
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.stopped
}

func (n *notifier) run() {
	defer close(n.stopped)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, item := range batch {
			if item.flushed != nil {
				close(item.flushed)
				continue
			}
			if item.reg.released.Load() || item.reg.obs == nil {
				continue
			}
			item.deliver(item.reg.obs)
		}

		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		<-n.wake
	}
}
