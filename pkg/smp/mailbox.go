package smp

import "sync"

// mailbox is the unbounded event queue of one session. Producers never
// block; the session goroutine drains it in order.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push appends ev. It returns false once the mailbox is closed.
func (b *mailbox) push(ev event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns all queued events.
func (b *mailbox) drain() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

// close rejects further pushes and returns what was still queued.
func (b *mailbox) close() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	q := b.queue
	b.queue = nil
	return q
}
