package session

import "sync"

// Injector is a FIFO of user messages bound for an in-flight session.
// Pushes are accepted whether or not a session is running; a launcher
// that supports injection drains the queue in push order, and a session
// started later observes messages queued while nothing was active.
type Injector struct {
	mu     sync.Mutex
	queue  []string
	notify chan struct{}
}

// NewInjector builds an empty queue.
func NewInjector() *Injector {
	return &Injector{notify: make(chan struct{}, 1)}
}

// Push enqueues a message and signals any waiting drainer.
func (i *Injector) Push(message string) {
	i.mu.Lock()
	i.queue = append(i.queue, message)
	i.mu.Unlock()

	select {
	case i.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued messages in push order.
func (i *Injector) Drain() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.queue
	i.queue = nil
	return out
}

// Wait returns a channel that receives after a Push. The signal is
// coalesced; one receive may cover several pushes, so drain fully.
func (i *Injector) Wait() <-chan struct{} {
	return i.notify
}

// Len reports the queued message count.
func (i *Injector) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}
