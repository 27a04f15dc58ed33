package loop

import (
	"context"
	"sync"
	"time"
)

// Timer is the cooperative-scheduling substrate: Delay races a sleep
// against a wake signal, so anything holding a Timer can be nudged out
// of its pause early.
type Timer interface {
	// Delay blocks until d elapses, Wake is called, or ctx is done.
	// Returns false only when ctx ended the wait.
	Delay(ctx context.Context, d time.Duration) bool
	// Wake drains any in-flight Delay. Calling with no Delay pending
	// arms the next one to return immediately, which keeps nudges that
	// race the loop from being lost.
	Wake()
}

// WallTimer is the production Timer.
type WallTimer struct {
	mu   sync.Mutex
	wake chan struct{}
}

// NewWallTimer builds a timer.
func NewWallTimer() *WallTimer {
	return &WallTimer{wake: make(chan struct{}, 1)}
}

func (t *WallTimer) Delay(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.wakeCh():
		return true
	case <-timer.C:
		return true
	}
}

func (t *WallTimer) Wake() {
	select {
	case t.wakeCh() <- struct{}{}:
	default:
	}
}

func (t *WallTimer) wakeCh() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wake
}

// FakeTimer records delays and returns instantly; tests drive time with
// the fake clock instead of sleeping.
type FakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	woken  int

	// OnDelay, when set, runs before each recorded delay returns.
	// Tests use it to advance a fake clock or stop the loop.
	OnDelay func(d time.Duration)
}

// NewFakeTimer builds a fake timer.
func NewFakeTimer() *FakeTimer {
	return &FakeTimer{}
}

func (t *FakeTimer) Delay(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t.mu.Lock()
	t.delays = append(t.delays, d)
	fn := t.OnDelay
	t.mu.Unlock()
	if fn != nil {
		fn(d)
	}
	return ctx.Err() == nil
}

func (t *FakeTimer) Wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.woken++
}

// Delays returns every recorded delay in order.
func (t *FakeTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.delays))
	copy(out, t.delays)
	return out
}

// WakeCount reports how many times Wake was called.
func (t *FakeTimer) WakeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.woken
}
