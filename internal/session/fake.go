package session

import (
	"context"
	"sync"
)

// Fake is an in-memory Launcher for tests. Results are dequeued in
// Enqueue order; each may carry scripted log entries played back
// through OnLogEntry before the result returns. Requests and drained
// injections are recorded for assertion.
type Fake struct {
	mu       sync.Mutex
	queue    []fakeScript
	requests []Request
	options  []Options
	injected []string

	// Block, when non-nil, is closed by the test to release Launch.
	// Used by gating tests that need a session to stay "running".
	Block chan struct{}
}

type fakeScript struct {
	result  Result
	err     error
	entries []ProcessLogEntry
}

// NewFake builds an empty fake.
func NewFake() *Fake {
	return &Fake{}
}

// Enqueue scripts the next launch to return res.
func (f *Fake) Enqueue(res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeScript{result: res})
}

// EnqueueError scripts the next launch to fail with err.
func (f *Fake) EnqueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeScript{result: Result{Err: err}, err: err})
}

// EnqueueWithEntries scripts a result with log entries played first.
func (f *Fake) EnqueueWithEntries(res Result, entries ...ProcessLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeScript{result: res, entries: entries})
}

// Launch pops the next script. An empty queue returns a generic success
// so incidental launches (summaries, reconsideration) don't need
// per-test scripting.
func (f *Fake) Launch(ctx context.Context, req Request, opts Options) (Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.options = append(f.options, opts)
	var script fakeScript
	if len(f.queue) > 0 {
		script = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		script = fakeScript{result: Result{RawOutput: "", Success: true}}
	}
	block := f.Block
	f.mu.Unlock()

	if opts.Injector != nil {
		drained := opts.Injector.Drain()
		f.mu.Lock()
		f.injected = append(f.injected, drained...)
		f.mu.Unlock()
	}

	for _, entry := range script.entries {
		if opts.OnLogEntry != nil {
			opts.OnLogEntry(entry)
		}
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{Err: ctx.Err()}, ctx.Err()
		}
	}

	if opts.Injector != nil {
		drained := opts.Injector.Drain()
		f.mu.Lock()
		f.injected = append(f.injected, drained...)
		f.mu.Unlock()
	}

	return script.result, script.err
}

// Requests returns every recorded request in launch order.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// LastRequest returns the most recent request, or a zero Request.
func (f *Fake) LastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return Request{}
	}
	return f.requests[len(f.requests)-1]
}

// LastOptions returns the options of the most recent launch.
func (f *Fake) LastOptions() Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.options) == 0 {
		return Options{}
	}
	return f.options[len(f.options)-1]
}

// Injected returns every message drained from injectors, in order.
func (f *Fake) Injected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.injected))
	copy(out, f.injected)
	return out
}

// LaunchCount reports how many launches were observed.
func (f *Fake) LaunchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
