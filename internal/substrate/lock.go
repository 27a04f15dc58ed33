package substrate

import "sync"

// FileLock serializes writes per identifier. Acquisitions on one
// identifier run in arrival order; distinct identifiers never contend.
// Acquire cannot fail; the returned release must be called exactly once,
// which every writer guarantees with defer.
type FileLock struct {
	mu    sync.Mutex
	locks map[FileID]*sync.Mutex
}

// NewFileLock builds an empty lock registry.
func NewFileLock() *FileLock {
	return &FileLock{locks: make(map[FileID]*sync.Mutex)}
}

// Acquire blocks until the identifier's lock is held and returns the
// release handle.
func (l *FileLock) Acquire(id FileID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	var once sync.Once
	return func() {
		once.Do(m.Unlock)
	}
}
