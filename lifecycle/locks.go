package lifecycle

import "sync"

// slideLocks One mutex per slide identifier, dropped once nobody holds or waits for it
type slideLocks struct {
	mu    sync.Mutex
	locks map[string]*slideLock
}

type slideLock struct {
	mu   sync.Mutex
	refs int
}

func newSlideLocks() *slideLocks {
	return &slideLocks{locks: make(map[string]*slideLock)}
}

// lock Block until identifier is free. The returned function releases it.
func (l *slideLocks) lock(identifier string) func() {
	l.mu.Lock()
	entry, ok := l.locks[identifier]
	if !ok {
		entry = &slideLock{}
		l.locks[identifier] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, identifier)
		}
		l.mu.Unlock()
	}
}
