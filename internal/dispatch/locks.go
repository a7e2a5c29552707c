package dispatch

import "sync"

// promptLocks serializes read-modify-write cycles on one prompt. Entries
// are dropped once no goroutine holds or waits on them.
type promptLocks struct {
	mu   sync.Mutex
	held map[string]*promptLock
}

type promptLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until promptID is free and returns the unlock func
func (l *promptLocks) lock(promptID string) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*promptLock)
	}
	pl, ok := l.held[promptID]
	if !ok {
		pl = &promptLock{}
		l.held[promptID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.held, promptID)
		}
		l.mu.Unlock()
	}
}
