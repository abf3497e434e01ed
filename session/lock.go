package session

import "sync"

// Locker hands out one mutex per session id so that conversation, pipeline
// and refinement operations on the same session never interleave. Entries
// are dropped once no holder or waiter remains.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyedMutex)}
}

// Lock blocks until the session's mutex is held and returns its release func.
func (l *Locker) Lock(id string) (unlock func()) {
	l.mu.Lock()
	km, ok := l.locks[id]
	if !ok {
		km = &keyedMutex{}
		l.locks[id] = km
	}
	km.refs++
	l.mu.Unlock()

	km.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			km.mu.Unlock()
			l.mu.Lock()
			km.refs--
			if km.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// held reports how many ids currently have a holder or waiter.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
