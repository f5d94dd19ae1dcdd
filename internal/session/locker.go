package session

import "sync"

// Locker hands out one mutex per participant so updates for the same participant are
// handled one at a time while different participants proceed in parallel.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*keyLock)}
}

// Lock blocks until the caller owns the participant's lock and returns its release func.
func (l *Locker) Lock(participantID int64) func() {
	l.mu.Lock()
	kl, ok := l.locks[participantID]
	if !ok {
		kl = &keyLock{}
		l.locks[participantID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, participantID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
