package versioned

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// RefLocks is a table of per-ref mutexes. An entry lives only while some
// goroutine holds or waits for it, so the table does not grow with every
// ref ever written.
type RefLocks struct {
	m *xsync.MapOf[NamedRef, *refLock]
}

type refLock struct {
	mu    sync.Mutex
	users int // guarded by the map bucket lock in Compute
}

func NewRefLocks() *RefLocks {
	return &RefLocks{m: xsync.NewMapOf[NamedRef, *refLock]()}
}

// Lock blocks until ref is free and returns the unlock func.
func (l *RefLocks) Lock(ref NamedRef) func() {
	e, _ := l.m.Compute(ref, func(old *refLock, loaded bool) (*refLock, bool) {
		if !loaded {
			old = &refLock{}
		}
		old.users++
		return old, false
	})
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.m.Compute(ref, func(old *refLock, loaded bool) (*refLock, bool) {
			old.users--
			return old, old.users == 0
		})
	}
}

// Len is the number of refs currently locked or waited on.
func (l *RefLocks) Len() int {
	return l.m.Size()
}
