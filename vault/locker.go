package vault

import "sync"

// idLocker hands out a mutex per transaction id and forgets it once nobody
// holds or waits on it.
type idLocker struct {
	lock  sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func newIDLocker() *idLocker {
	return &idLocker{locks: make(map[string]*idLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *idLocker) Lock(id string) func() {
	l.lock.Lock()
	il, ok := l.locks[id]
	if !ok {
		il = &idLock{}
		l.locks[id] = il
	}
	il.refs++
	l.lock.Unlock()

	il.Lock()
	return func() {
		il.Unlock()
		l.lock.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.locks, id)
		}
		l.lock.Unlock()
	}
}
