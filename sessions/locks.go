package sessions

import "sync"

// memberLocks serializes membership transitions per session so that
// capacity checks and status transitions see each other's writes.
// Each session gets its own mutex, allowing parallel mutations on
// different sessions.
type memberLocks struct {
	locks sync.Map // map[string]*sync.Mutex
}

func (ml *memberLocks) acquire(sessionID string) *sync.Mutex {
	mu, _ := ml.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// release drops the lock entry after a session is deleted so the map
// does not grow without bound.
func (ml *memberLocks) release(sessionID string) {
	ml.locks.Delete(sessionID)
}
