package rooms

import (
	"sync"
	"time"

	"github.com/mir-akbar/codecollab/config"
	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/sessions"
)

// sweepPeriod is how often idle rooms are collected
const sweepPeriod = 30 * time.Minute

type roomKey struct {
	SessionID string
	FilePath  string
}

// Registry owns the set of live rooms. Rooms are created lazily on
// first acquire, seeded from the file store, and retired after the
// idle TTL with no subscribers.
type Registry struct {
	store    *filestore.Store
	idleTTL  time.Duration
	debounce time.Duration
	maxWait  time.Duration

	mu    sync.Mutex
	rooms map[roomKey]*Room

	stop     chan struct{}
	stopOnce sync.Once
	sweeping sync.WaitGroup
}

// NewRegistry creates the registry on top of the file store
func NewRegistry(store *filestore.Store) *Registry {
	cfg := config.Get()
	return &Registry{
		store:    store,
		idleTTL:  cfg.RoomIdleTTL,
		debounce: cfg.PersistDebounce,
		maxWait:  cfg.PersistMaxWait,
		rooms:    make(map[roomKey]*Room),
		stop:     make(chan struct{}),
	}
}

// Acquire returns the live room for (sessionId, filePath), creating
// it from the stored file content on miss. Returns a NotFound error
// when the file does not exist.
func (g *Registry) Acquire(sessionID, filePath string) (*Room, error) {
	norm, err := filestore.NormalizePath(filePath)
	if err != nil {
		return nil, err
	}
	key := roomKey{SessionID: sessionID, FilePath: norm}

	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[key]; ok {
		return room, nil
	}

	rec, err := g.store.GetFile(sessionID, norm)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, sessions.E(sessions.KindNotFound, "file not found")
	}

	room, err := newRoom(sessionID, norm, rec.Content)
	if err != nil {
		return nil, err
	}
	room.persister = newPersister(room, g.store, g.debounce, g.maxWait, rec.ContentHash)
	g.rooms[key] = room
	log.Debug().Str("session_id", sessionID).Str("path", norm).Msg("room created")
	return room, nil
}

// Release detaches a subscriber. The room lingers for reuse until the
// idle TTL elapses.
func (g *Registry) Release(room *Room, sub *Subscriber) {
	room.Detach(sub)
}

// StartSweeper runs the idle collector until Stop
func (g *Registry) StartSweeper() {
	g.sweeping.Add(1)
	go func() {
		defer g.sweeping.Done()
		ticker := time.NewTicker(sweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.SweepIdle()
			case <-g.stop:
				return
			}
		}
	}()
}

// SweepIdle destroys rooms that have had no activity and no
// subscribers for the idle TTL, flushing dirty state first.
func (g *Registry) SweepIdle() {
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	candidates := make(map[roomKey]*Room)
	for key, room := range g.rooms {
		if room.SubscriberCount() == 0 && room.LastActivity().Before(cutoff) {
			candidates[key] = room
		}
	}
	g.mu.Unlock()

	for key, room := range candidates {
		room.persister.flushSync()

		room.mu.Lock()
		idle := len(room.subs) == 0
		if idle {
			room.destroyed = true
		}
		room.mu.Unlock()
		if !idle {
			continue
		}

		g.mu.Lock()
		delete(g.rooms, key)
		g.mu.Unlock()
		log.Debug().Str("session_id", key.SessionID).Str("path", key.FilePath).Msg("idle room destroyed")
	}
}

// Purge synchronously destroys a room after an admin action (file or
// session delete). Dirty state is discarded; writing it back would
// resurrect the deleted file.
func (g *Registry) Purge(sessionID, filePath string) {
	norm, err := filestore.NormalizePath(filePath)
	if err != nil {
		return
	}
	key := roomKey{SessionID: sessionID, FilePath: norm}

	g.mu.Lock()
	room, ok := g.rooms[key]
	if ok {
		delete(g.rooms, key)
	}
	g.mu.Unlock()
	if ok {
		room.persister.discard()
		room.closeAll(CloseRoomDestroyed, "room destroyed")
	}
}

// PurgeSession destroys every room of a deleted session
func (g *Registry) PurgeSession(sessionID string) {
	g.mu.Lock()
	var purged []*Room
	for key, room := range g.rooms {
		if key.SessionID == sessionID {
			purged = append(purged, room)
			delete(g.rooms, key)
		}
	}
	g.mu.Unlock()

	for _, room := range purged {
		room.persister.discard()
		room.closeAll(CloseRoomDestroyed, "session deleted")
	}
}

// KickSessionUser force-disconnects one user from every room of a
// session, used when their access is revoked.
func (g *Registry) KickSessionUser(sessionID, userID string, code int, reason string) {
	for _, room := range g.sessionRooms(sessionID) {
		room.KickUser(userID, code, reason)
	}
}

// UpdateSessionUserRole updates the cached role on a user's live
// subscriptions after a role change that keeps them admitted.
func (g *Registry) UpdateSessionUserRole(sessionID, userID, role string) {
	for _, room := range g.sessionRooms(sessionID) {
		room.mu.Lock()
		for sub := range room.subs {
			if sub.UserID == userID {
				sub.Role = role
			}
		}
		room.mu.Unlock()
	}
}

func (g *Registry) sessionRooms(sessionID string) []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Room
	for key, room := range g.rooms {
		if key.SessionID == sessionID {
			out = append(out, room)
		}
	}
	return out
}

// RoomCount reports the number of live rooms
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Shutdown stops the sweeper, disconnects every subscriber and
// flushes all dirty rooms.
func (g *Registry) Shutdown() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.sweeping.Wait()

	g.mu.Lock()
	remaining := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		remaining = append(remaining, room)
	}
	g.rooms = make(map[roomKey]*Room)
	g.mu.Unlock()

	for _, room := range remaining {
		room.closeAll(CloseGoingAway, "server shutting down")
		room.persister.flushSync()
	}
}
