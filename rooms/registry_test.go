package rooms

import (
	"testing"
	"time"

	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/sessions"
)

func newTestRegistry(t *testing.T) (*Registry, *filestore.Store) {
	t.Helper()
	store := newBackedStore(t)
	if _, err := store.PutFile("s1", "main.py", []byte("v1"), "", "u1"); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	g := &Registry{
		store:    store,
		idleTTL:  60 * time.Millisecond,
		debounce: 20 * time.Millisecond,
		maxWait:  80 * time.Millisecond,
		rooms:    make(map[roomKey]*Room),
		stop:     make(chan struct{}),
	}
	return g, store
}

func TestRegistry_AcquireCreatesAndReuses(t *testing.T) {
	g, _ := newTestRegistry(t)

	first, err := g.Acquire("s1", "main.py")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Text() != "v1" {
		t.Errorf("room should be seeded from the stored file, got %q", first.Text())
	}

	// path normalization maps to the same room
	second, err := g.Acquire("s1", "/main.py")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if first != second {
		t.Error("acquire should reuse the live room")
	}
	if g.RoomCount() != 1 {
		t.Errorf("expected 1 room, got %d", g.RoomCount())
	}

	_, err = g.Acquire("s1", "missing.py")
	if sessions.KindOf(err) != sessions.KindNotFound {
		t.Errorf("expected NotFound for a missing file, got %v", err)
	}
}

func TestRegistry_SweepIdleFlushesThenDestroys(t *testing.T) {
	g, store := newTestRegistry(t)
	if _, err := store.PutFile("s1", "busy.py", []byte("busy"), "", "u1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	room, err := g.Acquire("s1", "main.py")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sub := room.Attach("ua", "A", db.RoleEditor)
	client := mirror(t, "v1")
	edit(t, room, sub, client, " final")
	g.Release(room, sub)

	// a room that still has a subscriber is never swept
	busy, err := g.Acquire("s1", "busy.py")
	if err != nil {
		t.Fatalf("acquire busy: %v", err)
	}
	busy.Attach("ub", "B", db.RoleViewer)

	time.Sleep(120 * time.Millisecond)
	g.SweepIdle()

	if g.RoomCount() != 1 {
		t.Fatalf("expected only the busy room to survive, got %d", g.RoomCount())
	}

	rec, err := store.GetFile("s1", "main.py")
	if err != nil || rec == nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Content) != "v1 final" {
		t.Errorf("sweep must flush before destroying, got %q", rec.Content)
	}

	// the next acquire builds a fresh room from the flushed content
	reborn, err := g.Acquire("s1", "main.py")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if reborn == room {
		t.Error("swept rooms must not be reused")
	}
	if reborn.Text() != "v1 final" {
		t.Errorf("reborn room text = %q", reborn.Text())
	}
}

func TestRegistry_PurgeDiscardsDirtyState(t *testing.T) {
	g, store := newTestRegistry(t)

	room, err := g.Acquire("s1", "main.py")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sub := room.Attach("ua", "A", db.RoleEditor)
	client := mirror(t, "v1")
	edit(t, room, sub, client, " unsaved")

	// the file is deleted, then its room purged
	if _, err := store.DeleteFile("s1", "main.py"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	g.Purge("s1", "main.py")

	if !kicked(sub) || sub.KickCode != CloseRoomDestroyed {
		t.Errorf("expected kick with %d, got %d", CloseRoomDestroyed, sub.KickCode)
	}
	if g.RoomCount() != 0 {
		t.Errorf("expected 0 rooms, got %d", g.RoomCount())
	}

	// a late debounce flush must not resurrect the deleted file
	time.Sleep(150 * time.Millisecond)
	rec, err := store.GetFile("s1", "main.py")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Error("purged room's dirty state leaked back into the store")
	}
}

func TestRegistry_PurgeSessionClosesEveryRoom(t *testing.T) {
	g, store := newTestRegistry(t)
	if _, err := store.PutFile("s1", "other.py", []byte("o"), "", "u1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, _ := g.Acquire("s1", "main.py")
	second, _ := g.Acquire("s1", "other.py")
	a := first.Attach("ua", "A", db.RoleViewer)
	b := second.Attach("ub", "B", db.RoleViewer)

	g.PurgeSession("s1")

	if !kicked(a) || !kicked(b) {
		t.Error("every subscriber of the session should be kicked")
	}
	if g.RoomCount() != 0 {
		t.Errorf("expected 0 rooms, got %d", g.RoomCount())
	}
}

func TestRegistry_KickAndRetagSessionUser(t *testing.T) {
	g, _ := newTestRegistry(t)

	room, _ := g.Acquire("s1", "main.py")
	target := room.Attach("ua", "A", db.RoleEditor)
	bystander := room.Attach("ub", "B", db.RoleEditor)

	g.UpdateSessionUserRole("s1", "ua", db.RoleViewer)
	if role := room.SubscriberRole(target); role != db.RoleViewer {
		t.Errorf("live subscription role should be updated, got %s", role)
	}

	g.KickSessionUser("s1", "ua", CloseForbidden, "access revoked")
	if !kicked(target) || target.KickCode != CloseForbidden {
		t.Error("target user should be kicked")
	}
	if kicked(bystander) {
		t.Error("other users must not be kicked")
	}
}

func TestRegistry_ShutdownFlushesAndDisconnects(t *testing.T) {
	g, store := newTestRegistry(t)

	room, err := g.Acquire("s1", "main.py")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sub := room.Attach("ua", "A", db.RoleEditor)
	client := mirror(t, "v1")
	edit(t, room, sub, client, " at exit")

	g.Shutdown()

	if !kicked(sub) || sub.KickCode != CloseGoingAway {
		t.Errorf("expected going-away close, got %d", sub.KickCode)
	}
	if g.RoomCount() != 0 {
		t.Errorf("expected 0 rooms, got %d", g.RoomCount())
	}
	rec, err := store.GetFile("s1", "main.py")
	if err != nil || rec == nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Content) != "v1 at exit" {
		t.Errorf("shutdown must flush dirty rooms, got %q", rec.Content)
	}
}
