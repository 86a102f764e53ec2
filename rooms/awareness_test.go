package rooms

import (
	"bytes"
	"testing"
)

func TestAwareness_EncodeDecodeRoundTrip(t *testing.T) {
	entries := map[uint32][]byte{
		1: []byte(`{"cursor":{"line":3,"col":7}}`),
		2: []byte(`{"selection":null}`),
	}
	decoded, err := decodeAwareness(encodeAwareness(entries))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded))
	}
	for id, state := range entries {
		if !bytes.Equal(decoded[id], state) {
			t.Errorf("entry %d mismatch", id)
		}
	}
}

func TestAwareness_ApplyUpdateMergesAndRemoves(t *testing.T) {
	a := newAwareness()
	a.Set(1, []byte("old"))
	a.Set(2, []byte("keep"))

	// client 1 updates its state, client 3 appears
	affected, err := a.applyUpdate(encodeAwareness(map[uint32][]byte{
		1: []byte("new"),
		3: []byte("joined"),
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(affected) != 2 {
		t.Errorf("expected 2 affected entries, got %d", len(affected))
	}
	if string(a.All()[1]) != "new" || string(a.All()[3]) != "joined" {
		t.Errorf("merge failed: %v", a.All())
	}

	// zero-length state removes the client
	if _, err := a.applyUpdate(removalUpdate(1)); err != nil {
		t.Fatalf("apply removal: %v", err)
	}
	if _, ok := a.All()[1]; ok {
		t.Error("client 1 should be gone")
	}
	if string(a.All()[2]) != "keep" {
		t.Error("unrelated entries must survive")
	}
}

func TestAwareness_RemoveReportsPresence(t *testing.T) {
	a := newAwareness()
	a.Set(1, []byte("x"))
	if !a.Remove(1) {
		t.Error("removing a present client should report true")
	}
	if a.Remove(1) {
		t.Error("removing an absent client should report false")
	}
}

func TestAwareness_AllocIsUnique(t *testing.T) {
	a := newAwareness()
	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		id := a.alloc()
		if id == 0 || seen[id] {
			t.Fatalf("duplicate or zero client id %d", id)
		}
		seen[id] = true
	}
}

func TestDecodeAwareness_Malformed(t *testing.T) {
	valid := encodeAwareness(map[uint32][]byte{1: []byte("x")})

	if _, err := decodeAwareness(append(valid, 0x00)); err == nil {
		t.Error("trailing bytes should be rejected")
	}
	if _, err := decodeAwareness(valid[:len(valid)-1]); err == nil {
		t.Error("truncated payload should be rejected")
	}
	if _, err := decodeAwareness(nil); err == nil {
		t.Error("empty payload should be rejected")
	}
}

func TestAwareness_SnapshotRoundTrip(t *testing.T) {
	a := newAwareness()
	a.Set(5, []byte("here"))
	a.Set(9, []byte("there"))

	b := newAwareness()
	if _, err := b.applyUpdate(a.Snapshot()); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}
	if len(b.All()) != 2 || string(b.All()[5]) != "here" || string(b.All()[9]) != "there" {
		t.Errorf("snapshot mismatch: %v", b.All())
	}
}
