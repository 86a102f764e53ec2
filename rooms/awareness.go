package rooms

import (
	"encoding/binary"
	"fmt"
)

// Awareness holds the ephemeral per-client presence state of a room.
// States are opaque JSON blobs produced by clients; the server relays
// and snapshots them but never interprets fields beyond the framing.
// Not safe for concurrent use; the room lane guards it.
type Awareness struct {
	states map[uint32][]byte
	nextID uint32
}

func newAwareness() *Awareness {
	return &Awareness{states: make(map[uint32][]byte), nextID: 1}
}

// alloc hands out a room-unique client id
func (a *Awareness) alloc() uint32 {
	id := a.nextID
	a.nextID++
	return id
}

// Set stores a client's state
func (a *Awareness) Set(clientID uint32, state []byte) {
	a.states[clientID] = state
}

// Remove drops a client's state, reporting whether it was present
func (a *Awareness) Remove(clientID uint32) bool {
	_, ok := a.states[clientID]
	delete(a.states, clientID)
	return ok
}

// All returns the current state map
func (a *Awareness) All() map[uint32][]byte {
	return a.states
}

// Snapshot encodes every current entry for initial sync
func (a *Awareness) Snapshot() []byte {
	return encodeAwareness(a.states)
}

// removalUpdate encodes the departure of one client
func removalUpdate(clientID uint32) []byte {
	return encodeAwareness(map[uint32][]byte{clientID: nil})
}

// encodeAwareness writes entries as varuint count, then per entry a
// varuint clientId and a varuint state length plus bytes. Zero length
// means the client is gone.
func encodeAwareness(entries map[uint32][]byte) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(entries)))
	for id, state := range entries {
		buf = binary.AppendUvarint(buf, uint64(id))
		buf = binary.AppendUvarint(buf, uint64(len(state)))
		buf = append(buf, state...)
	}
	return buf
}

// decodeAwareness parses an awareness payload into its entries
func decodeAwareness(payload []byte) (map[uint32][]byte, error) {
	entries := make(map[uint32][]byte)
	off := 0
	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, fmt.Errorf("rooms: malformed awareness payload")
	}
	off += n
	for i := uint64(0); i < count; i++ {
		id, n := binary.Uvarint(payload[off:])
		if n <= 0 {
			return nil, fmt.Errorf("rooms: malformed awareness payload")
		}
		off += n
		length, n := binary.Uvarint(payload[off:])
		if n <= 0 {
			return nil, fmt.Errorf("rooms: malformed awareness payload")
		}
		off += n
		if uint64(len(payload)-off) < length {
			return nil, fmt.Errorf("rooms: truncated awareness payload")
		}
		if length == 0 {
			entries[uint32(id)] = nil
		} else {
			entries[uint32(id)] = payload[off : off+int(length)]
		}
		off += int(length)
	}
	if off != len(payload) {
		return nil, fmt.Errorf("rooms: trailing bytes in awareness payload")
	}
	return entries, nil
}

// applyUpdate merges a client's incremental update, returning the
// affected entries re-encoded for broadcast.
func (a *Awareness) applyUpdate(payload []byte) (map[uint32][]byte, error) {
	entries, err := decodeAwareness(payload)
	if err != nil {
		return nil, err
	}
	for id, state := range entries {
		if state == nil {
			delete(a.states, id)
		} else {
			a.states[id] = state
		}
	}
	return entries, nil
}
