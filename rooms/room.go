package rooms

import (
	"sync"
	"time"

	"github.com/mir-akbar/codecollab/crdt"
	"github.com/mir-akbar/codecollab/log"
)

// sendQueueSize bounds each subscriber's outbound frame queue
const sendQueueSize = 256

// Close codes used when the room forces a disconnect
const (
	CloseGoingAway     = 1001
	CloseBackpressure  = 4008
	CloseForbidden     = 4403
	CloseRoomDestroyed = 4409
)

// Subscriber is one transport connection attached to a room. The
// transport reads outbound frames from Frames and watches Kicked for
// forced disconnects.
type Subscriber struct {
	ClientID    uint32
	UserID      string
	DisplayName string
	Role        string

	send     chan []byte
	kicked   chan struct{}
	kickOnce sync.Once
	synced   bool

	KickCode   int
	KickReason string

	// awareness frames dropped under backpressure, newest per origin
	pendingAwareness map[uint32][]byte
}

// Frames is the subscriber's outbound queue. Closed on detach.
func (s *Subscriber) Frames() <-chan []byte { return s.send }

// Kicked is closed when the room force-disconnects the subscriber
func (s *Subscriber) Kicked() <-chan struct{} { return s.kicked }

// Kick schedules a forced disconnect with the given close code
func (s *Subscriber) Kick(code int, reason string) {
	s.kickOnce.Do(func() {
		s.KickCode = code
		s.KickReason = reason
		close(s.kicked)
	})
}

// Room is the in-memory authority for one collaboratively edited
// file. A single mutex serializes document application, awareness
// changes and subscriber membership.
type Room struct {
	SessionID string
	FilePath  string

	mu        sync.Mutex
	doc       *crdt.Doc
	awareness *Awareness
	subs      map[*Subscriber]bool

	lastActivity time.Time
	destroyed    bool

	persister *persister
}

func newRoom(sessionID, filePath string, content []byte) (*Room, error) {
	r := &Room{
		SessionID:    sessionID,
		FilePath:     filePath,
		doc:          crdt.NewDoc(),
		awareness:    newAwareness(),
		subs:         make(map[*Subscriber]bool),
		lastActivity: time.Now(),
	}
	if len(content) > 0 {
		if _, err := r.doc.Seed(string(content)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Attach registers a new subscriber, allocating its client id.
// Returns nil when the room is already destroyed.
func (r *Room) Attach(userID, displayName, role string) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	sub := &Subscriber{
		ClientID:         r.awareness.alloc(),
		UserID:           userID,
		DisplayName:      displayName,
		Role:             role,
		send:             make(chan []byte, sendQueueSize),
		kicked:           make(chan struct{}),
		pendingAwareness: make(map[uint32][]byte),
	}
	r.subs[sub] = true
	r.lastActivity = time.Now()
	return sub
}

// Detach removes a subscriber, clears its awareness entry and
// broadcasts the departure. Safe to call more than once.
func (r *Room) Detach(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.subs[sub] {
		return
	}
	delete(r.subs, sub)
	close(sub.send)
	r.lastActivity = time.Now()

	if r.awareness.Remove(sub.ClientID) {
		frame := EncodeFrame(TagAwarenessUpdate, removalUpdate(sub.ClientID))
		for other := range r.subs {
			r.enqueue(other, frame, true, sub.ClientID)
		}
	}
}

// SubscriberCount reports the number of attached subscribers
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// LastActivity reports when the room last saw a mutation or
// membership change.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// SyncStep1 answers a peer's state vector with the diff that brings
// it current.
func (r *Room) SyncStep1(theirSV []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeDiff(theirSV)
}

// StateVector returns the document's current causal summary
func (r *Room) StateVector() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.StateVector()
}

// AwarenessSnapshot encodes all current awareness entries
func (r *Room) AwarenessSnapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awareness.Snapshot()
}

// Text serializes the current document content
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Text()
}

// HandshakeReply answers a subscriber's SyncStep1 with SyncStep2 and,
// on the first exchange, the awareness snapshot. Replies go through
// the subscriber's queue so ordering against broadcasts holds.
func (r *Room) HandshakeReply(sub *Subscriber, theirSV []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.subs[sub] {
		return nil
	}
	diff, err := r.doc.EncodeDiff(theirSV)
	if err != nil {
		return err
	}
	r.enqueue(sub, EncodeFrame(TagSyncStep2, diff), false, 0)
	if !sub.synced {
		sub.synced = true
		r.enqueue(sub, EncodeFrame(TagAwarenessSnapshot, r.awareness.Snapshot()), false, 0)
	}
	return nil
}

// SubscriberRole reads the subscriber's current role under the lane,
// since role changes land concurrently with the read loop.
func (r *Room) SubscriberRole(sub *Subscriber) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sub.Role
}

// SendTo queues one frame to a single subscriber
func (r *Room) SendTo(sub *Subscriber, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.subs[sub] {
		return
	}
	r.enqueue(sub, frame, false, 0)
}

// ApplyDocUpdate applies a subscriber's document update, fans it out
// to the other subscribers and marks the room dirty for persistence.
// A malformed update returns an error and leaves the document alone.
func (r *Room) ApplyDocUpdate(sub *Subscriber, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.Apply(payload); err != nil {
		return err
	}
	r.lastActivity = time.Now()

	frame := EncodeFrame(TagDocUpdate, payload)
	for other := range r.subs {
		if other == sub {
			continue
		}
		r.enqueue(other, frame, false, 0)
	}

	if r.persister != nil {
		r.persister.touch(sub.UserID)
	}
	return nil
}

// ApplyAwarenessUpdate merges a subscriber's awareness update and
// broadcasts the affected entries to the other subscribers.
func (r *Room) ApplyAwarenessUpdate(sub *Subscriber, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.awareness.applyUpdate(payload)
	if err != nil {
		return err
	}
	r.lastActivity = time.Now()

	frame := EncodeFrame(TagAwarenessUpdate, encodeAwareness(entries))
	for other := range r.subs {
		if other == sub {
			continue
		}
		r.enqueue(other, frame, true, sub.ClientID)
	}
	return nil
}

// enqueue delivers a frame to one subscriber under backpressure
// rules: a full queue drops awareness frames first, coalescing to the
// newest per origin; a document frame that cannot be queued kicks the
// subscriber. Caller holds the lane.
func (r *Room) enqueue(sub *Subscriber, frame []byte, isAwareness bool, origin uint32) {
	// drain previously dropped awareness while there is room
	for key, pending := range sub.pendingAwareness {
		select {
		case sub.send <- pending:
			delete(sub.pendingAwareness, key)
		default:
		}
	}

	select {
	case sub.send <- frame:
		return
	default:
	}

	if isAwareness {
		sub.pendingAwareness[origin] = frame
		return
	}
	log.Warn().
		Str("session_id", r.SessionID).
		Str("path", r.FilePath).
		Str("user", sub.UserID).
		Msg("subscriber queue full, disconnecting")
	sub.Kick(CloseBackpressure, "send queue overflow")
}

// closeAll kicks every subscriber with the given code. Used by the
// registry on purge and shutdown.
func (r *Room) closeAll(code int, reason string) {
	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.destroyed = true
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Kick(code, reason)
	}
}

// KickUser force-disconnects every subscriber of the given user,
// used when a role is revoked mid-session.
func (r *Room) KickUser(userID string, code int, reason string) {
	r.mu.Lock()
	var matched []*Subscriber
	for sub := range r.subs {
		if sub.UserID == userID {
			matched = append(matched, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range matched {
		sub.Kick(code, reason)
	}
}
