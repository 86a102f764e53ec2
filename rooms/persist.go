package rooms

import (
	"sync"
	"time"

	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/log"
)

// retryBackoff is the schedule applied when a store write fails
var retryBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second, 10 * time.Second}

// persister debounces write-back of room text to the file store. Each
// room owns one persister, so a hot room cannot starve others. Store
// failures never block the realtime plane; the room stays dirty and a
// later window retries.
//
// Lock order: the room lane may call touch (which takes mu), so flush
// never holds mu while taking the lane.
type persister struct {
	room  *Room
	store *filestore.Store

	debounce time.Duration
	maxWait  time.Duration

	mu                sync.Mutex
	timer             *time.Timer
	firstPending      time.Time
	dirty             bool
	uploaderUserID    string
	lastPersistedHash string
}

func newPersister(room *Room, store *filestore.Store, debounce, maxWait time.Duration, initialHash string) *persister {
	return &persister{
		room:              room,
		store:             store,
		debounce:          debounce,
		maxWait:           maxWait,
		lastPersistedHash: initialHash,
	}
}

// touch records a new pending update. The flush fires after the
// debounce window of quiet, or maxWait after the first pending update,
// whichever comes first. Called from the room lane; never blocks.
func (p *persister) touch(uploaderUserID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uploaderUserID = uploaderUserID
	if !p.dirty {
		p.dirty = true
		p.firstPending = time.Now()
	}

	delay := p.debounce
	if remaining := p.maxWait - time.Since(p.firstPending); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(delay, p.flush)
	} else {
		p.timer.Reset(delay)
	}
}

// flush snapshots the room text and writes it back, skipping the
// store when the content hash is unchanged.
func (p *persister) flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	uploader := p.uploaderUserID
	// updates arriving after this point re-mark dirty and get their
	// own window
	p.dirty = false
	p.mu.Unlock()

	content := []byte(p.room.Text())
	hash := filestore.ContentHash(content)

	p.mu.Lock()
	unchanged := hash == p.lastPersistedHash
	p.mu.Unlock()
	if unchanged {
		return
	}

	var err error
	for attempt := 0; ; attempt++ {
		_, err = p.store.PutFile(p.room.SessionID, p.room.FilePath, content, "", uploader)
		if err == nil {
			break
		}
		if attempt >= len(retryBackoff) {
			break
		}
		log.Warn().Err(err).
			Str("session_id", p.room.SessionID).
			Str("path", p.room.FilePath).
			Int("attempt", attempt+1).
			Msg("room persist failed, backing off")
		time.Sleep(retryBackoff[attempt])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		log.Error().Err(err).
			Str("session_id", p.room.SessionID).
			Str("path", p.room.FilePath).
			Msg("room persist abandoned until next window")
		p.dirty = true
		if p.timer == nil {
			p.firstPending = time.Now()
			p.timer = time.AfterFunc(p.debounce, p.flush)
		}
		return
	}
	p.lastPersistedHash = hash
}

// flushSync cancels any pending timer and flushes immediately. Used
// before a room is destroyed.
func (p *persister) flushSync() {
	p.flush()
}

// discard drops pending state and cancels the timer without writing.
// Used when the backing file is deleted; a late flush would recreate it.
func (p *persister) discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.dirty = false
}

// isDirty reports whether unpersisted updates are pending
func (p *persister) isDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}
