// Package crdt implements the replicated text document shared by every
// subscriber of a room. It is an RGA-style tree CRDT: each character is a
// node anchored to the character it was typed after, siblings under the same
// anchor are ordered by operation ID, and deletions are tombstones. Replicas
// that apply the same set of updates converge to the same text regardless of
// delivery order.
//
// The Doc itself is not goroutine-safe; the room lane serializes access.
package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// SeedClient is the reserved client id used for the initial content insert.
// Every process seeding the same file text produces the identical update, so
// a client and the server that both seed independently stay convergent.
const SeedClient uint32 = 0xFFFFFFFF

// ID identifies a single character operation
type ID struct {
	Client uint32
	Clock  uint32
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Clock, id.Client)
}

// Change describes the visible effect of one applied operation, reported to
// observers. Position is the visible rune index at which the change applied.
type Change struct {
	Position   int
	Inserted   string
	DeletedLen int
}

type node struct {
	id       ID
	origin   *ID // anchor; nil means document start
	ch       rune
	deleted  bool
	children []*node // ordered by sibling precedence (see lessSibling)
}

// insertRun is a decoded insert operation: len(text) characters with
// consecutive clocks starting at id.Clock. Character i>0 is anchored to
// character i-1 of the same run.
type insertRun struct {
	id     ID
	origin *ID
	text   string
}

// deleteRange tombstones length consecutive clocks of one client
type deleteRange struct {
	target ID
	length uint32
}

// Update is the decoded wire form of a document delta
type Update struct {
	inserts []insertRun
	deletes []deleteRange
}

// Doc is one replicated text document
type Doc struct {
	nodes map[ID]*node
	roots []*node // children of the virtual document start

	sv   map[uint32]uint32 // next expected clock per client
	runs map[uint32][]insertRun // integrated insert runs, per client, clock-ordered

	pendingInserts []insertRun
	pendingDeletes []deleteRange

	observers []func(Change)
}

// NewDoc creates an empty document
func NewDoc() *Doc {
	return &Doc{
		nodes: make(map[ID]*node),
		sv:    make(map[uint32]uint32),
		runs:  make(map[uint32][]insertRun),
	}
}

// Observe registers a callback invoked once per applied operation with the
// visible position, inserted text, and deleted length.
func (d *Doc) Observe(fn func(Change)) {
	d.observers = append(d.observers, fn)
}

func (d *Doc) notify(c Change) {
	for _, fn := range d.observers {
		fn(c)
	}
}

// lessSibling orders siblings under the same anchor. Later operations sort
// first, so an insert at the same spot lands immediately after the anchor.
func lessSibling(a, b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Client > b.Client
}

// Text returns the current visible text
func (d *Doc) Text() string {
	var b strings.Builder
	d.walk(func(n *node) {
		if !n.deleted {
			b.WriteRune(n.ch)
		}
	})
	return b.String()
}

// Len returns the number of visible characters
func (d *Doc) Len() int {
	n := 0
	d.walk(func(nd *node) {
		if !nd.deleted {
			n++
		}
	})
	return n
}

// walk traverses nodes in document order
func (d *Doc) walk(visit func(*node)) {
	var rec func(ns []*node)
	rec = func(ns []*node) {
		for _, n := range ns {
			visit(n)
			rec(n.children)
		}
	}
	rec(d.roots)
}

// nodeAt returns the node holding the visible character at index pos,
// or nil when pos is out of range.
func (d *Doc) nodeAt(pos int) *node {
	var found *node
	i := 0
	d.walk(func(n *node) {
		if found != nil || n.deleted {
			return
		}
		if i == pos {
			found = n
		}
		i++
	})
	return found
}

// visiblePos returns the visible index a character at node n occupies
// (counting non-deleted nodes strictly before it).
func (d *Doc) visiblePos(target *node) int {
	pos := 0
	done := false
	d.walk(func(n *node) {
		if done {
			return
		}
		if n == target {
			done = true
			return
		}
		if !n.deleted {
			pos++
		}
	})
	return pos
}

// StateVector returns the causal summary of this document
func (d *Doc) StateVector() []byte {
	return encodeStateVector(d.sv)
}

// InsertText generates and applies a local insert of text at visible
// position pos on behalf of client, returning the encoded update for
// propagation.
func (d *Doc) InsertText(client uint32, pos int, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("crdt: empty insert")
	}
	if pos < 0 || pos > d.Len() {
		return nil, fmt.Errorf("crdt: insert position %d out of range", pos)
	}

	var origin *ID
	if pos > 0 {
		anchor := d.nodeAt(pos - 1)
		id := anchor.id
		origin = &id
	}

	run := insertRun{
		id:     ID{Client: client, Clock: d.sv[client]},
		origin: origin,
		text:   text,
	}
	upd := Update{inserts: []insertRun{run}}
	enc := encodeUpdate(upd)
	if err := d.ApplyUpdate(upd); err != nil {
		return nil, err
	}
	return enc, nil
}

// DeleteText generates and applies a local delete of length visible
// characters starting at pos, returning the encoded update.
func (d *Doc) DeleteText(pos, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("crdt: empty delete")
	}
	if pos < 0 || pos+length > d.Len() {
		return nil, fmt.Errorf("crdt: delete range [%d,%d) out of range", pos, pos+length)
	}

	// Collect target ids before tombstoning shifts positions
	var ids []ID
	i := 0
	d.walk(func(n *node) {
		if n.deleted {
			return
		}
		if i >= pos && i < pos+length {
			ids = append(ids, n.id)
		}
		i++
	})

	upd := Update{deletes: coalesceDeletes(ids)}
	enc := encodeUpdate(upd)
	if err := d.ApplyUpdate(upd); err != nil {
		return nil, err
	}
	return enc, nil
}

// coalesceDeletes folds an id list into ranges of consecutive clocks
func coalesceDeletes(ids []ID) []deleteRange {
	var out []deleteRange
	for _, id := range ids {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.target.Client == id.Client && last.target.Clock+last.length == id.Clock {
				last.length++
				continue
			}
		}
		out = append(out, deleteRange{target: id, length: 1})
	}
	return out
}

// Apply decodes and applies a peer update. Applying an update twice is a
// no-op; updates whose causal dependencies are missing are buffered until
// the dependencies arrive.
func (d *Doc) Apply(update []byte) error {
	upd, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	return d.ApplyUpdate(upd)
}

// ApplyUpdate applies a decoded update
func (d *Doc) ApplyUpdate(upd Update) error {
	for _, run := range upd.inserts {
		d.integrateOrBuffer(run)
	}
	for _, del := range upd.deletes {
		d.deleteOrBuffer(del)
	}
	d.drainPending()
	return nil
}

// integrateOrBuffer integrates an insert run, trimming any prefix this
// replica already has, and buffers runs that are causally early.
func (d *Doc) integrateOrBuffer(run insertRun) {
	next := d.sv[run.id.Client]
	runes := []rune(run.text)
	end := run.id.Clock + uint32(len(runes))

	if end <= next {
		return // fully known
	}
	if run.id.Clock > next {
		d.pendingInserts = append(d.pendingInserts, run)
		return // gap in this client's sequence
	}
	if run.id.Clock < next {
		// partially known: drop the known prefix, re-anchor to its last char
		skip := next - run.id.Clock
		anchor := ID{Client: run.id.Client, Clock: next - 1}
		run = insertRun{
			id:     ID{Client: run.id.Client, Clock: next},
			origin: &anchor,
			text:   string(runes[skip:]),
		}
		runes = runes[skip:]
	}

	if run.origin != nil {
		if _, ok := d.nodes[*run.origin]; !ok {
			d.pendingInserts = append(d.pendingInserts, run)
			return
		}
	}

	d.integrate(run, runes)
}

// integrate links the run's characters into the tree and records it
func (d *Doc) integrate(run insertRun, runes []rune) {
	origin := run.origin
	first := true
	var firstNode *node
	for i, r := range runes {
		n := &node{
			id:     ID{Client: run.id.Client, Clock: run.id.Clock + uint32(i)},
			origin: origin,
			ch:     r,
		}
		d.nodes[n.id] = n

		siblings := &d.roots
		if origin != nil {
			siblings = &d.nodes[*origin].children
		}
		insertSibling(siblings, n)

		if first {
			firstNode = n
			first = false
		}
		id := n.id
		origin = &id
	}

	d.sv[run.id.Client] = run.id.Clock + uint32(len(runes))
	d.runs[run.id.Client] = append(d.runs[run.id.Client], run)

	d.notify(Change{Position: d.visiblePos(firstNode), Inserted: string(runes)})
}

// insertSibling inserts n into the sibling list keeping precedence order
func insertSibling(siblings *[]*node, n *node) {
	i := sort.Search(len(*siblings), func(i int) bool {
		return !lessSibling((*siblings)[i].id, n.id)
	})
	*siblings = append(*siblings, nil)
	copy((*siblings)[i+1:], (*siblings)[i:])
	(*siblings)[i] = n
}

// deleteOrBuffer tombstones a delete range, buffering targets not yet seen
func (d *Doc) deleteOrBuffer(del deleteRange) {
	var missing []ID
	for i := uint32(0); i < del.length; i++ {
		id := ID{Client: del.target.Client, Clock: del.target.Clock + i}
		n, ok := d.nodes[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if n.deleted {
			continue
		}
		pos := d.visiblePos(n)
		n.deleted = true
		d.notify(Change{Position: pos, DeletedLen: 1})
	}
	d.pendingDeletes = append(d.pendingDeletes, coalesceDeletes(missing)...)
}

// drainPending retries buffered operations until no further progress
func (d *Doc) drainPending() {
	for {
		progressed := false

		inserts := d.pendingInserts
		d.pendingInserts = nil
		for _, run := range inserts {
			before := len(d.pendingInserts)
			d.integrateOrBuffer(run)
			if len(d.pendingInserts) == before {
				progressed = true
			}
		}

		deletes := d.pendingDeletes
		d.pendingDeletes = nil
		for _, del := range deletes {
			before := len(d.pendingDeletes)
			d.deleteOrBuffer(del)
			if len(d.pendingDeletes) == before {
				progressed = true
			}
		}

		if !progressed {
			return
		}
	}
}

// EncodeDiff produces the minimal update bringing a peer at theirSV up to
// this document's state. Inserts above the peer's state vector are included;
// the delete set is always sent whole and is idempotent on the receiver.
func (d *Doc) EncodeDiff(theirSV []byte) ([]byte, error) {
	their, err := decodeStateVector(theirSV)
	if err != nil {
		return nil, err
	}

	var upd Update
	clients := make([]uint32, 0, len(d.runs))
	for c := range d.runs {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	for _, client := range clients {
		next := their[client]
		for _, run := range d.runs[client] {
			runes := []rune(run.text)
			end := run.id.Clock + uint32(len(runes))
			if end <= next {
				continue
			}
			if run.id.Clock >= next {
				upd.inserts = append(upd.inserts, run)
				continue
			}
			// split: peer already has the run prefix
			skip := next - run.id.Clock
			anchor := ID{Client: client, Clock: next - 1}
			upd.inserts = append(upd.inserts, insertRun{
				id:     ID{Client: client, Clock: next},
				origin: &anchor,
				text:   string(runes[skip:]),
			})
		}
	}

	upd.deletes = d.deleteSet()
	return encodeUpdate(upd), nil
}

// deleteSet derives the full tombstone set in coalesced form
func (d *Doc) deleteSet() []deleteRange {
	var ids []ID
	for id, n := range d.nodes {
		if n.deleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Client != ids[j].Client {
			return ids[i].Client < ids[j].Client
		}
		return ids[i].Clock < ids[j].Clock
	})
	return coalesceDeletes(ids)
}

// Seed installs initial file content into an empty document using the
// reserved seed client, so independent seeds of the same text are identical.
// Returns the encoded seed update, or nil when there is nothing to seed.
func (d *Doc) Seed(text string) ([]byte, error) {
	if text == "" || d.Len() > 0 {
		return nil, nil
	}
	return d.InsertText(SeedClient, 0, text)
}
