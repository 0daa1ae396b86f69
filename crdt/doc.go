// Package crdt implements the replicated document shared by typewriter peers:
// a character sequence (RGA) holding the transcript and a set of post-it notes
// with stable identifiers.
//
// A Doc is not safe for concurrent use; callers serialize access.
package crdt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrMalformed = errors.New("crdt: malformed change")

// Note is a post-it note as seen by readers of the document.
type Note struct {
	ID    string  `json:"id"`
	Color string  `json:"color"`
	Text  string  `json:"text"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type element struct {
	id      ID
	value   rune
	deleted bool
}

type noteState struct {
	note    Note
	created ID
	moved   ID
	removed bool
}

// Doc is one replica of a shared document.
type Doc struct {
	actor string
	seq   uint64
	maxOp uint64
	clock VersionVector

	log     []*Change
	pending []*Change

	// --- Text State ---
	text    []element
	index   map[ID]int
	visible int

	// --- Note State ---
	notes map[string]*noteState
}

// New returns an empty document that will author changes as actor.
func New(actor string) *Doc {
	return &Doc{
		actor: actor,
		clock: VersionVector{},
		index: make(map[ID]int),
		notes: make(map[string]*noteState),
	}
}

func (d *Doc) Actor() string {
	return d.actor
}

// Clock returns a copy of the version vector of applied changes.
func (d *Doc) Clock() VersionVector {
	return d.clock.Clone()
}

// Len is the number of visible characters in text.
func (d *Doc) Len() int {
	return d.visible
}

func (d *Doc) Text() string {
	var b strings.Builder
	b.Grow(d.visible)
	for _, e := range d.text {
		if !e.deleted {
			b.WriteRune(e.value)
		}
	}
	return b.String()
}

// Notes returns the live notes in creation order.
func (d *Doc) Notes() []Note {
	states := make([]*noteState, 0, len(d.notes))
	for _, n := range d.notes {
		if !n.removed {
			states = append(states, n)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].created.Less(states[j].created)
	})
	notes := make([]Note, len(states))
	for i, n := range states {
		notes[i] = n.note
	}
	return notes
}

func (d *Doc) Note(id string) (Note, bool) {
	n, ok := d.notes[id]
	if !ok || n.removed {
		return Note{}, false
	}
	return n.note, true
}

// Empty reports whether no change has ever been applied.
func (d *Doc) Empty() bool {
	return len(d.log) == 0
}

// Pending is the number of received changes waiting for their dependencies.
func (d *Doc) Pending() int {
	return len(d.pending)
}

// Changes returns every applied change in application order.
func (d *Doc) Changes() []*Change {
	return append([]*Change(nil), d.log...)
}

// ChangesSince returns the applied changes not counted by v, in an order that
// respects causality.
func (d *Doc) ChangesSince(v VersionVector) []*Change {
	var changes []*Change
	for _, c := range d.log {
		if c.Seq > v[c.Actor] {
			changes = append(changes, c)
		}
	}
	return changes
}

// Change runs fn against a transaction and records its operations as a new
// local change. It returns nil if fn made no operations.
func (d *Doc) Change(message string, fn func(tx *Tx)) (*Change, []Patch) {
	c := &Change{
		Actor:   d.actor,
		Seq:     d.seq + 1,
		Start:   d.maxOp + 1,
		Deps:    d.clock.Clone(),
		Time:    time.Now().UnixMilli(),
		Message: message,
	}
	tx := &Tx{d: d, change: c}
	fn(tx)
	if len(c.Ops) == 0 {
		return nil, nil
	}
	d.seq = c.Seq
	d.clock[d.actor] = c.Seq
	d.maxOp = c.lastCounter()
	d.log = append(d.log, c)
	return c, tx.patches.list
}

// Apply merges remote changes. Duplicates are ignored and changes whose
// dependencies are missing are held until they arrive. The returned patches
// describe the visible effect of everything that was applied, in order.
func (d *Doc) Apply(changes ...*Change) ([]Patch, error) {
	var patches patchList
	var errs []error

	queue := append(d.pending, changes...)
	d.pending = nil
	for progress := true; progress; {
		progress = false
		seen := make(map[ID]bool)
		var waiting []*Change
		for _, c := range queue {
			key := ID{Counter: c.Seq, Actor: c.Actor}
			switch {
			case d.clock[c.Actor] >= c.Seq || seen[key]:
			case d.clock[c.Actor]+1 != c.Seq || !d.clock.Covers(c.Deps):
				seen[key] = true
				waiting = append(waiting, c)
			default:
				if err := d.integrate(c, &patches); err != nil {
					errs = append(errs, err)
					continue
				}
				progress = true
			}
		}
		queue = waiting
	}
	d.pending = queue
	return patches.list, errors.Join(errs...)
}

// Merge applies every change known to other.
func (d *Doc) Merge(other *Doc) ([]Patch, error) {
	return d.Apply(other.ChangesSince(d.clock)...)
}

func (d *Doc) integrate(c *Change, patches *patchList) error {
	if err := d.validate(c); err != nil {
		return err
	}
	for _, op := range c.Ops {
		d.applyOp(op, patches)
	}
	d.clock[c.Actor] = c.Seq
	if last := c.lastCounter(); last > d.maxOp {
		d.maxOp = last
	}
	if c.Actor == d.actor && c.Seq > d.seq {
		d.seq = c.Seq
	}
	d.log = append(d.log, c)
	return nil
}

func (d *Doc) validate(c *Change) error {
	inserted := make(map[ID]bool)
	added := make(map[string]bool)
	for i, op := range c.Ops {
		if op.ID != (ID{Counter: c.Start + uint64(i), Actor: c.Actor}) {
			return fmt.Errorf("%w: %s/%d op %d has id %s", ErrMalformed, c.Actor, c.Seq, i, op.ID)
		}
		switch op.Kind {
		case OpInsert:
			if utf8.RuneCountInString(op.Value) != 1 {
				return fmt.Errorf("%w: insert %s carries %q", ErrMalformed, op.ID, op.Value)
			}
			if !op.After.IsHead() && !inserted[op.After] {
				if _, ok := d.index[op.After]; !ok {
					return fmt.Errorf("%w: insert %s after unknown %s", ErrMalformed, op.ID, op.After)
				}
			}
			inserted[op.ID] = true
		case OpDelete:
			if _, ok := d.index[op.Target]; !ok && !inserted[op.Target] {
				return fmt.Errorf("%w: delete of unknown %s", ErrMalformed, op.Target)
			}
		case OpNoteAdd:
			if op.Note == "" {
				return fmt.Errorf("%w: note without id", ErrMalformed)
			}
			added[op.Note] = true
		case OpNoteMove, OpNoteRemove:
			if _, ok := d.notes[op.Note]; !ok && !added[op.Note] {
				return fmt.Errorf("%w: %s of unknown note %q", ErrMalformed, op.Kind, op.Note)
			}
		default:
			return fmt.Errorf("%w: unknown op kind %q", ErrMalformed, op.Kind)
		}
	}
	return nil
}

func (d *Doc) applyOp(op Op, patches *patchList) {
	switch op.Kind {
	case OpInsert:
		d.insert(op, patches)
	case OpDelete:
		d.delete(op, patches)
	case OpNoteAdd:
		if _, ok := d.notes[op.Note]; ok {
			return
		}
		d.notes[op.Note] = &noteState{
			note: Note{
				ID:    op.Note,
				Color: op.Color,
				Text:  op.Text,
				X:     op.X,
				Y:     op.Y,
			},
			created: op.ID,
			moved:   op.ID,
		}
		patches.note(op.Note)
	case OpNoteMove:
		n := d.notes[op.Note]
		// last writer wins; a removed note stays removed
		if n.removed || !n.moved.Less(op.ID) {
			return
		}
		n.moved = op.ID
		n.note.X, n.note.Y = op.X, op.Y
		patches.note(op.Note)
	case OpNoteRemove:
		n := d.notes[op.Note]
		if n.removed {
			return
		}
		n.removed = true
		patches.note(op.Note)
	}
}

func (d *Doc) insert(op Op, patches *patchList) {
	if _, ok := d.index[op.ID]; ok {
		return
	}
	i := 0
	if !op.After.IsHead() {
		i = d.index[op.After] + 1
	}
	// Skip concurrent inserts at the same anchor that sort after op, and
	// everything inserted after them.
	for i < len(d.text) && op.ID.Less(d.text[i].id) {
		i++
	}
	r, _ := utf8.DecodeRuneInString(op.Value)
	pos := d.visibleBefore(i)
	e := element{id: op.ID, value: r}
	if i == len(d.text) {
		d.text = append(d.text, e)
		d.index[op.ID] = i
	} else {
		d.text = append(d.text, element{})
		copy(d.text[i+1:], d.text[i:])
		d.text[i] = e
		for j := i; j < len(d.text); j++ {
			d.index[d.text[j].id] = j
		}
	}
	d.visible++
	patches.insert(pos, string(r))
}

func (d *Doc) delete(op Op, patches *patchList) {
	i := d.index[op.Target]
	if d.text[i].deleted {
		return
	}
	pos := d.visibleBefore(i)
	d.text[i].deleted = true
	d.visible--
	patches.delete(pos)
}

// visibleBefore counts the visible characters in text[:i].
func (d *Doc) visibleBefore(i int) int {
	if i > len(d.text)/2 {
		n := d.visible
		for _, e := range d.text[i:] {
			if !e.deleted {
				n--
			}
		}
		return n
	}
	n := 0
	for _, e := range d.text[:i] {
		if !e.deleted {
			n++
		}
	}
	return n
}

// visibleAt returns the slice index of the pos'th visible character.
func (d *Doc) visibleAt(pos int) int {
	if pos >= d.visible/2 {
		n := d.visible
		for i := len(d.text) - 1; i >= 0; i-- {
			if !d.text[i].deleted {
				n--
				if n == pos {
					return i
				}
			}
		}
		return -1
	}
	n := 0
	for i, e := range d.text {
		if e.deleted {
			continue
		}
		if n == pos {
			return i
		}
		n++
	}
	return -1
}
