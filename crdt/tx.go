package crdt

import "github.com/oklog/ulid/v2"

// Tx is a local transaction opened by Doc.Change. Every call is applied to the
// document immediately, so later calls see earlier ones.
type Tx struct {
	d       *Doc
	change  *Change
	patches patchList
}

func (tx *Tx) next() ID {
	return ID{
		Counter: tx.change.Start + uint64(len(tx.change.Ops)),
		Actor:   tx.change.Actor,
	}
}

func (tx *Tx) apply(op Op) {
	tx.change.Ops = append(tx.change.Ops, op)
	tx.d.applyOp(op, &tx.patches)
}

func (tx *Tx) Len() int {
	return tx.d.visible
}

func (tx *Tx) Text() string {
	return tx.d.Text()
}

// InsertText inserts s so that it starts at visible position pos. pos is
// clamped to the text.
func (tx *Tx) InsertText(pos int, s string) {
	pos = max(0, min(pos, tx.d.visible))
	after := Head
	if pos > 0 {
		after = tx.d.text[tx.d.visibleAt(pos-1)].id
	}
	for _, r := range s {
		op := Op{Kind: OpInsert, ID: tx.next(), After: after, Value: string(r)}
		tx.apply(op)
		after = op.ID
	}
}

// AppendText inserts s at the end of the text.
func (tx *Tx) AppendText(s string) {
	tx.InsertText(tx.d.visible, s)
}

// DeleteText removes up to n visible characters starting at pos.
func (tx *Tx) DeleteText(pos, n int) {
	if pos < 0 || pos >= tx.d.visible {
		return
	}
	n = min(n, tx.d.visible-pos)
	for ; n > 0; n-- {
		target := tx.d.text[tx.d.visibleAt(pos)].id
		tx.apply(Op{Kind: OpDelete, ID: tx.next(), Target: target})
	}
}

// AddNote appends a note and returns its id. A fresh id is generated when
// n.ID is empty.
func (tx *Tx) AddNote(n Note) string {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if _, ok := tx.d.notes[n.ID]; ok {
		return n.ID
	}
	tx.apply(Op{
		Kind:  OpNoteAdd,
		ID:    tx.next(),
		Note:  n.ID,
		Color: n.Color,
		Text:  n.Text,
		X:     n.X,
		Y:     n.Y,
	})
	return n.ID
}

// MoveNote sets the position of a live note. It reports whether the note
// exists.
func (tx *Tx) MoveNote(id string, x, y float64) bool {
	if _, ok := tx.d.Note(id); !ok {
		return false
	}
	tx.apply(Op{Kind: OpNoteMove, ID: tx.next(), Note: id, X: x, Y: y})
	return true
}

// RemoveNote removes a live note. It reports whether the note existed.
func (tx *Tx) RemoveNote(id string) bool {
	if _, ok := tx.d.Note(id); !ok {
		return false
	}
	tx.apply(Op{Kind: OpNoteRemove, ID: tx.next(), Note: id})
	return true
}

// Notes returns the live notes in creation order.
func (tx *Tx) Notes() []Note {
	return tx.d.Notes()
}
