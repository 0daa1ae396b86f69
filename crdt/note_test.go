package crdt

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func addNotes(d *Doc, n int) []string {
	var ids []string
	d.Change("", func(tx *Tx) {
		for i := 0; i < n; i++ {
			ids = append(ids, tx.AddNote(Note{
				Color: "#ffe",
				Text:  fmt.Sprintf("note %d", i),
				X:     float64(i),
				Y:     float64(10 * i),
			}))
		}
	})
	return ids
}

func TestNotesKeepCreationOrder(t *testing.T) {
	d := New("alice")
	ids := addNotes(d, 5)
	notes := d.Notes()
	assert.Equal(t, len(notes), 5)
	for i, n := range notes {
		assert.Equal(t, n.ID, ids[i])
		assert.Equal(t, n.Text, fmt.Sprintf("note %d", i))
	}
}

func TestRemoveNoteKeepsOthers(t *testing.T) {
	d := New("alice")
	ids := addNotes(d, 5)
	before := d.Notes()

	_, patches := d.Change("", func(tx *Tx) {
		assert.Equal(t, tx.RemoveNote(ids[2]), true)
	})
	assert.Equal(t, patches, []Patch{{Path: PathNotes, Note: ids[2]}})

	after := d.Notes()
	assert.Equal(t, after, []Note{before[0], before[1], before[3], before[4]})

	c, _ := d.Change("", func(tx *Tx) {
		assert.Equal(t, tx.RemoveNote(ids[2]), false)
		assert.Equal(t, tx.MoveNote(ids[2], 1, 1), false)
	})
	assert.Equal(t, c == nil, true)
}

func TestMoveNoteOnlyTouchesThatNote(t *testing.T) {
	d := New("alice")
	ids := addNotes(d, 3)
	before := d.Notes()
	d.Change("", func(tx *Tx) {
		tx.MoveNote(ids[1], 300, 400)
	})
	after := d.Notes()
	assert.Equal(t, after[0], before[0])
	assert.Equal(t, after[2], before[2])
	assert.Equal(t, after[1], Note{ID: ids[1], Color: "#ffe", Text: "note 1", X: 300, Y: 400})
}

func TestConcurrentMovesConverge(t *testing.T) {
	a := New("alice")
	b := New("bob")
	ids := addNotes(a, 1)
	b.Merge(a)

	a.Change("", func(tx *Tx) { tx.MoveNote(ids[0], 1, 1) })
	b.Change("", func(tx *Tx) { tx.MoveNote(ids[0], 2, 2) })
	a.Merge(b)
	b.Merge(a)

	assert.Equal(t, a.Notes(), b.Notes())
	// equal counters, "bob" sorts after "alice"
	assert.Equal(t, a.Notes()[0].X, float64(2))
}

func TestRemoveWinsOverConcurrentMove(t *testing.T) {
	a := New("alice")
	b := New("bob")
	ids := addNotes(a, 2)
	b.Merge(a)

	a.Change("", func(tx *Tx) { tx.RemoveNote(ids[0]) })
	b.Change("", func(tx *Tx) { tx.MoveNote(ids[0], 50, 50) })
	a.Merge(b)
	b.Merge(a)

	assert.Equal(t, len(a.Notes()), 1)
	assert.Equal(t, a.Notes(), b.Notes())
	assert.Equal(t, a.Notes()[0].ID, ids[1])
}

func TestConcurrentRemovesByIDDoNotCollide(t *testing.T) {
	a := New("alice")
	b := New("bob")
	ids := addNotes(a, 3)
	b.Merge(a)

	// both peers close "the note at index 1" at the same time; with ids they
	// close the same note instead of two different ones
	a.Change("", func(tx *Tx) { tx.RemoveNote(a.Notes()[1].ID) })
	b.Change("", func(tx *Tx) { tx.RemoveNote(b.Notes()[1].ID) })
	a.Merge(b)
	b.Merge(a)

	assert.Equal(t, len(a.Notes()), 2)
	assert.Equal(t, a.Notes()[0].ID, ids[0])
	assert.Equal(t, a.Notes()[1].ID, ids[2])
	assert.Equal(t, a.Notes(), b.Notes())
}
