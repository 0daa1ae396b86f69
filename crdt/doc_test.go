package crdt

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func appendText(d *Doc, s string) *Change {
	c, _ := d.Change("", func(tx *Tx) {
		tx.AppendText(s)
	})
	return c
}

func TestAppendText(t *testing.T) {
	d := New("alice")
	c, patches := d.Change("type", func(tx *Tx) {
		tx.AppendText("hi")
		tx.AppendText(" there")
	})
	assert.Equal(t, d.Text(), "hi there")
	assert.Equal(t, d.Len(), 8)
	assert.Equal(t, c.Seq, uint64(1))
	assert.Equal(t, c.Start, uint64(1))
	assert.Equal(t, len(c.Ops), 8)
	assert.Equal(t, patches, []Patch{{Path: PathText, Index: 0, Insert: "hi there"}})
	assert.Equal(t, d.Clock(), VersionVector{"alice": 1})
}

func TestEmptyChange(t *testing.T) {
	d := New("alice")
	c, patches := d.Change("", func(tx *Tx) {})
	assert.Equal(t, c == nil, true)
	assert.Equal(t, len(patches), 0)
	assert.Equal(t, d.Empty(), true)
}

func TestInsertAndDelete(t *testing.T) {
	d := New("alice")
	appendText(d, "hello")
	_, patches := d.Change("", func(tx *Tx) {
		tx.DeleteText(1, 3)
	})
	assert.Equal(t, d.Text(), "ho")
	assert.Equal(t, patches, []Patch{{Path: PathText, Index: 1, Delete: 3}})

	d.Change("", func(tx *Tx) {
		tx.InsertText(1, "ell")
		tx.InsertText(100, "!")
	})
	assert.Equal(t, d.Text(), "hello!")

	d.Change("", func(tx *Tx) {
		tx.DeleteText(-1, 1)
		tx.DeleteText(6, 1)
	})
	assert.Equal(t, d.Text(), "hello!")
}

func TestUnicode(t *testing.T) {
	d := New("alice")
	appendText(d, "héllo ✍️")
	assert.Equal(t, d.Text(), "héllo ✍️")
	d.Change("", func(tx *Tx) {
		tx.DeleteText(1, 1)
	})
	assert.Equal(t, d.Text(), "hllo ✍️")
}

func TestConcurrentAppendsConverge(t *testing.T) {
	a := New("alice")
	b := New("bob")
	appendText(a, "x")
	_, err := b.Merge(a)
	assert.Equal(t, err, nil)

	appendText(a, "ab")
	appendText(b, "cd")

	_, err = a.Merge(b)
	assert.Equal(t, err, nil)
	patches, err := b.Merge(a)
	assert.Equal(t, err, nil)

	assert.Equal(t, a.Text(), "xcdab")
	assert.Equal(t, b.Text(), "xcdab")
	assert.Equal(t, patches, []Patch{{Path: PathText, Index: 3, Insert: "ab"}})
	assert.Equal(t, a.Clock(), b.Clock())
}

func TestConcurrentDeleteAndInsert(t *testing.T) {
	a := New("alice")
	b := New("bob")
	appendText(a, "abc")
	b.Merge(a)

	a.Change("", func(tx *Tx) {
		tx.DeleteText(1, 1)
	})
	b.Change("", func(tx *Tx) {
		tx.InsertText(2, "X")
	})
	a.Merge(b)
	b.Merge(a)
	assert.Equal(t, a.Text(), "aXc")
	assert.Equal(t, b.Text(), "aXc")
}

func TestApplyHoldsChangesUntilDepsArrive(t *testing.T) {
	a := New("alice")
	c1 := appendText(a, "one")
	c2 := appendText(a, " two")

	b := New("bob")
	patches, err := b.Apply(c2)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(patches), 0)
	assert.Equal(t, b.Pending(), 1)
	assert.Equal(t, b.Text(), "")

	patches, err = b.Apply(c1)
	assert.Equal(t, err, nil)
	assert.Equal(t, b.Pending(), 0)
	assert.Equal(t, b.Text(), "one two")
	assert.Equal(t, patches, []Patch{{Path: PathText, Index: 0, Insert: "one two"}})
}

func TestApplyIgnoresDuplicates(t *testing.T) {
	a := New("alice")
	c := appendText(a, "once")

	b := New("bob")
	b.Apply(c)
	patches, err := b.Apply(c, c)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(patches), 0)
	assert.Equal(t, b.Text(), "once")
	assert.Equal(t, len(b.Changes()), 1)
}

func TestApplyRejectsMalformed(t *testing.T) {
	b := New("bob")
	bad := &Change{
		Actor: "mallory",
		Seq:   1,
		Start: 1,
		Ops: []Op{{
			Kind:  OpInsert,
			ID:    ID{Counter: 1, Actor: "mallory"},
			After: ID{Counter: 9, Actor: "nobody"},
			Value: "x",
		}},
	}
	_, err := b.Apply(bad)
	assert.Equal(t, errors.Is(err, ErrMalformed), true)
	assert.Equal(t, b.Empty(), true)
	assert.Equal(t, b.Pending(), 0)
}

func TestChangesSince(t *testing.T) {
	a := New("alice")
	appendText(a, "a")
	v := a.Clock()
	appendText(a, "b")
	appendText(a, "c")
	since := a.ChangesSince(v)
	assert.Equal(t, len(since), 2)
	assert.Equal(t, since[0].Seq, uint64(2))
	assert.Equal(t, since[1].Seq, uint64(3))
}

func TestLocalSeqContinuesAfterReload(t *testing.T) {
	a := New("alice")
	appendText(a, "a")
	appendText(a, "b")

	again := New("alice")
	again.Merge(a)
	c := appendText(again, "c")
	assert.Equal(t, c.Seq, uint64(3))
	assert.Equal(t, again.Text(), "abc")
}
