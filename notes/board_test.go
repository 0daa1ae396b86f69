package notes

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/repo"
)

func newBoard(t *testing.T) (*Board, *repo.DocHandle) {
	t.Helper()
	r := repo.New(repo.Config{PeerID: "typist"})
	t.Cleanup(func() { r.Close() })
	h := r.Create(func(tx *crdt.Tx) { tx.AppendText("\n") })
	return NewBoard(h, func(n int) int { return 3 }), h
}

func paste(t *testing.T, b *Board, text string) string {
	t.Helper()
	id, ok, err := b.Paste([]ClipboardItem{{Kind: "string", Type: "text/plain", Data: text}})
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	return id
}

func TestPasteMakesOneNote(t *testing.T) {
	b, h := newBoard(t)
	id := paste(t, b, "  hello\n")

	notes := h.Notes()
	assert.Equal(t, len(notes), 1)
	assert.Equal(t, notes[0], crdt.Note{ID: id, Color: Palette[3], Text: "hello", X: 200, Y: 200})
	assert.Equal(t, h.Text(), "\n")
}

func TestPasteUsesFirstPlainTextItem(t *testing.T) {
	b, h := newBoard(t)
	_, ok, err := b.Paste([]ClipboardItem{
		{Kind: "file", Type: "image/png"},
		{Kind: "string", Type: "text/html", Data: "<b>no</b>"},
		{Kind: "string", Type: "text/plain", Data: "first"},
		{Kind: "string", Type: "text/plain", Data: "second"},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	notes := h.Notes()
	assert.Equal(t, len(notes), 1)
	assert.Equal(t, notes[0].Text, "first")

	_, ok, err = b.Paste([]ClipboardItem{{Kind: "file", Type: "text/plain"}})
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, len(h.Notes()), 1)
}

func TestDragCommitsOnRelease(t *testing.T) {
	b, h := newBoard(t)
	still := paste(t, b, "still")
	moving := paste(t, b, "moving")

	d, err := b.PointerDown(moving, PointerEvent{X: 205, Y: 212, Box: Box{Left: 200, Top: 200}})
	assert.Equal(t, err, nil)
	assert.Equal(t, b.Drag(moving) == d, true)

	d.Move(PointerEvent{PageX: 305, PageY: 412})
	x, y := d.Position()
	assert.Equal(t, x, 300.0)
	assert.Equal(t, y, 400.0)

	// shared position untouched while dragging, draft shown locally
	n, _ := h.Note(moving)
	assert.Equal(t, n.X, 200.0)
	assert.Equal(t, b.Notes()[1].X, 300.0)

	assert.Equal(t, d.Release(), nil)
	n, _ = h.Note(moving)
	assert.Equal(t, n.X, 300.0)
	assert.Equal(t, n.Y, 400.0)
	s, _ := h.Note(still)
	assert.Equal(t, s.X, 200.0)
	assert.Equal(t, s.Y, 200.0)
	assert.Equal(t, b.Drag(moving) == nil, true)

	// later moves and releases do nothing
	clock := h.Clock().String()
	d.Move(PointerEvent{PageX: 999, PageY: 999})
	assert.Equal(t, d.Release(), nil)
	assert.Equal(t, h.Clock().String(), clock)
	n, _ = h.Note(moving)
	assert.Equal(t, n.X, 300.0)
}

func TestReleaseWithoutMoveKeepsPosition(t *testing.T) {
	b, h := newBoard(t)
	id := paste(t, b, "x")
	d, err := b.PointerDown(id, PointerEvent{X: 1, Y: 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, d.Release(), nil)
	n, _ := h.Note(id)
	assert.Equal(t, n.X, 200.0)
	assert.Equal(t, n.Y, 200.0)
}

func TestAltPressDiscards(t *testing.T) {
	b, h := newBoard(t)
	id := paste(t, b, "bye")
	d, err := b.PointerDown(id, PointerEvent{Alt: true})
	assert.Equal(t, err, nil)
	assert.Equal(t, d == nil, true)
	assert.Equal(t, len(h.Notes()), 0)
}

func TestCloseButtonNeverDrags(t *testing.T) {
	b, h := newBoard(t)
	id := paste(t, b, "stay")
	d, err := b.PointerDown(id, PointerEvent{Target: TargetClose})
	assert.Equal(t, err, nil)
	assert.Equal(t, d == nil, true)
	assert.Equal(t, b.Drag(id) == nil, true)
	assert.Equal(t, len(h.Notes()), 1)

	assert.Equal(t, b.Close(id), nil)
	assert.Equal(t, len(h.Notes()), 0)
	assert.Equal(t, b.Close(id), ErrNoNote)
}

func TestCloseThirdOfFive(t *testing.T) {
	b, h := newBoard(t)
	var ids []string
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, paste(t, b, text))
	}
	before := h.Notes()

	assert.Equal(t, b.Close(ids[2]), nil)
	after := h.Notes()
	assert.Equal(t, len(after), 4)
	assert.Equal(t, after, []crdt.Note{before[0], before[1], before[3], before[4]})
}

func TestPointerDownUnknownNote(t *testing.T) {
	b, _ := newBoard(t)
	_, err := b.PointerDown("nope", PointerEvent{})
	assert.Equal(t, err, ErrNoNote)
}

func TestRebindDropsDrags(t *testing.T) {
	b, h := newBoard(t)
	id := paste(t, b, "x")
	d, _ := b.PointerDown(id, PointerEvent{})
	d.Move(PointerEvent{PageX: 50, PageY: 50})

	other := repo.New(repo.Config{})
	defer other.Close()
	b.Rebind(other.Create(func(tx *crdt.Tx) {}))
	assert.Equal(t, d.Release(), nil)
	n, _ := h.Note(id)
	assert.Equal(t, n.X, 200.0)
}

func TestRender(t *testing.T) {
	b, _ := newBoard(t)
	paste(t, b, "first <line>\nsecond")
	second := paste(t, b, "after")
	d, _ := b.PointerDown(second, PointerEvent{})
	d.Move(PointerEvent{PageX: 12.5, PageY: 30})

	out, err := b.Render()
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.HasPrefix(out, `<div class="postits"><aside`), true)
	assert.Equal(t, strings.Count(out, `aria-label="discard"`), 2)
	assert.Equal(t, strings.Contains(out, "white-space:pre-line"), true)
	assert.Equal(t, strings.Contains(out, "user-select:none"), true)
	assert.Equal(t, strings.Contains(out, "first &lt;line&gt;\nsecond"), true)
	assert.Equal(t, strings.Contains(out, "left:12.5px;top:30px"), true)
	assert.Equal(t, strings.Index(out, "first") < strings.Index(out, "after"), true)
	assert.Equal(t, strings.Contains(out, "background:"+Palette[3]), true)
}
