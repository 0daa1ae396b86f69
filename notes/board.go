// Package notes is the post-it layer over a shared document: notes are made
// by pasting text, dragged around and discarded.
package notes

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/repo"
)

// Palette holds the note colours.
var Palette = []string{"#ffe", "#fef", "#eff", "#efe", "#fee", "#fed", "#def", "#dfe"}

// PasteX and PasteY are where pasted notes appear.
const (
	PasteX = 200
	PasteY = 200
)

var ErrNoNote = errors.New("notes: no such note")

// ClipboardItem is one entry of a paste. Kind is "string" or "file".
type ClipboardItem struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

type Target int

const (
	TargetNote Target = iota
	// TargetClose is the note's discard button.
	TargetClose
)

// Box is a note's bounding box in client coordinates.
type Box struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

type PointerEvent struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	PageX  float64 `json:"pageX"`
	PageY  float64 `json:"pageY"`
	Alt    bool    `json:"alt"`
	Target Target  `json:"target"`
	Box    Box     `json:"box"`
}

// Board is the set of notes of the current document plus the drags in
// flight.
type Board struct {
	intn func(int) int

	mu     sync.Mutex
	handle *repo.DocHandle
	drags  map[string]*Drag
}

// NewBoard binds a board to h. intn picks colours; nil means math/rand.
func NewBoard(h *repo.DocHandle, intn func(int) int) *Board {
	if intn == nil {
		intn = rand.IntN
	}
	return &Board{intn: intn, handle: h, drags: make(map[string]*Drag)}
}

// Rebind moves the board to another document. Drags in flight are dropped.
func (b *Board) Rebind(h *repo.DocHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle = h
	for id, d := range b.drags {
		d.released = true
		delete(b.drags, id)
	}
}

func (b *Board) Handle() *repo.DocHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// Paste makes one note from the first plain text item and returns its id.
// ok is false when there was no such item.
func (b *Board) Paste(items []ClipboardItem) (id string, ok bool, err error) {
	for _, item := range items {
		if item.Kind != "string" || item.Type != "text/plain" {
			continue
		}
		note := crdt.Note{
			Color: Palette[b.intn(len(Palette))],
			Text:  strings.TrimSpace(item.Data),
			X:     PasteX,
			Y:     PasteY,
		}
		err = b.Handle().Change(func(tx *crdt.Tx) {
			id = tx.AddNote(note)
		})
		if err != nil {
			return "", false, err
		}
		glog.V(2).Infof("[notes]pasted %s\n", id)
		return id, true, nil
	}
	return "", false, nil
}

// PointerDown handles a press on note id. With alt held the note is
// discarded. A press on the discard button does nothing here; the click that
// follows calls Close. Otherwise a drag starts.
func (b *Board) PointerDown(id string, ev PointerEvent) (*Drag, error) {
	if ev.Alt {
		return nil, b.Close(id)
	}
	if ev.Target == TargetClose {
		return nil, nil
	}
	h := b.Handle()
	note, ok := h.Note(id)
	if !ok {
		return nil, ErrNoNote
	}
	d := &Drag{
		board:   b,
		handle:  h,
		id:      id,
		offsetX: ev.X - ev.Box.Left,
		offsetY: ev.Y - ev.Box.Top,
		x:       note.X,
		y:       note.Y,
	}
	b.mu.Lock()
	if old := b.drags[id]; old != nil {
		old.released = true
	}
	b.drags[id] = d
	b.mu.Unlock()
	return d, nil
}

// Drag returns the drag in flight on note id, or nil.
func (b *Board) Drag(id string) *Drag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drags[id]
}

// Close discards note id.
func (b *Board) Close(id string) error {
	var removed bool
	err := b.Handle().Change(func(tx *crdt.Tx) {
		removed = tx.RemoveNote(id)
	})
	if err != nil {
		return err
	}
	if !removed {
		return ErrNoNote
	}
	return nil
}

// Notes returns the notes in display order, with drafts of drags in flight
// in place of their shared positions.
func (b *Board) Notes() []crdt.Note {
	b.mu.Lock()
	h := b.handle
	drafts := make(map[string][2]float64, len(b.drags))
	for id, d := range b.drags {
		drafts[id] = [2]float64{d.x, d.y}
	}
	b.mu.Unlock()

	notes := h.Notes()
	for i := range notes {
		if xy, ok := drafts[notes[i].ID]; ok {
			notes[i].X, notes[i].Y = xy[0], xy[1]
		}
	}
	return notes
}

// Drag follows one press on a note until it is released. Moves only change
// the local draft; Release writes it to the shared document.
type Drag struct {
	board   *Board
	handle  *repo.DocHandle
	id      string
	offsetX float64
	offsetY float64

	// guarded by board.mu
	x, y     float64
	released bool
}

func (d *Drag) ID() string {
	return d.id
}

func (d *Drag) Move(ev PointerEvent) {
	d.board.mu.Lock()
	defer d.board.mu.Unlock()
	if d.released {
		return
	}
	d.x = ev.PageX - d.offsetX
	d.y = ev.PageY - d.offsetY
}

// Position is the current draft position.
func (d *Drag) Position() (x, y float64) {
	d.board.mu.Lock()
	defer d.board.mu.Unlock()
	return d.x, d.y
}

// Release commits the draft position. Only the first call does anything.
func (d *Drag) Release() error {
	d.board.mu.Lock()
	if d.released {
		d.board.mu.Unlock()
		return nil
	}
	d.released = true
	if d.board.drags[d.id] == d {
		delete(d.board.drags, d.id)
	}
	x, y := d.x, d.y
	d.board.mu.Unlock()

	return d.handle.Change(func(tx *crdt.Tx) {
		if !tx.MoveNote(d.id, x, y) {
			glog.V(2).Infof("[notes]%s gone before release\n", d.id)
		}
	})
}
