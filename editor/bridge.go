package editor

import (
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/repo"
)

// Bridge keeps a View and the text of a shared document in step. Accepted
// local text is appended to the document; every other change to the
// document's text reaches the view as a remote transaction.
type Bridge struct {
	view   *View
	origin string

	mu     sync.Mutex
	handle *repo.DocHandle
	remove func()
	closed bool
}

// Bind connects view to h and replaces the view's content with the
// document's text.
func Bind(view *View, h *repo.DocHandle) *Bridge {
	b := &Bridge{view: view, origin: "editor-" + uuid.NewString()}
	view.SetMirror(b.mirror)
	b.Rebind(h)
	return b
}

func (b *Bridge) Handle() *repo.DocHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// Rebind moves the bridge to another document.
func (b *Bridge) Rebind(h *repo.DocHandle) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.remove != nil {
		b.remove()
	}
	b.handle = h
	b.remove = h.OnChange(b.receive)
	b.mu.Unlock()

	text := h.Text()
	doc := b.view.State().Len()
	b.view.Dispatch(Transaction{
		Changes: []Change{{From: 0, To: doc, Insert: text}},
		Remote:  true,
	})
}

func (b *Bridge) receive(e repo.ChangeEvent) {
	if e.Origin == b.origin {
		return
	}
	var changes []Change
	for _, p := range e.Patches {
		if p.Path != crdt.PathText {
			continue
		}
		changes = append(changes, Change{From: p.Index, To: p.Index + p.Delete, Insert: p.Insert})
	}
	if len(changes) == 0 {
		return
	}
	b.view.Dispatch(Transaction{Changes: changes, Remote: true})
}

func (b *Bridge) mirror(insert string) {
	h := b.Handle()
	if h == nil {
		return
	}
	err := h.ChangeFrom(b.origin, func(tx *crdt.Tx) {
		tx.AppendText(insert)
	})
	if err != nil {
		glog.Errorf("[editor]%s append error = %v\n", h.ID(), err)
	}
}

// Close stops mirroring in both directions.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.remove != nil {
		b.remove()
	}
	b.handle = nil
	b.view.SetMirror(nil)
}
