package repo

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/wire"
)

// saveDelay coalesces bursts of changes into one storage write.
const saveDelay = 250 * time.Millisecond

type HandleState int

const (
	StateLoading HandleState = iota
	StateRequesting
	StateReady
	StateUnavailable
)

func (s HandleState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRequesting:
		return "requesting"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ChangeEvent reports a change to a document. Local is true for changes made
// through this handle, false for changes merged from storage or the network.
// Origin is whatever the local writer passed to ChangeFrom.
type ChangeEvent struct {
	Handle  *DocHandle
	Patches []crdt.Patch
	Local   bool
	Origin  string
}

type listener struct {
	id int
	fn func(ChangeEvent)
}

// DocHandle is a live reference to one document of the repo.
type DocHandle struct {
	id   DocumentID
	repo *Repo

	mu        sync.Mutex
	doc       *crdt.Doc
	state     HandleState
	ready     chan struct{}
	listeners []listener
	nextID    int
	dirty     bool
	// events waits for delivery in the order the doc applied them
	events   []ChangeEvent
	draining bool

	saveMu sync.Mutex
	wake   chan struct{}
}

func newHandle(r *Repo, id DocumentID) *DocHandle {
	return &DocHandle{
		id:    id,
		repo:  r,
		doc:   crdt.New(r.peerID),
		ready: make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
}

func (h *DocHandle) ID() DocumentID {
	return h.id
}

func (h *DocHandle) URL() string {
	return h.id.URL()
}

func (h *DocHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *DocHandle) setState(s HandleState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setStateLocked(s)
}

func (h *DocHandle) setStateLocked(s HandleState) {
	if h.state == s {
		return
	}
	if s == StateReady {
		close(h.ready)
	}
	// ready is final
	if h.state != StateReady {
		h.state = s
	}
}

// Ready is closed once the document has content, from storage, the network
// or its creation.
func (h *DocHandle) Ready() <-chan struct{} {
	return h.ready
}

// WhenReady waits for Ready. It does not give up on its own; bound it with
// ctx.
func (h *DocHandle) WhenReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		if h.State() == StateUnavailable {
			return ErrUnavailable
		}
		return ctx.Err()
	}
}

// View calls fn with the document under the handle's lock. fn must not keep
// the document or call back into the handle.
func (h *DocHandle) View(fn func(d *crdt.Doc)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.doc)
}

func (h *DocHandle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Text()
}

func (h *DocHandle) Notes() []crdt.Note {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Notes()
}

func (h *DocHandle) Note(id string) (crdt.Note, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Note(id)
}

func (h *DocHandle) Clock() crdt.VersionVector {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Clock()
}

// Change mutates the document. Listeners hear about it before it is sent to
// the network.
func (h *DocHandle) Change(fn func(tx *crdt.Tx)) error {
	return h.ChangeFrom("", fn)
}

// ChangeFrom is Change with the origin reported to listeners, so a writer can
// recognise its own changes.
func (h *DocHandle) ChangeFrom(origin string, fn func(tx *crdt.Tx)) error {
	h.repo.mu.Lock()
	closed := h.repo.closed
	h.repo.mu.Unlock()
	if closed {
		return ErrClosed
	}

	h.mu.Lock()
	c, patches := h.doc.Change("", fn)
	if c == nil {
		h.mu.Unlock()
		return nil
	}
	h.queueLocked(ChangeEvent{Handle: h, Patches: patches, Local: true, Origin: origin})
	h.mu.Unlock()
	h.emit()
	h.markDirty()
	h.repo.send(&wire.Message{Type: wire.TypeSync, DocumentID: string(h.id), Changes: []*crdt.Change{c}})
	return nil
}

// OnChange registers fn for every change of the document. Listeners run in
// registration order, outside the handle's lock, and see changes in the order
// they were applied. A change made from inside a listener is delivered after
// the current one.
func (h *DocHandle) OnChange(fn func(ChangeEvent)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, l := range h.listeners {
			if l.id == id {
				h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
				return
			}
		}
	}
}

func (h *DocHandle) RemoveAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = nil
}

// queueLocked records an event for emit. h.mu must be held by the caller
// that applied the event's patches.
func (h *DocHandle) queueLocked(event ChangeEvent) {
	h.events = append(h.events, event)
}

// emit delivers queued events. One goroutine delivers at a time; others
// leave their events to it.
func (h *DocHandle) emit() {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return
	}
	h.draining = true
	for len(h.events) > 0 {
		event := h.events[0]
		h.events = h.events[1:]
		listeners := append([]listener(nil), h.listeners...)
		h.mu.Unlock()
		for _, l := range listeners {
			l.fn(event)
		}
		h.mu.Lock()
	}
	h.draining = false
	h.mu.Unlock()
}

func (h *DocHandle) load(ctx context.Context) {
	data, err := h.repo.storage.Load(ctx, h.id)
	if err != nil {
		glog.Infof("[repo]load %s error = %v\n", h.id, err)
		return
	}
	if data == nil {
		return
	}
	h.mu.Lock()
	patches, err := h.doc.Load(data)
	if err != nil {
		glog.Infof("[repo]load %s error = %v\n", h.id, err)
	}
	if !h.doc.Empty() {
		h.setStateLocked(StateReady)
	}
	if len(patches) > 0 {
		h.queueLocked(ChangeEvent{Handle: h, Patches: patches})
	}
	h.mu.Unlock()
	glog.V(2).Infof("[repo]loaded %s from storage\n", h.id)
	h.emit()
}

func (h *DocHandle) receive(msg *wire.Message) {
	h.mu.Lock()
	patches, err := h.doc.Apply(msg.Changes...)
	if err != nil {
		glog.Infof("[repo]apply %s from %s error = %v\n", h.id, msg.SenderID, err)
	}
	switch {
	case !h.doc.Empty():
		h.setStateLocked(StateReady)
	case msg.Reply && h.state == StateRequesting:
		h.setStateLocked(StateUnavailable)
	}
	var missing []*crdt.Change
	if msg.Reply {
		missing = h.doc.ChangesSince(msg.Clock)
	}
	if len(patches) > 0 {
		h.queueLocked(ChangeEvent{Handle: h, Patches: patches})
	}
	h.mu.Unlock()

	h.emit()
	if len(patches) > 0 {
		h.markDirty()
	}
	if len(missing) > 0 {
		glog.V(2).Infof("[repo]upload %d changes of %s\n", len(missing), h.id)
		h.repo.send(&wire.Message{Type: wire.TypeSync, DocumentID: string(h.id), Changes: missing})
	}
}

func (h *DocHandle) markDirty() {
	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *DocHandle) saver(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-h.wake:
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(saveDelay):
		case <-ctx.Done():
			return
		}
		if err := h.save(ctx); err != nil {
			glog.Infof("[repo]save %s error = %v\n", h.id, err)
		}
	}
}

func (h *DocHandle) save(ctx context.Context) error {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return nil
	}
	h.dirty = false
	data, err := h.doc.Save()
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.repo.storage.Save(ctx, h.id, data)
}
