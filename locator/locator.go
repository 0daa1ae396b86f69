// Package locator follows the document named by a location's fragment. The
// fragment is the only address of a document: a missing or unreadable one
// means "start a new document", and the new document's address is written
// back in place.
package locator

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/repo"
)

// InitialLines is how many empty lines a new document starts with.
const InitialLines = 24

var fragmentPattern = regexp.MustCompile(`#(?:automerge:)?([A-Za-z0-9]+)`)

// Engine is the part of the repo the locator needs.
type Engine interface {
	Create(init func(tx *crdt.Tx)) *repo.DocHandle
	Find(id repo.DocumentID) *repo.DocHandle
}

// Parse extracts the document id from a fragment.
func Parse(fragment string) (repo.DocumentID, bool) {
	m := fragmentPattern.FindStringSubmatch(fragment)
	if m == nil {
		return "", false
	}
	return repo.DocumentID(m[1]), true
}

func seed(tx *crdt.Tx) {
	tx.AppendText(strings.Repeat("\n", InitialLines))
}

// Resolve returns the handle for the document named by loc, creating one and
// rewriting loc when there is none, and waits until it is ready. On error the
// handle is still returned when there is one.
func Resolve(ctx context.Context, engine Engine, loc Location) (*repo.DocHandle, error) {
	var h *repo.DocHandle
	if id, ok := Parse(loc.Fragment()); ok {
		h = engine.Find(id)
	} else {
		h = engine.Create(seed)
		loc.ReplaceFragment("#" + h.URL())
		glog.V(2).Infof("[locator]created %s\n", h.ID())
	}
	if err := h.WhenReady(ctx); err != nil {
		return h, err
	}
	return h, nil
}

// Options tune how a Follower waits for and lets go of documents.
type Options struct {
	// ReadyTimeout bounds each wait for a document. Zero waits for as long
	// as the caller's context allows. When it expires the document is bound
	// anyway and the follower reports Offline.
	ReadyTimeout time.Duration

	// Detach releases the outgoing document on a swap or on Close. The
	// default removes every listener of the handle.
	Detach func(old *repo.DocHandle)
}

func removeAllListeners(h *repo.DocHandle) {
	h.RemoveAllListeners()
}

type subscriber struct {
	id int
	fn func(*repo.DocHandle)
}

// Follower holds the current document of a session. It is created once the
// first document is ready, replaced by FragmentChanged and torn down by Close.
type Follower struct {
	engine Engine
	loc    Location
	opts   Options

	mu      sync.Mutex
	handle  *repo.DocHandle
	offline bool
	subs    []subscriber
	nextID  int
	closed  bool
}

// Follow resolves the first document of loc.
func Follow(ctx context.Context, engine Engine, loc Location, opts Options) (*Follower, error) {
	if opts.Detach == nil {
		opts.Detach = removeAllListeners
	}
	f := &Follower{engine: engine, loc: loc, opts: opts}
	h, offline, err := f.resolve(ctx)
	if err != nil {
		return nil, err
	}
	f.handle = h
	f.offline = offline
	return f, nil
}

func (f *Follower) resolve(ctx context.Context) (*repo.DocHandle, bool, error) {
	waitCtx := ctx
	if f.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.opts.ReadyTimeout)
		defer cancel()
	}
	h, err := Resolve(waitCtx, f.engine, f.loc)
	switch {
	case err == nil:
		return h, false, nil
	case ctx.Err() != nil:
		return nil, false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, repo.ErrUnavailable):
		glog.Infof("[locator]%s not ready after %s, continuing offline\n", h.ID(), f.opts.ReadyTimeout)
		return h, true, nil
	default:
		return nil, false, err
	}
}

// Handle returns the current document.
func (f *Follower) Handle() *repo.DocHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

// Offline reports whether the current document was bound before it was
// ready.
func (f *Follower) Offline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline && f.handle.State() == repo.StateReady {
		f.offline = false
	}
	return f.offline
}

// Subscribe calls fn with the current handle now and again after every
// document swap. Subscribers are called in registration order.
func (f *Follower) Subscribe(fn func(*repo.DocHandle)) (unsubscribe func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	h := f.handle
	f.mu.Unlock()

	fn(h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

// FragmentChanged rebinds to the document now named by the location: the new
// document is resolved, the old one is detached and every subscriber is told.
// When resolving fails the old document stays bound.
func (f *Follower) FragmentChanged(ctx context.Context) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return repo.ErrClosed
	}

	h, offline, err := f.resolve(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return repo.ErrClosed
	}
	old := f.handle
	f.handle = h
	f.offline = offline
	subs := append([]subscriber(nil), f.subs...)
	f.mu.Unlock()

	if old != nil {
		f.opts.Detach(old)
	}

	glog.V(2).Infof("[locator]now following %s\n", h.ID())
	for _, s := range subs {
		s.fn(h)
	}
	return nil
}

// Navigate moves the location to fragment and follows it. Locations that
// cannot keep history are rewritten in place.
func (f *Follower) Navigate(ctx context.Context, fragment string) error {
	if n, ok := f.loc.(Navigator); ok {
		n.PushFragment(fragment)
	} else {
		f.loc.ReplaceFragment(fragment)
	}
	return f.FragmentChanged(ctx)
}

// Location returns the followed location.
func (f *Follower) Location() Location {
	return f.loc
}

// Close detaches from the current document and drops every subscriber.
func (f *Follower) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	h := f.handle
	f.subs = nil
	f.mu.Unlock()
	if h != nil {
		f.opts.Detach(h)
	}
}
