// Package repo is the document store: it owns every document this peer
// follows, keeps them in local storage and in sync with the relay through a
// network adapter.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/wire"
)

var (
	ErrClosed      = errors.New("repo: closed")
	ErrUnavailable = errors.New("repo: document unavailable")
)

// URLPrefix is the scheme of document URLs.
const URLPrefix = "automerge:"

type DocumentID string

func NewDocumentID() DocumentID {
	return DocumentID(ulid.Make().String())
}

func (id DocumentID) URL() string {
	return URLPrefix + string(id)
}

// ParseURL accepts a document URL or a bare id.
func ParseURL(s string) DocumentID {
	return DocumentID(strings.TrimPrefix(s, URLPrefix))
}

// NetworkAdapter connects the repo to remote peers. Receive delivers incoming
// messages, plus a local wire.TypeConnected message every time the transport
// (re)connects. Send must not block on the receive path.
type NetworkAdapter interface {
	Connect(ctx context.Context, peerID string) error
	Ready() <-chan struct{}
	Send(msg *wire.Message) error
	Receive() <-chan *wire.Message
	Close() error
}

// StorageAdapter persists document snapshots. Load returns nil data for an
// unknown document.
type StorageAdapter interface {
	Load(ctx context.Context, id DocumentID) ([]byte, error)
	Save(ctx context.Context, id DocumentID, data []byte) error
	Remove(ctx context.Context, id DocumentID) error
}

// IdentityStore is implemented by storage that can hold this peer's name.
type IdentityStore interface {
	Identity() (string, error)
}

type Config struct {
	// Network is optional; without it the repo is local only.
	Network NetworkAdapter
	// Storage defaults to in-memory storage.
	Storage StorageAdapter
	// PeerID names this peer. When empty it is read from Storage if that
	// is an IdentityStore, and otherwise generated.
	PeerID string
	// NetworkWait bounds how long Start waits for the network. Zero waits
	// until the network is ready or ctx is done.
	NetworkWait time.Duration
}

type Repo struct {
	peerID  string
	network NetworkAdapter
	storage StorageAdapter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[DocumentID]*DocHandle
	closed  bool
}

// New builds a repo without touching the network. Most callers want Start.
func New(cfg Config) *Repo {
	storage := cfg.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	peerID := cfg.PeerID
	if peerID == "" {
		if ids, ok := storage.(IdentityStore); ok {
			name, err := ids.Identity()
			if err != nil {
				glog.Infof("[repo]read identity error = %v\n", err)
			}
			peerID = name
		}
	}
	if peerID == "" {
		peerID = "peer-" + uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Repo{
		peerID:  peerID,
		network: cfg.Network,
		storage: storage,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[DocumentID]*DocHandle),
	}
}

// Start builds a repo, connects its network and waits until the network
// reports ready.
func Start(ctx context.Context, cfg Config) (*Repo, error) {
	r := New(cfg)
	if r.network == nil {
		return r, nil
	}
	if err := r.network.Connect(r.ctx, r.peerID); err != nil {
		r.Close()
		return nil, fmt.Errorf("connect network: %w", err)
	}
	r.wg.Add(1)
	go r.receiveLoop()

	var timeout <-chan time.Time
	if cfg.NetworkWait > 0 {
		timer := time.NewTimer(cfg.NetworkWait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-r.network.Ready():
		glog.Infof("[repo]%s network ready\n", r.peerID)
	case <-timeout:
		glog.Infof("[repo]%s network not ready after %s, continuing offline\n", r.peerID, cfg.NetworkWait)
	case <-ctx.Done():
		r.Close()
		return nil, ctx.Err()
	}
	return r, nil
}

func (r *Repo) PeerID() string {
	return r.peerID
}

// NetworkReady is closed once the network has connected. It never closes for
// a repo without a network.
func (r *Repo) NetworkReady() <-chan struct{} {
	if r.network == nil {
		return nil
	}
	return r.network.Ready()
}

// Create starts a new document initialised by init. The handle is ready at
// once.
func (r *Repo) Create(init func(tx *crdt.Tx)) *DocHandle {
	id := NewDocumentID()
	h := newHandle(r, id)
	h.doc.Change("create", init)
	h.setState(StateReady)

	r.mu.Lock()
	r.handles[id] = h
	live := r.track(h)
	r.mu.Unlock()
	if !live {
		return h
	}

	glog.V(2).Infof("[repo]create %s\n", id)
	h.markDirty()
	// the relay answers with its clock and we upload what it lacks
	r.join(h)
	return h
}

// Find returns the handle for id, loading it from storage and asking the
// network for it the first time.
func (r *Repo) Find(id DocumentID) *DocHandle {
	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return h
	}
	h := newHandle(r, id)
	r.handles[id] = h
	live := r.track(h)
	if live {
		r.wg.Add(1)
	}
	r.mu.Unlock()
	if !live {
		h.setState(StateUnavailable)
		return h
	}

	go func() {
		defer r.wg.Done()
		h.load(r.ctx)
		r.join(h)
	}()
	return h
}

// track starts the background saver of a new handle. It reports false once
// the repo is closed. r.mu must be held.
func (r *Repo) track(h *DocHandle) bool {
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go h.saver(r.ctx, &r.wg)
	return true
}

// Handles returns every handle the repo follows.
func (r *Repo) Handles() []*DocHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*DocHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}

func (r *Repo) handle(id DocumentID) *DocHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

// join asks the network for a document, offering what we already have.
func (r *Repo) join(h *DocHandle) {
	if r.network == nil {
		h.mu.Lock()
		if h.state != StateReady {
			h.setStateLocked(StateUnavailable)
		}
		h.mu.Unlock()
		return
	}
	h.mu.Lock()
	if h.state == StateLoading {
		h.setStateLocked(StateRequesting)
	}
	clock := h.doc.Clock()
	h.mu.Unlock()
	r.send(&wire.Message{Type: wire.TypeJoin, DocumentID: string(h.id), Clock: clock})
}

func (r *Repo) send(msg *wire.Message) {
	if r.network == nil {
		return
	}
	msg.SenderID = r.peerID
	if err := r.network.Send(msg); err != nil {
		glog.V(2).Infof("[repo]send %s %s error = %v\n", msg.Type, msg.DocumentID, err)
	}
}

func (r *Repo) receiveLoop() {
	defer r.wg.Done()
	for {
		select {
		case msg, ok := <-r.network.Receive():
			if !ok {
				return
			}
			r.receive(msg)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Repo) receive(msg *wire.Message) {
	switch msg.Type {
	case wire.TypeConnected:
		// the relay forgot us; follow everything again
		for _, h := range r.Handles() {
			r.join(h)
		}
	case wire.TypeSync:
		h := r.handle(DocumentID(msg.DocumentID))
		if h == nil {
			glog.V(2).Infof("[repo]sync for unknown %s\n", msg.DocumentID)
			return
		}
		h.receive(msg)
	default:
		glog.V(2).Infof("[repo]ignore %s\n", msg.Type)
	}
}

// Flush writes every document with unsaved changes to storage.
func (r *Repo) Flush(ctx context.Context) error {
	var errs []error
	for _, h := range r.Handles() {
		errs = append(errs, h.save(ctx))
	}
	return errors.Join(errs...)
}

// Close stops syncing, flushes storage and closes the network.
func (r *Repo) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	var errs []error
	if r.network != nil {
		errs = append(errs, r.network.Close())
	}
	r.wg.Wait()
	errs = append(errs, r.Flush(context.Background()))
	return errors.Join(errs...)
}
