package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/editor"
	"github.com/chee/typewriter/locator"
	"github.com/chee/typewriter/notes"
	"github.com/chee/typewriter/repo"
)

// Frame types sent by the UI.
const (
	FrameNavigate    = "navigate"
	FrameTransaction = "transaction"
	FramePaste       = "paste"
	FramePointerDown = "pointerdown"
	FramePointerMove = "pointermove"
	FramePointerUp   = "pointerup"
	FrameClose       = "close"
)

var errNoPointer = errors.New("pointer frame without pointer")

// Frame is a message from the UI.
type Frame struct {
	Type         string                `json:"type"`
	Fragment     string                `json:"fragment,omitempty"`
	Transactions []editor.Transaction  `json:"transactions,omitempty"`
	Items        []notes.ClipboardItem `json:"items,omitempty"`
	Note         string                `json:"note,omitempty"`
	Pointer      *notes.PointerEvent   `json:"pointer,omitempty"`
}

// StateFrame is what the UI shows. It is pushed after every change.
type StateFrame struct {
	Type           string           `json:"type"`
	Fragment       string           `json:"fragment"`
	Text           string           `json:"text"`
	Selection      editor.Selection `json:"selection"`
	ScrollIntoView bool             `json:"scrollIntoView,omitempty"`
	Notes          string           `json:"notes"`
	Offline        bool             `json:"offline"`
}

type statusFrame struct {
	Type   string `json:"type"`
	Online bool   `json:"online"`
}

type errFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorFrame(err error) []byte {
	data, _ := json.Marshal(errFrame{Type: "error", Message: err.Error()})
	return data
}

func onlineFrame() []byte {
	data, _ := json.Marshal(statusFrame{Type: "status", Online: true})
	return data
}

// SessionOpener starts a session for the page at href, pushing frames
// through send.
type SessionOpener func(ctx context.Context, href string, send func([]byte)) (*Session, error)

// Session is one open page: the document it follows, the editor showing the
// text and the notes board.
type Session struct {
	send     func([]byte)
	follower *locator.Follower
	view     *editor.View
	bridge   *editor.Bridge
	board    *notes.Board

	mu          sync.Mutex
	removeNotes func()
	removeView  func()
}

func sessionOpener(engine locator.Engine, opts locator.Options) SessionOpener {
	return func(ctx context.Context, href string, send func([]byte)) (*Session, error) {
		return newSession(ctx, engine, href, opts, send)
	}
}

func newSession(ctx context.Context, engine locator.Engine, href string, opts locator.Options, send func([]byte)) (*Session, error) {
	loc, err := locator.NewURL(href)
	if err != nil {
		return nil, err
	}
	s := &Session{send: send, view: editor.NewView("")}
	// other sessions may share the handle; only this session's listeners go
	opts.Detach = s.detach
	s.follower, err = locator.Follow(ctx, engine, loc, opts)
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", href, err)
	}
	s.removeView = s.view.OnUpdate(func(u editor.Update) {
		s.push(u.DocChanged)
	})
	s.follower.Subscribe(s.bind)
	return s, nil
}

func (s *Session) bind(h *repo.DocHandle) {
	if s.board == nil {
		s.board = notes.NewBoard(h, nil)
		s.bridge = editor.Bind(s.view, h)
	} else {
		s.board.Rebind(h)
		s.bridge.Rebind(h)
	}
	remove := h.OnChange(s.changed)
	s.mu.Lock()
	s.removeNotes = remove
	s.mu.Unlock()
	glog.V(2).Infof("[agent]session bound to %s\n", h.ID())
	s.push(true)
}

func (s *Session) detach(old *repo.DocHandle) {
	s.mu.Lock()
	remove := s.removeNotes
	s.removeNotes = nil
	s.mu.Unlock()
	if remove != nil {
		remove()
	}
}

// changed pushes note changes; text changes arrive through the view.
func (s *Session) changed(e repo.ChangeEvent) {
	for _, p := range e.Patches {
		if p.Path == crdt.PathNotes {
			s.push(false)
			return
		}
	}
}

func (s *Session) State() (StateFrame, error) {
	state := s.view.State()
	overlay, err := s.board.Render()
	if err != nil {
		return StateFrame{}, err
	}
	return StateFrame{
		Type:      "state",
		Fragment:  s.follower.Location().Fragment(),
		Text:      state.Doc,
		Selection: state.Selection,
		Notes:     overlay,
		Offline:   s.follower.Offline(),
	}, nil
}

func (s *Session) push(scroll bool) {
	if s.board == nil {
		return
	}
	frame, err := s.State()
	if err != nil {
		glog.Errorf("[agent]state error = %v\n", err)
		return
	}
	frame.ScrollIntoView = scroll
	data, err := json.Marshal(frame)
	if err != nil {
		glog.Errorf("[agent]encode state error = %v\n", err)
		return
	}
	s.send(data)
}

// Handle applies one frame from the UI. Frames are handled one at a time in
// the order they arrive.
func (s *Session) Handle(ctx context.Context, data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameNavigate:
		return s.follower.Navigate(ctx, f.Fragment)
	case FrameTransaction:
		s.view.Dispatch(f.Transactions...)
		return nil
	case FramePaste:
		_, _, err := s.board.Paste(f.Items)
		return err
	case FramePointerDown:
		if f.Pointer == nil {
			return errNoPointer
		}
		_, err := s.board.PointerDown(f.Note, *f.Pointer)
		return err
	case FramePointerMove:
		if f.Pointer == nil {
			return errNoPointer
		}
		if d := s.board.Drag(f.Note); d != nil {
			d.Move(*f.Pointer)
			s.push(false)
		}
		return nil
	case FramePointerUp:
		if d := s.board.Drag(f.Note); d != nil {
			return d.Release()
		}
		return nil
	case FrameClose:
		return s.board.Close(f.Note)
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func (s *Session) Close() {
	s.follower.Close()
	s.bridge.Close()
	if s.removeView != nil {
		s.removeView()
	}
}
