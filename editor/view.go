package editor

import (
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Disallowed lists the user events a local transaction may not carry.
var Disallowed = []string{"undo", "redo", "delete", "move", "input.paste", "input.drop"}

// Update is what listeners hear after a dispatch.
type Update struct {
	State        State
	Transactions []Transaction
	DocChanged   bool
}

type viewListener struct {
	id int
	fn func(Update)
}

// View is the visible editor state of one session. All transactions, local
// or remote, go through Dispatch.
type View struct {
	mu        sync.Mutex
	state     State
	mirror    func(insert string)
	listeners []viewListener
	nextID    int
}

// NewView shows doc with the cursor at its end.
func NewView(doc string) *View {
	v := &View{state: State{Doc: doc}}
	v.state.Selection = Cursor(v.state.Len())
	return v
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// SetMirror sets where accepted local text goes. nil stops mirroring.
func (v *View) SetMirror(fn func(insert string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mirror = fn
}

// OnUpdate registers fn for every dispatch that applied at least one
// transaction.
func (v *View) OnUpdate(fn func(Update)) (remove func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.listeners = append(v.listeners, viewListener{id: id, fn: fn})
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, l := range v.listeners {
			if l.id == id {
				v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dispatch applies trs in order and returns the transactions that were
// applied, after rewriting.
//
// Local transactions carrying a disallowed user event are dropped. Local
// changes are rewritten into a single insertion at the end of the document
// and deletions are discarded. Whenever a transaction changes the document
// the selection ends up at the new end and is scrolled into view. Accepted
// local text is then mirrored into the shared document.
func (v *View) Dispatch(trs ...Transaction) []Transaction {
	v.mu.Lock()
	var (
		applied  []Transaction
		mirrored strings.Builder
		changed  bool
	)
	for _, tr := range trs {
		if !tr.Remote && disallowed(tr) {
			glog.V(2).Infof("[editor]dropped %s\n", tr.UserEvent)
			continue
		}
		if !tr.Remote {
			tr = appendOnly(tr, v.state.Len())
		}
		if tr.DocChanged() {
			v.state.Doc = applyChanges(v.state.Doc, tr.Changes)
			end := Cursor(v.state.Len())
			tr.Selection = &end
			tr.ScrollIntoView = true
			v.state.Selection = end
			changed = true
			if !tr.Remote {
				mirrored.WriteString(tr.Changes[0].Insert)
			}
		} else if tr.Selection != nil {
			v.state.Selection = tr.Selection.clamp(v.state.Len())
		}
		applied = append(applied, tr)
	}
	state := v.state
	mirror := v.mirror
	listeners := append([]viewListener(nil), v.listeners...)
	v.mu.Unlock()

	if mirror != nil && mirrored.Len() > 0 {
		mirror(mirrored.String())
	}
	if len(applied) > 0 {
		update := Update{State: state, Transactions: applied, DocChanged: changed}
		for _, l := range listeners {
			l.fn(update)
		}
	}
	return applied
}

func disallowed(tr Transaction) bool {
	for _, event := range Disallowed {
		if tr.IsUserEvent(event) {
			return true
		}
	}
	return false
}

// appendOnly rewrites the changes of a local transaction as one insertion at
// end, keeping inserted text in order and dropping deletions.
func appendOnly(tr Transaction, end int) Transaction {
	if len(tr.Changes) == 0 {
		return tr
	}
	var insert strings.Builder
	for _, c := range tr.Changes {
		insert.WriteString(c.Insert)
	}
	if insert.Len() == 0 {
		tr.Changes = nil
		return tr
	}
	tr.Changes = []Change{{From: end, To: end, Insert: insert.String()}}
	return tr
}
