// Package editor keeps the visible text of a session and holds it to the
// typewriter discipline: local edits only ever add text at the end, and the
// selection stays pinned to the end whenever the text changes.
package editor

import (
	"strings"
	"unicode/utf8"
)

// Change replaces runes [From, To) with Insert. Changes in a transaction are
// applied one after the other, each against the result of the previous one.
type Change struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Insert string `json:"insert,omitempty"`
}

func (c Change) empty() bool {
	return c.From == c.To && c.Insert == ""
}

type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Cursor is an empty selection at pos.
func Cursor(pos int) Selection {
	return Selection{Anchor: pos, Head: pos}
}

func (s Selection) clamp(n int) Selection {
	return Selection{Anchor: clamp(s.Anchor, 0, n), Head: clamp(s.Head, 0, n)}
}

// Transaction is one update to the visible state. UserEvent names the input
// that produced it, dotted from general to specific ("input.type",
// "delete.backward"). Remote transactions come from the shared document.
type Transaction struct {
	Changes        []Change   `json:"changes,omitempty"`
	Selection      *Selection `json:"selection,omitempty"`
	UserEvent      string     `json:"userEvent,omitempty"`
	ScrollIntoView bool       `json:"scrollIntoView,omitempty"`
	Remote         bool       `json:"-"`
}

// IsUserEvent reports whether the transaction's user event is event or one
// of its refinements, so "delete" matches "delete.backward".
func (tr Transaction) IsUserEvent(event string) bool {
	return tr.UserEvent == event || strings.HasPrefix(tr.UserEvent, event+".")
}

func (tr Transaction) DocChanged() bool {
	for _, c := range tr.Changes {
		if !c.empty() {
			return true
		}
	}
	return false
}

// State is what the view shows.
type State struct {
	Doc       string    `json:"doc"`
	Selection Selection `json:"selection"`
}

// Len is the document length in runes.
func (s State) Len() int {
	return utf8.RuneCountInString(s.Doc)
}

// AtEnd reports whether both ends of the selection sit at the end of the
// document.
func (s State) AtEnd() bool {
	n := s.Len()
	return s.Selection.Anchor == n && s.Selection.Head == n
}

func applyChanges(doc string, changes []Change) string {
	if len(changes) == 0 {
		return doc
	}
	runes := []rune(doc)
	for _, c := range changes {
		from := clamp(c.From, 0, len(runes))
		to := clamp(c.To, from, len(runes))
		insert := []rune(c.Insert)
		next := make([]rune, 0, len(runes)-(to-from)+len(insert))
		next = append(next, runes[:from]...)
		next = append(next, insert...)
		next = append(next, runes[to:]...)
		runes = next
	}
	return string(runes)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
