package locator

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Location is where the current document address lives. Fragments include
// the leading '#', or are empty.
type Location interface {
	Fragment() string
	// ReplaceFragment rewrites the fragment in place, without adding a
	// history entry.
	ReplaceFragment(fragment string)
}

// Navigator is a Location that can also move to a new fragment, adding a
// history entry.
type Navigator interface {
	Location
	PushFragment(fragment string)
}

// URL is a Location backed by a URL and a session history.
type URL struct {
	mu      sync.Mutex
	u       *url.URL
	history []string
}

func NewURL(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse location %q: %w", raw, err)
	}
	return &URL{u: u, history: []string{u.String()}}, nil
}

func (l *URL) Fragment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.u.Fragment == "" {
		return ""
	}
	return "#" + l.u.Fragment
}

func (l *URL) ReplaceFragment(fragment string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.u.Fragment = strings.TrimPrefix(fragment, "#")
	l.u.RawFragment = ""
	l.history[len(l.history)-1] = l.u.String()
}

func (l *URL) PushFragment(fragment string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.u.Fragment = strings.TrimPrefix(fragment, "#")
	l.u.RawFragment = ""
	l.history = append(l.history, l.u.String())
}

func (l *URL) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.String()
}

// History returns the session history, oldest first.
func (l *URL) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.history...)
}
