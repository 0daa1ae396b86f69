package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// ID is a globally unique identifier for an operation, combining a Lamport
// counter and the actor that created it. IDs are totally ordered: the counter
// first, then the actor as a tie-break.
type ID struct {
	Counter uint64 `json:"c"`
	Actor   string `json:"a"`
}

// Head is the zero ID. As an insertion anchor it means "start of text".
var Head = ID{}

func (id ID) IsHead() bool {
	return id.Counter == 0 && id.Actor == ""
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Actor < other.Actor
}

func (id ID) String() string {
	if id.IsHead() {
		return "head"
	}
	return fmt.Sprintf("%d@%s", id.Counter, id.Actor)
}

// VersionVector maps each actor to the highest change sequence number seen
// from it.
type VersionVector map[string]uint64

func (v VersionVector) Clone() VersionVector {
	c := make(VersionVector, len(v))
	for actor, seq := range v {
		c[actor] = seq
	}
	return c
}

// Covers reports whether every change counted by other is also counted by v.
func (v VersionVector) Covers(other VersionVector) bool {
	for actor, seq := range other {
		if v[actor] < seq {
			return false
		}
	}
	return true
}

func (v VersionVector) String() string {
	actors := make([]string, 0, len(v))
	for actor := range v {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	parts := make([]string, len(actors))
	for i, actor := range actors {
		parts[i] = fmt.Sprintf("%s:%d", actor, v[actor])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
