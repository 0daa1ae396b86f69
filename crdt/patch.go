package crdt

import "unicode/utf8"

const (
	PathText  = "text"
	PathNotes = "postits"
)

// Patch describes the visible effect of applied operations. Text patches are
// splices in rune positions, each relative to the text left by the previous
// patch. Note patches name the note that was added, moved or removed.
type Patch struct {
	Path   string `json:"path"`
	Index  int    `json:"index"`
	Delete int    `json:"delete,omitempty"`
	Insert string `json:"insert,omitempty"`
	Note   string `json:"note,omitempty"`
}

type patchList struct {
	list []Patch
}

func (p *patchList) last() *Patch {
	if len(p.list) == 0 {
		return nil
	}
	return &p.list[len(p.list)-1]
}

func (p *patchList) insert(pos int, s string) {
	if l := p.last(); l != nil && l.Path == PathText && l.Delete == 0 &&
		l.Index+utf8.RuneCountInString(l.Insert) == pos {
		l.Insert += s
		return
	}
	p.list = append(p.list, Patch{Path: PathText, Index: pos, Insert: s})
}

func (p *patchList) delete(pos int) {
	if l := p.last(); l != nil && l.Path == PathText && l.Insert == "" {
		switch {
		case l.Index == pos:
			l.Delete++
			return
		case l.Index == pos+1:
			l.Index = pos
			l.Delete++
			return
		}
	}
	p.list = append(p.list, Patch{Path: PathText, Index: pos, Delete: 1})
}

func (p *patchList) note(id string) {
	p.list = append(p.list, Patch{Path: PathNotes, Note: id})
}
