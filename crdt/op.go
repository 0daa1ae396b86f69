package crdt

// OpKind names what an Op does to the document.
type OpKind string

const (
	OpInsert     OpKind = "ins"       // insert one character into text after After
	OpDelete     OpKind = "del"       // tombstone the text character Target
	OpNoteAdd    OpKind = "note.add"  // create the note Note
	OpNoteMove   OpKind = "note.move" // set the position of Note
	OpNoteRemove OpKind = "note.del"  // remove Note
)

// Op is a single CRDT operation. Which fields are meaningful depends on Kind.
type Op struct {
	Kind OpKind `json:"k"`
	ID   ID     `json:"id"`

	// Text operations.
	After  ID     `json:"after"`
	Value  string `json:"v,omitempty"`
	Target ID     `json:"target"`

	// Note operations.
	Note  string  `json:"note,omitempty"`
	Color string  `json:"color,omitempty"`
	Text  string  `json:"text,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
}

// Change is one atomic local mutation, the unit of replication. A change is
// identified by (Actor, Seq). Its ops carry consecutive Lamport counters
// starting at Start. Deps is the version vector the actor had observed when it
// made the change; a change is only applied once Deps is covered.
type Change struct {
	Actor   string        `json:"actor"`
	Seq     uint64        `json:"seq"`
	Start   uint64        `json:"start"`
	Deps    VersionVector `json:"deps"`
	Time    int64         `json:"time"`
	Message string        `json:"message,omitempty"`
	Ops     []Op          `json:"ops"`
}

func (c *Change) lastCounter() uint64 {
	if len(c.Ops) == 0 {
		return c.Start
	}
	return c.Start + uint64(len(c.Ops)) - 1
}
