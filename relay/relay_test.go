package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/wire"
)

type inbox chan *wire.Message

func (in inbox) send(msg *wire.Message) error {
	in <- msg
	return nil
}

func (in inbox) next(t *testing.T) *wire.Message {
	t.Helper()
	select {
	case msg := <-in:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (in inbox) empty(t *testing.T) {
	t.Helper()
	select {
	case msg := <-in:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func typed(actor string, s string) (*crdt.Doc, *crdt.Change) {
	d := crdt.New(actor)
	c, _ := d.Change("", func(tx *crdt.Tx) { tx.AppendText(s) })
	return d, c
}

func TestJoinAnswersWithMissingChanges(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	_, c := typed("alice", "hello")
	log.Append(ctx, "doc", []*crdt.Change{c})

	r := New(log, NewMemoryBroker())
	in := make(inbox, 8)
	s := r.Attach(ctx, in.send)
	defer s.Close()

	err := s.Handle(&wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "bob"})
	assert.Equal(t, err, nil)
	reply := in.next(t)
	assert.Equal(t, reply.Type, wire.TypeSync)
	assert.Equal(t, reply.Reply, true)
	assert.Equal(t, len(reply.Changes), 1)
	assert.Equal(t, reply.Clock, crdt.VersionVector{"alice": 1})

	err = s.Handle(&wire.Message{
		Type:       wire.TypeJoin,
		DocumentID: "doc",
		SenderID:   "bob",
		Clock:      crdt.VersionVector{"alice": 1},
	})
	assert.Equal(t, err, nil)
	reply = in.next(t)
	assert.Equal(t, len(reply.Changes), 0)
}

func TestSyncFansOutWithoutEcho(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	r := New(log, NewMemoryBroker())

	aliceIn, bobIn := make(inbox, 8), make(inbox, 8)
	alice := r.Attach(ctx, aliceIn.send)
	bob := r.Attach(ctx, bobIn.send)
	defer alice.Close()
	defer bob.Close()

	alice.Handle(&wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "alice"})
	bob.Handle(&wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "bob"})
	aliceIn.next(t)
	bobIn.next(t)

	_, c := typed("alice", "hi")
	err := alice.Handle(&wire.Message{
		Type:       wire.TypeSync,
		DocumentID: "doc",
		SenderID:   "alice",
		Changes:    []*crdt.Change{c},
	})
	assert.Equal(t, err, nil)

	got := bobIn.next(t)
	assert.Equal(t, got.SenderID, "alice")
	assert.Equal(t, len(got.Changes), 1)
	aliceIn.empty(t)

	stored, _ := log.Load(ctx, "doc")
	assert.Equal(t, len(stored), 1)

	// appending the same change again is a no-op
	alice.Handle(&wire.Message{Type: wire.TypeSync, DocumentID: "doc", SenderID: "alice", Changes: []*crdt.Change{c}})
	stored, _ = log.Load(ctx, "doc")
	assert.Equal(t, len(stored), 1)
}

func TestLeaveStopsForwarding(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryLog(), NewMemoryBroker())
	aliceIn, bobIn := make(inbox, 8), make(inbox, 8)
	alice := r.Attach(ctx, aliceIn.send)
	bob := r.Attach(ctx, bobIn.send)
	defer alice.Close()
	defer bob.Close()

	bob.Handle(&wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "bob"})
	bobIn.next(t)
	bob.Handle(&wire.Message{Type: wire.TypeLeave, DocumentID: "doc", SenderID: "bob"})

	_, c := typed("alice", "hi")
	alice.Handle(&wire.Message{Type: wire.TypeSync, DocumentID: "doc", SenderID: "alice", Changes: []*crdt.Change{c}})
	bobIn.empty(t)
}

func TestServeWS(t *testing.T) {
	r := New(NewMemoryLog(), NewMemoryBroker())
	server := httptest.NewServer(http.HandlerFunc(r.ServeWS))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		assert.Equal(t, err, nil)
		return conn
	}
	read := func(conn *websocket.Conn) *wire.Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		assert.Equal(t, err, nil)
		msg, err := wire.Decode(data)
		assert.Equal(t, err, nil)
		return msg
	}
	write := func(conn *websocket.Conn, msg *wire.Message) {
		data, err := wire.Encode(msg)
		assert.Equal(t, err, nil)
		assert.Equal(t, conn.WriteMessage(websocket.TextMessage, data), nil)
	}

	a, b := dial(), dial()
	defer a.Close()
	defer b.Close()

	write(a, &wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "alice"})
	write(b, &wire.Message{Type: wire.TypeJoin, DocumentID: "doc", SenderID: "bob"})
	assert.Equal(t, read(a).Reply, true)
	assert.Equal(t, read(b).Reply, true)

	_, c := typed("alice", "over the wire")
	write(a, &wire.Message{Type: wire.TypeSync, DocumentID: "doc", SenderID: "alice", Changes: []*crdt.Change{c}})

	got := read(b)
	d := crdt.New("bob")
	_, err := d.Apply(got.Changes...)
	assert.Equal(t, err, nil)
	assert.Equal(t, d.Text(), "over the wire")
}
