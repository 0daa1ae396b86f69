// Package wire defines the sync messages exchanged between peers and the
// relay. Messages travel as JSON text frames.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/chee/typewriter/crdt"
)

type MessageType string

const (
	// Join asks the relay to follow a document. Clock is what the peer
	// already has; the relay answers with a Sync carrying what it lacks and
	// the relay's own clock.
	TypeJoin MessageType = "join"
	// Sync carries changes for a document. A Sync answering a Join has Reply
	// set.
	TypeSync MessageType = "sync"
	// Leave stops following a document.
	TypeLeave MessageType = "leave"
	// Connected is generated locally by a network adapter each time its
	// transport (re)connects. It never crosses the wire.
	TypeConnected MessageType = "connected"
)

// Message is the sync envelope. SenderID is the peer that produced it, used
// by the relay to avoid echoing a peer's own changes back to it.
type Message struct {
	Type       MessageType        `json:"type"`
	DocumentID string             `json:"documentId,omitempty"`
	SenderID   string             `json:"senderId,omitempty"`
	Clock      crdt.VersionVector `json:"clock,omitempty"`
	Changes    []*crdt.Change     `json:"changes,omitempty"`
	Reply      bool               `json:"reply,omitempty"`
}

func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case TypeJoin, TypeSync, TypeLeave:
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
	if msg.DocumentID == "" {
		return nil, fmt.Errorf("%s message without document", msg.Type)
	}
	return &msg, nil
}
