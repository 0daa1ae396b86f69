// Package relay implements the sync relay peers connect to. A relay keeps the
// change log of every document it has seen and fans changes out to every
// session following the document, through a Broker so that several relay
// processes can serve the same documents.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
	"github.com/chee/typewriter/wire"
)

// ChangeLog stores the changes of each document. Append is idempotent on
// (document, actor, seq) and Load returns changes in append order.
type ChangeLog interface {
	Append(ctx context.Context, doc string, changes []*crdt.Change) error
	Load(ctx context.Context, doc string) ([]*crdt.Change, error)
}

// Broker fans encoded messages out to every subscriber of a document.
type Broker interface {
	Publish(ctx context.Context, doc string, payload []byte) error
	Subscribe(ctx context.Context, doc string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type Relay struct {
	log    ChangeLog
	broker Broker
}

func New(log ChangeLog, broker Broker) *Relay {
	return &Relay{log: log, broker: broker}
}

// Session is one connected peer. Send delivers messages to the peer; it is
// called from the session's subscription goroutines and must be safe for
// concurrent use.
type Session struct {
	relay  *Relay
	send   func(*wire.Message) error
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peerID string
	subs   map[string]Subscription
}

func (r *Relay) Attach(ctx context.Context, send func(*wire.Message) error) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		relay:  r,
		send:   send,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]Subscription),
	}
}

func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Handle processes one message from the peer.
func (s *Session) Handle(msg *wire.Message) error {
	s.mu.Lock()
	if s.peerID == "" {
		s.peerID = msg.SenderID
	}
	s.mu.Unlock()

	switch msg.Type {
	case wire.TypeJoin:
		return s.join(msg)
	case wire.TypeSync:
		return s.sync(msg)
	case wire.TypeLeave:
		s.leave(msg.DocumentID)
		return nil
	default:
		return fmt.Errorf("unexpected message type: %q", msg.Type)
	}
}

func (s *Session) join(msg *wire.Message) error {
	doc := msg.DocumentID

	// 1. Subscribe before loading so nothing published in between is missed.
	s.mu.Lock()
	_, joined := s.subs[doc]
	s.mu.Unlock()
	if !joined {
		sub, err := s.relay.broker.Subscribe(s.ctx, doc)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", doc, err)
		}
		s.mu.Lock()
		s.subs[doc] = sub
		s.mu.Unlock()
		go s.forward(doc, sub)
	}

	// 2. Answer with whatever the peer lacks and what the relay has.
	changes, err := s.relay.log.Load(s.ctx, doc)
	if err != nil {
		return fmt.Errorf("load %s: %w", doc, err)
	}
	clock := crdt.VersionVector{}
	var missing []*crdt.Change
	for _, c := range changes {
		if c.Seq > clock[c.Actor] {
			clock[c.Actor] = c.Seq
		}
		if c.Seq > msg.Clock[c.Actor] {
			missing = append(missing, c)
		}
	}
	glog.V(2).Infof("[relay]join %s doc=%s have=%d send=%d\n", s.PeerID(), doc, len(changes), len(missing))
	return s.send(&wire.Message{
		Type:       wire.TypeSync,
		DocumentID: doc,
		Clock:      clock,
		Changes:    missing,
		Reply:      true,
	})
}

func (s *Session) sync(msg *wire.Message) error {
	if len(msg.Changes) == 0 {
		return nil
	}
	if err := s.relay.log.Append(s.ctx, msg.DocumentID, msg.Changes); err != nil {
		return fmt.Errorf("append %s: %w", msg.DocumentID, err)
	}
	payload, err := wire.Encode(&wire.Message{
		Type:       wire.TypeSync,
		DocumentID: msg.DocumentID,
		SenderID:   msg.SenderID,
		Changes:    msg.Changes,
	})
	if err != nil {
		return err
	}
	return s.relay.broker.Publish(s.ctx, msg.DocumentID, payload)
}

func (s *Session) leave(doc string) {
	s.mu.Lock()
	sub, ok := s.subs[doc]
	delete(s.subs, doc)
	s.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// forward relays published messages to the peer, except its own.
func (s *Session) forward(doc string, sub Subscription) {
	for payload := range sub.Messages() {
		msg, err := wire.Decode(payload)
		if err != nil {
			glog.Errorf("[relay]bad payload on %s: %v", doc, err)
			continue
		}
		if msg.SenderID != "" && msg.SenderID == s.PeerID() {
			continue
		}
		// keep draining on error; the connection owner closes the session
		if err := s.send(msg); err != nil {
			glog.V(2).Infof("[relay]forward %s doc=%s error = %v\n", s.PeerID(), doc, err)
		}
	}
}

// Close drops every subscription of the session.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]Subscription)
	s.mu.Unlock()
	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Close())
	}
	if err := errors.Join(errs...); err != nil {
		glog.V(2).Infof("[relay]close %s error = %v\n", s.PeerID(), err)
	}
}
