package relay

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/chee/typewriter/crdt"
)

type changeKey struct {
	actor string
	seq   uint64
}

// MemoryLog is a ChangeLog held in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	changes map[string][]*crdt.Change
	seen    map[string]map[changeKey]bool
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		changes: make(map[string][]*crdt.Change),
		seen:    make(map[string]map[changeKey]bool),
	}
}

func (l *MemoryLog) Append(ctx context.Context, doc string, changes []*crdt.Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := l.seen[doc]
	if seen == nil {
		seen = make(map[changeKey]bool)
		l.seen[doc] = seen
	}
	for _, c := range changes {
		key := changeKey{c.Actor, c.Seq}
		if seen[key] {
			continue
		}
		seen[key] = true
		l.changes[doc] = append(l.changes[doc], c)
	}
	return nil
}

func (l *MemoryLog) Load(ctx context.Context, doc string) ([]*crdt.Change, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*crdt.Change(nil), l.changes[doc]...), nil
}

// MemoryBroker is a Broker for a single relay process.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]bool)}
}

type memorySubscription struct {
	broker *MemoryBroker
	doc    string
	ch     chan []byte
	once   sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.doc], s)
		s.broker.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, doc string) (Subscription, error) {
	sub := &memorySubscription{broker: b, doc: doc, ch: make(chan []byte, 256)}
	b.mu.Lock()
	if b.subs[doc] == nil {
		b.subs[doc] = make(map[*memorySubscription]bool)
	}
	b.subs[doc][sub] = true
	b.mu.Unlock()
	return sub, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, doc string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[doc] {
		select {
		case sub.ch <- payload:
		default:
			glog.Infof("[broker]drop %s: subscriber is full\n", doc)
		}
	}
	return nil
}
