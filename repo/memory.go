package repo

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/chee/typewriter/relay"
	"github.com/chee/typewriter/wire"
)

// MemoryNetwork connects a repo to a relay running in the same process.
type MemoryNetwork struct {
	relay *relay.Relay

	in    chan *wire.Message
	out   chan *wire.Message
	ready chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMemoryNetwork(r *relay.Relay) *MemoryNetwork {
	return &MemoryNetwork{
		relay: r,
		in:    make(chan *wire.Message, 1024),
		out:   make(chan *wire.Message, 1024),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (n *MemoryNetwork) Connect(ctx context.Context, peerID string) error {
	ctx, n.cancel = context.WithCancel(ctx)
	session := n.relay.Attach(ctx, func(msg *wire.Message) error {
		select {
		case n.in <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	go func() {
		defer close(n.done)
		defer session.Close()
		for {
			select {
			case msg := <-n.out:
				if err := session.Handle(msg); err != nil {
					glog.Infof("[mem]%s %s error = %v\n", peerID, msg.Type, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	close(n.ready)
	n.in <- &wire.Message{Type: wire.TypeConnected}
	return nil
}

func (n *MemoryNetwork) Ready() <-chan struct{} {
	return n.ready
}

func (n *MemoryNetwork) Receive() <-chan *wire.Message {
	return n.in
}

func (n *MemoryNetwork) Send(msg *wire.Message) error {
	select {
	case n.out <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (n *MemoryNetwork) Close() error {
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
			<-n.done
		}
	})
	return nil
}

// MemoryStorage keeps snapshots in process memory.
type MemoryStorage struct {
	mu   sync.Mutex
	docs map[DocumentID][]byte
	name string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{docs: make(map[DocumentID][]byte)}
}

func (s *MemoryStorage) Load(ctx context.Context, id DocumentID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) Save(ctx context.Context, id DocumentID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, id DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *MemoryStorage) SetIdentity(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

func (s *MemoryStorage) Identity() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, nil
}
