package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/chee/typewriter/wire"
)

var ErrSendBufferFull = errors.New("repo: send buffer full")

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 256
)

// WebSocketNetwork talks to one relay over a websocket. It redials with
// exponential backoff for as long as it is connected.
type WebSocketNetwork struct {
	url    string
	dialer *websocket.Dialer

	in    chan *wire.Message
	send  chan []byte
	ready chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewWebSocketNetwork(url string) *WebSocketNetwork {
	return &WebSocketNetwork{
		url:    url,
		dialer: websocket.DefaultDialer,
		in:     make(chan *wire.Message, wsSendBuffer),
		send:   make(chan []byte, wsSendBuffer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (n *WebSocketNetwork) Connect(ctx context.Context, peerID string) error {
	ctx, n.cancel = context.WithCancel(ctx)
	go n.run(ctx, peerID)
	return nil
}

func (n *WebSocketNetwork) Ready() <-chan struct{} {
	return n.ready
}

func (n *WebSocketNetwork) Receive() <-chan *wire.Message {
	return n.in
}

// Send queues msg for the relay. While disconnected messages wait in the
// queue; when it is full they are dropped, and the clock exchange of the next
// join recovers them.
func (n *WebSocketNetwork) Send(msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case n.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (n *WebSocketNetwork) Close() error {
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
			<-n.done
		}
	})
	return nil
}

func (n *WebSocketNetwork) run(ctx context.Context, peerID string) {
	defer close(n.done)
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	for {
		conn, _, err := n.dialer.DialContext(ctx, n.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			glog.Infof("[ws]%s dial %s error = %v, retry in %s\n", peerID, n.url, err, wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()
		glog.Infof("[ws]%s connected to %s\n", peerID, n.url)
		n.readyOnce.Do(func() { close(n.ready) })
		select {
		case n.in <- &wire.Message{Type: wire.TypeConnected}:
		case <-ctx.Done():
			conn.Close()
			return
		}
		n.serve(ctx, conn, peerID)
		if ctx.Err() != nil {
			return
		}
	}
}

// serve pumps messages until the connection fails or ctx is done.
func (n *WebSocketNetwork) serve(ctx context.Context, conn *websocket.Conn, peerID string) {
	stop := make(chan struct{})
	go func() {
		defer conn.Close()
		for {
			select {
			case data := <-n.send:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					glog.Infof("[ws]%s-> error = %v\n", peerID, err)
					return
				}
				glog.V(2).Infof("[ws]%s->\n", peerID)
			case <-ctx.Done():
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				glog.Infof("[ws]%s<- error = %v\n", peerID, err)
			}
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			glog.Infof("[ws]%s<- drop = %v\n", peerID, err)
			continue
		}
		glog.V(2).Infof("[ws]%s<- %s %s\n", peerID, msg.Type, msg.DocumentID)
		select {
		case n.in <- msg:
		case <-ctx.Done():
			return
		}
	}
}
