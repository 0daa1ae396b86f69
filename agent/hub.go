package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 1 << 20
)

// Client is one connected UI.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue queues a frame for the write pump. Frames for a client that is
// gone or too slow are dropped.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		glog.Infof("[agent]%s send buffer full, dropping frame\n", c.id)
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			glog.Infof("[agent]client %s registered, total %d\n", client.id, len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				glog.Infof("[agent]client %s unregistered, total %d\n", client.id, len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				client.enqueue(message)
			}
		case <-ctx.Done():
			for client := range h.clients {
				client.closeSend()
			}
			return
		}
	}
}

func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveSession upgrades a UI connection and runs a session on it. The page
// passes its full address, fragment included, as the href query parameter.
func serveSession(hub *Hub, open SessionOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Infof("[agent]upgrade error = %v\n", err)
			return
		}
		client := &Client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 256)}
		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump(hub, open, r.URL.Query().Get("href"))
	}
}

func (c *Client) readPump(hub *Hub, open SessionOpener, href string) {
	defer func() {
		hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the connection is read from the start so that a page leaving while its
	// document is still loading cancels the session
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan []byte, 16)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					glog.Infof("[agent]%s read error = %v\n", c.id, err)
				}
				return
			}
			select {
			case frames <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	session, err := open(ctx, href, c.enqueue)
	if err != nil {
		glog.Infof("[agent]%s session error = %v\n", c.id, err)
		c.enqueue(errorFrame(err))
		return
	}
	defer session.Close()

	for message := range frames {
		if err := session.Handle(ctx, message); err != nil {
			glog.V(2).Infof("[agent]%s frame error = %v\n", c.id, err)
			c.enqueue(errorFrame(err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
