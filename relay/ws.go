package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chee/typewriter/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs a relay session over it until the
// peer goes away.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		glog.Infof("[relay]upgrade error = %v\n", err)
		return
	}
	connID := uuid.NewString()
	glog.V(2).Infof("[relay]open %s from %s\n", connID, req.RemoteAddr)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	send := make(chan []byte, sendBuffer)
	session := r.Attach(ctx, func(msg *wire.Message) error {
		data, err := wire.Encode(msg)
		if err != nil {
			return err
		}
		select {
		case send <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	defer session.Close()

	go writePump(ctx, conn, send)
	readPump(conn, session, connID)
	glog.V(2).Infof("[relay]close %s peer=%s\n", connID, session.PeerID())
}

func readPump(conn *websocket.Conn, session *Session, connID string) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Infof("[relay]%s read error = %v\n", connID, err)
			}
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			glog.Infof("[relay]%s drop = %v\n", connID, err)
			continue
		}
		if err := session.Handle(msg); err != nil {
			glog.Errorf("[relay]%s %s error = %v", connID, msg.Type, err)
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
