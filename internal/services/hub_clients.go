package services

import (
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsSendBuffer = 32
)

// wsConn is the part of *websocket.Conn the pumps use.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type WSClient struct {
	id   string
	conn wsConn
	send chan []byte
}

func newWSClient(id string, conn wsConn) *WSClient {
	return &WSClient{id: id, conn: conn, send: make(chan []byte, wsSendBuffer)}
}

func (c *WSClient) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services pongs and detects the peer going away.
func (c *WSClient) readPump(onDone func()) {
	defer onDone()
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
