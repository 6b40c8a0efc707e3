package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func newConn(ws *websocket.Conn, writeWait time.Duration) *conn {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &conn{ws: ws, writeWait: writeWait}
}

func (c *conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeWait))
	return c.ws.Close()
}
