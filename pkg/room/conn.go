package room

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendBuffer is the per-connection outbound queue depth. A client that falls
// this far behind is dropped rather than stalling the room.
const sendBuffer = 256

const writeWait = 10 * time.Second

// conn is one websocket connection as seen by the room actor. The actor is
// the only sender on the send channel and the only closer of it.
type conn struct {
	ws        *websocket.Conn
	userID    string
	send      chan []byte
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID string) *conn {
	return &conn{ws: ws, userID: userID, send: make(chan []byte, sendBuffer)}
}

// close shuts the send channel, which unwinds the write pump and with it the
// underlying websocket.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// closeWith sends a close frame with the given code and reason, bypassing the
// send queue. Safe to call concurrently with the write pump.
func (c *conn) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}

// writePump drains the send channel onto the wire. Exits when the channel is
// closed or a write fails; either way the websocket is closed, which in turn
// ends the read loop and triggers leave.
func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
