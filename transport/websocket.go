package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftlabs/pylon/wire"
)

// closeGraceWindow bounds how long Close waits to write the closing
// handshake before tearing down the connection anyway.
const closeGraceWindow = 5 * time.Second

// Dial connects a websocket channel to the gateway at url. The returned
// channel inflates compressed binary frames transparently.
func Dial(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts a websocket connection to the Channel interface. The
// underlying connection permits one concurrent reader and one writer; sends
// are serialized by a lock so that multiple goroutines may call Send.
type wsChannel struct {
	conn *websocket.Conn

	sendMu sync.Mutex // serializes writes to conn
}

// Send implements a method of the [Channel] interface.
func (c *wsChannel) Send(f *wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encoding %v frame: %w", f.Op, err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv implements a method of the [Channel] interface. Binary messages are
// inflated before parsing; non-data messages are skipped.
func (c *wsChannel) Recv() (*wire.Frame, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return wire.DecodeFrame(false, data)
		case websocket.BinaryMessage:
			return wire.DecodeFrame(true, data)
		}
		// Control messages are handled by the websocket library.
	}
}

// Close implements a method of the [Channel] interface. It attempts a clean
// closing handshake before releasing the connection.
func (c *wsChannel) Close() error {
	c.sendMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGraceWindow))
	c.sendMu.Unlock()
	return c.conn.Close()
}

// Kill drops the connection without a closing handshake, so the server sees
// a dirty disconnect and keeps the session eligible for resume.
func (c *wsChannel) Kill() error { return c.conn.Close() }
