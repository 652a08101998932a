package gateway

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytide/edgegateway/pkg/protocol"
)

// Transport is one logical bidirectional frame stream to a node (spec §6).
// The gateway is transport-agnostic in spec; wsTransport is the concrete
// WebSocket implementation this package wires by default.
type Transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
}

// wsTransport adapts a gorilla/websocket connection to Transport, carrying
// one JSON-encoded Frame per WebSocket text message.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() (protocol.Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Unmarshal(data)
}

func (t *wsTransport) WriteFrame(f protocol.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// SetReadDeadline sets the underlying connection's read deadline to d from
// now. The write deadline is left unchanged.
func (t *wsTransport) SetReadDeadline(d time.Duration) error {
	return t.conn.SetReadDeadline(time.Now().Add(d))
}
