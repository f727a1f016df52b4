// Package transport provides the single websocket connection type shared
// by the client, the Authentication Service, and the Delivery Service:
// one frame in, one frame out, with no protocol logic of its own.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/ame2e/mlsgov/internal/wire"
)

// pingInterval and pongWait mirror a conventional websocket keepalive: the
// writer pings well inside the reader's pong deadline so a quiet connection
// never looks dead to the peer.
const (
	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
)

// Conn is a single client<->server connection carrying length-prefixed
// wire.OnWireMessageWithMetaData frames over a websocket binary message
// per frame. Not safe for concurrent Send calls; Recv is meant to be
// called from a single reader loop.
type Conn struct {
	ws *websocket.Conn
}

// NewConn wraps an already-established websocket connection (either side
// of the handshake) as a Conn.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Conn{ws: ws}
}

// Dial opens a websocket connection to url and wraps it as a Conn. The
// context only bounds the handshake itself; once connected, reads and
// writes are governed by Send/Recv's own deadlines.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewConn(ws), nil
}

// Send encodes env as a length-prefixed frame and writes it as a single
// binary websocket message.
func (c *Conn) Send(env wire.OnWireMessageWithMetaData) error {
	frame, err := wire.EncodeFrame(env)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: write message: %w", err)
	}
	return nil
}

// Recv blocks for the next inbound frame and decodes its envelope.
func (c *Conn) Recv() (wire.OnWireMessageWithMetaData, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return wire.OnWireMessageWithMetaData{}, fmt.Errorf("transport: read message: %w", err)
	}
	return wire.DecodeFrame(data)
}

// KeepAlive runs a ping loop against the connection until ctx is cancelled
// or a ping fails, at which point it closes the connection. Callers run
// this in its own goroutine alongside a Recv loop.
func (c *Conn) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
