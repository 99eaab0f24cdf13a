// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package bridge

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// wsHandshakeTimeout bounds the HTTP upgrade; the RFB handshake that
// follows is bounded by the client's own ConnectTimeout.
const wsHandshakeTimeout = 10 * time.Second

// DialWebsocket connects to a websockify endpoint (ws:// or wss://) and
// adapts it to a net.Conn carrying the raw RFB byte stream. The returned
// conn works anywhere a TCP connection would: hand it to rfb.Connect, or
// to a Bridge through WithDialer.
func DialWebsocket(ctx context.Context, url string) (net.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		// websockify streams raw RFB bytes once "binary" is negotiated.
		Subprotocols: []string{"binary"},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "websocket dial %s", url)
	}
	return &wsConn{ws: conn}, nil
}

// wsConn presents a websocket as a byte stream. Reads drain binary
// messages in arrival order and may span message boundaries; each write
// becomes one binary message. Non-binary data messages are discarded.
type wsConn struct {
	ws      *websocket.Conn
	current io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.current == nil {
			msgType, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.current = reader
		}
		n, err := c.current.Read(p)
		if err == io.EOF {
			c.current = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
