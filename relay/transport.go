// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type (
	websocketDialer struct {
		cfg *Config
	}
	websocketConn struct {
		conn         net.Conn
		rw           io.ReadWriter
		writeMx      sync.Mutex
		closeOnce    sync.Once
		writeTimeout stdlibtime.Duration
		readTimeout  stdlibtime.Duration
	}
)

// NewWebsocketDialer dials relays as a websocket client.
func NewWebsocketDialer(cfg *Config) Dialer {
	if cfg == nil {
		cfg = new(Config)
	}

	return &websocketDialer{cfg: cfg}
}

func (d *websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := ws.Dialer{Timeout: d.cfg.DialTimeout}.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "websocket dial %v failed", url)
	}
	wsConn := &websocketConn{conn: conn, rw: conn, writeTimeout: d.cfg.WriteTimeout, readTimeout: d.cfg.ReadTimeout}
	if br != nil {
		// Frames the server sent right after the handshake are already buffered.
		wsConn.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	return wsConn, nil
}

func (c *websocketConn) ReadMessage() (messageType int, p []byte, err error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(stdlibtime.Now().Add(c.readTimeout)) //nolint:errcheck // .
	}
	rd := &wsutil.Reader{Source: c.rw, State: ws.StateClientSide, CheckUTF8: true, OnIntermediate: c.control}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to read websocket frame")
		}
		if hdr.OpCode.IsControl() {
			if err = c.control(hdr, rd); err != nil {
				return 0, nil, errors.Wrap(err, "websocket control frame")
			}

			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err = rd.Discard(); err != nil {
				return 0, nil, errors.Wrap(err, "failed to discard websocket frame")
			}

			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to read websocket frame")
		}

		return int(hdr.OpCode), data, nil
	}
}

// control answers pings and closes. The reply is written whole under writeMx, so it never splits a data frame.
func (c *websocketConn) control(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlFrameHandler(&reply, ws.StateClientSide)(hdr, r)
	if reply.Len() > 0 {
		c.writeMx.Lock()
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.writeTimeout)) //nolint:errcheck // .
		}
		_, wErr := c.conn.Write(reply.Bytes())
		c.writeMx.Unlock()
		if err == nil {
			err = wErr
		}
	}

	return err //nolint:wrapcheck // Wrapped by the caller.
}

func (c *websocketConn) WriteMessage(messageType int, data []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.writeTimeout)) //nolint:errcheck // .
	}

	return errors.Wrap(wsutil.WriteClientMessage(c.conn, ws.OpCode(messageType), data), "failed to write websocket frame")
}

// Close sends a normal closure frame before dropping the socket.
func (c *websocketConn) Close() (err error) {
	c.closeOnce.Do(func() {
		c.writeMx.Lock()
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.writeTimeout)) //nolint:errcheck // .
		}
		frame := ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		_ = ws.WriteFrame(c.conn, frame) //nolint:errcheck // Best effort, the peer may be gone.
		c.writeMx.Unlock()
		err = errors.Wrap(c.conn.Close(), "failed to close websocket conn")
	})

	return err
}
