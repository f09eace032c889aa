// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ice-blockchain/icicle/logger"
)

// NewWebsocketServer starts a real websocket relay on a local port, answering every text frame with handler.
func NewWebsocketServer(handler Handler) *WebsocketServer {
	s := &WebsocketServer{handler: handler, conns: make(map[net.Conn]*serverWriter)}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.server.URL, "http")

	return s
}

func (s *WebsocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.Log.Warnw("fixture upgrade failed", "error", err)

		return
	}
	writer := &serverWriter{conn: conn}
	s.mx.Lock()
	s.conns[conn] = writer
	s.mx.Unlock()
	s.wg.Add(1)
	go s.read(conn, writer)
}

func (s *WebsocketServer) read(conn net.Conn, writer *serverWriter) {
	defer s.wg.Done()
	defer s.forget(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	control := func(hdr ws.Header, r io.Reader) error {
		if hdr.OpCode == ws.OpPong {
			s.Pongs.Add(1)
		}

		return writer.control(hdr, r)
	}
	rd := &wsutil.Reader{Source: conn, State: ws.StateServerSide, CheckUTF8: true, OnIntermediate: control}
	for ctx.Err() == nil {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if control(hdr, rd) != nil {
				return
			}

			continue
		}
		msg, err := io.ReadAll(rd)
		if err != nil {
			return
		}
		if len(msg) > 0 && hdr.OpCode == ws.OpText {
			s.Served.Add(1)
			s.handler(ctx, writer, msg)
		}
	}
}

// Ping sends a ping frame on every accepted connection.
func (s *WebsocketServer) Ping() {
	s.mx.Lock()
	writers := make([]*serverWriter, 0, len(s.conns))
	for _, w := range s.conns {
		writers = append(writers, w)
	}
	s.mx.Unlock()
	for _, w := range writers {
		if err := w.write(ws.NewPingFrame([]byte("ping"))); err != nil {
			logger.Log.Warnw("fixture ping failed", "error", err)
		}
	}
}

func (s *WebsocketServer) forget(conn net.Conn) {
	s.mx.Lock()
	delete(s.conns, conn)
	s.mx.Unlock()
	_ = conn.Close() //nolint:errcheck // .
}

// DropAll closes every accepted connection without a closing handshake.
func (s *WebsocketServer) DropAll() {
	s.mx.Lock()
	for conn := range s.conns {
		_ = conn.Close() //nolint:errcheck // .
	}
	s.mx.Unlock()
}

func (s *WebsocketServer) Close() {
	s.DropAll()
	s.server.Close()
	s.wg.Wait()
}

func (w *serverWriter) WriteMessage(messageType int, data []byte) error {
	return w.write(ws.NewFrame(ws.OpCode(messageType), true, data))
}

func (w *serverWriter) write(frame ws.Frame) error {
	w.mx.Lock()
	defer w.mx.Unlock()

	return errors.Wrap(ws.WriteFrame(w.conn, frame), "fixture write")
}

func (w *serverWriter) control(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlFrameHandler(&reply, ws.StateServerSide)(hdr, r)
	if reply.Len() > 0 {
		w.mx.Lock()
		_, wErr := w.conn.Write(reply.Bytes())
		w.mx.Unlock()
		if err == nil {
			err = wErr
		}
	}

	return err //nolint:wrapcheck // .
}
