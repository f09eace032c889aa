// SPDX-License-Identifier: ice License 1.0

// Package fixture provides scripted relays for tests: an in-memory dialer and a real websocket server.
package fixture

import (
	"context"
	"net"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/ice-blockchain/icicle/model"
)

type (
	// Handler answers one client frame, the way a relay would, through w.
	Handler func(ctx context.Context, w Writer, in []byte)
	Writer  interface {
		WriteMessage(messageType int, data []byte) error
	}
	MockDialer struct {
		handlers   map[string]Handler
		failures   map[string]error
		conns      map[string][]*MockConn
		dials      map[string]int
		dflt       Handler
		mx         sync.Mutex
		blockDials chan struct{}
	}
	MockConn struct {
		ctx      context.Context //nolint:containedctx // Handlers run with it until the conn closes.
		cancel   context.CancelFunc
		handler  Handler
		err      error
		notify   chan struct{}
		URL      string
		inbound  [][]byte
		received [][]byte
		mx       sync.Mutex
		closed   bool
	}
	// Store is a tiny in-memory relay: it answers REQ with its matching events and EOSE, and acknowledges EVENT.
	Store struct {
		events []*model.Event
		// Reject, when set, is returned as the failure reason of every OK.
		Reject string
		mx     sync.Mutex
		// SilentPublish never acknowledges EVENT.
		SilentPublish bool
		// SilentReq never answers REQ.
		SilentReq bool
	}
	WebsocketServer struct {
		server  *httptest.Server
		handler Handler
		conns   map[net.Conn]*serverWriter
		wg      sync.WaitGroup
		mx      sync.Mutex
		Served  atomic.Uint64
		// Pongs counts the pong frames clients answered Ping with.
		Pongs atomic.Uint64
		URL   string
	}
	serverWriter struct {
		conn net.Conn
		mx   sync.Mutex
	}
)
