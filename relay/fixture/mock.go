// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"

	"github.com/ice-blockchain/icicle/relay"
)

// NewMockDialer returns a dialer whose connections answer with handler unless a url specific one is registered.
func NewMockDialer(handler Handler) *MockDialer {
	return &MockDialer{
		dflt:     handler,
		handlers: make(map[string]Handler),
		failures: make(map[string]error),
		conns:    make(map[string][]*MockConn),
		dials:    make(map[string]int),
	}
}

func (d *MockDialer) Handle(url string, handler Handler) {
	d.mx.Lock()
	d.handlers[url] = handler
	d.mx.Unlock()
}

// Fail makes every following dial of url return err.
func (d *MockDialer) Fail(url string, err error) {
	d.mx.Lock()
	d.failures[url] = err
	d.mx.Unlock()
}

func (d *MockDialer) Recover(url string) {
	d.mx.Lock()
	delete(d.failures, url)
	d.mx.Unlock()
}

// HoldDials parks every dial until ReleaseDials, leaving relays in the connecting state.
func (d *MockDialer) HoldDials() {
	d.mx.Lock()
	d.blockDials = make(chan struct{})
	d.mx.Unlock()
}

func (d *MockDialer) ReleaseDials() {
	d.mx.Lock()
	if d.blockDials != nil {
		close(d.blockDials)
		d.blockDials = nil
	}
	d.mx.Unlock()
}

func (d *MockDialer) Dial(ctx context.Context, url string) (relay.Conn, error) {
	d.mx.Lock()
	d.dials[url]++
	block := d.blockDials
	d.mx.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "dial %v cancelled", url)
		}
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.failures[url]; err != nil {
		return nil, errors.Wrapf(err, "dial %v failed", url)
	}
	handler := d.handlers[url]
	if handler == nil {
		handler = d.dflt
	}
	conn := newMockConn(url, handler)
	d.conns[url] = append(d.conns[url], conn)

	return conn, nil
}

func (d *MockDialer) Dials(url string) int {
	d.mx.Lock()
	defer d.mx.Unlock()

	return d.dials[url]
}

// Conns lists every connection dialled to url, oldest first.
func (d *MockDialer) Conns(url string) []*MockConn {
	d.mx.Lock()
	defer d.mx.Unlock()

	return append([]*MockConn(nil), d.conns[url]...)
}

// Last is the most recent connection to url, nil if it was never dialled.
func (d *MockDialer) Last(url string) *MockConn {
	conns := d.Conns(url)
	if len(conns) == 0 {
		return nil
	}

	return conns[len(conns)-1]
}

func newMockConn(url string, handler Handler) *MockConn {
	ctx, cancel := context.WithCancel(context.Background())

	return &MockConn{URL: url, handler: handler, ctx: ctx, cancel: cancel, notify: make(chan struct{}, 1)}
}

// WriteMessage records a frame sent by the client and lets the handler answer it.
func (c *MockConn) WriteMessage(_ int, data []byte) error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()

		return errors.Wrap(io.ErrClosedPipe, "mock conn closed")
	}
	c.received = append(c.received, append([]byte(nil), data...))
	c.mx.Unlock()
	if c.handler != nil {
		c.handler(c.ctx, serverSide{c}, data)
	}

	return nil
}

func (c *MockConn) ReadMessage() (messageType int, p []byte, err error) {
	for {
		c.mx.Lock()
		if len(c.inbound) > 0 {
			msg := c.inbound[0]
			c.inbound = c.inbound[1:]
			c.mx.Unlock()

			return int(ws.OpText), msg, nil
		}
		if c.closed {
			err = c.err
			c.mx.Unlock()

			return 0, nil, err
		}
		c.mx.Unlock()
		<-c.notify
	}
}

// Push delivers a frame from the relay side.
func (c *MockConn) Push(frame []byte) {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()

		return
	}
	c.inbound = append(c.inbound, frame)
	c.mx.Unlock()
	c.wake()
}

// Drop simulates the relay going away with err.
func (c *MockConn) Drop(err error) {
	c.shut(err)
}

func (c *MockConn) Close() error {
	c.shut(io.EOF)

	return nil
}

func (c *MockConn) shut(err error) {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()

		return
	}
	c.closed, c.err = true, err
	c.mx.Unlock()
	c.cancel()
	c.wake()
}

func (c *MockConn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *MockConn) Closed() bool {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.closed
}

// Received returns the frames the client wrote so far.
func (c *MockConn) Received() [][]byte {
	c.mx.Lock()
	defer c.mx.Unlock()

	return append([][]byte(nil), c.received...)
}

type serverSide struct {
	c *MockConn
}

func (s serverSide) WriteMessage(_ int, data []byte) error {
	s.c.Push(append([]byte(nil), data...))

	return nil
}
