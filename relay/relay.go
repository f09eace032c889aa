// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"context"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
)

func New(url string, dialer Dialer, cfg *Config, monitor Monitor) *Relay {
	if cfg == nil {
		cfg = new(Config)
	}
	if monitor == nil {
		monitor = noopMonitor{}
	}

	return &Relay{
		url:            url,
		dialer:         dialer,
		cfg:            cfg,
		monitor:        monitor,
		state:          StateConnecting,
		done:           make(chan struct{}),
		events:         observable.NewSubject[*IncomingEvent](),
		eose:           observable.NewSubject[*IncomingEOSE](),
		commandResults: observable.NewSubject[*IncomingCommandResult](),
		notices:        observable.NewSubject[*IncomingNotice](),
		closed:         observable.NewSubject[*IncomingClosed](),
		status:         observable.NewPersistentSubjectWithValue(StateConnecting),
		pendingReqs:    make(map[string]stdlibtime.Time),
		pendingCmds:    make(map[string]stdlibtime.Time),
	}
}

func (r *Relay) URL() string {
	return r.url
}

func (r *Relay) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.state
}

// Err is the cause of an unexpected closure, nil while healthy or after a regular Close.
func (r *Relay) Err() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.err
}

func (r *Relay) Status() *observable.PersistentSubject[State] {
	return r.status
}

func (r *Relay) OnEvent() observable.Stream[*IncomingEvent] {
	return r.events
}

func (r *Relay) OnEOSE() observable.Stream[*IncomingEOSE] {
	return r.eose
}

func (r *Relay) OnCommandResult() observable.Stream[*IncomingCommandResult] {
	return r.commandResults
}

func (r *Relay) OnNotice() observable.Stream[*IncomingNotice] {
	return r.notices
}

func (r *Relay) OnClosed() observable.Stream[*IncomingClosed] {
	return r.closed
}

// Done is closed once the connection goroutine has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Open starts connecting in the background. Frames sent before the socket is up are queued.
func (r *Relay) Open(ctx context.Context) {
	r.mx.Lock()
	if r.started || r.state == StateClosed {
		r.mx.Unlock()

		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mx.Unlock()

	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	start := stdlibtime.Now()
	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, r.cfg.DialTimeout)
	}
	conn, err := r.dialer.Dial(dialCtx, r.url)
	cancel()
	if err != nil {
		r.fail(errors.Wrapf(err, "failed to connect to %v", r.url))

		return
	}

	r.mx.Lock()
	if r.state == StateClosed {
		r.mx.Unlock()
		_ = conn.Close() //nolint:errcheck // Closed before it was opened.

		return
	}
	r.conn, r.state = conn, StateOpen
	queue := r.queue
	r.queue = nil
	r.writeMx.Lock()
	r.mx.Unlock()
	var flushErr error
	for _, msg := range queue {
		if flushErr = conn.WriteMessage(int(ws.OpText), msg); flushErr != nil {
			break
		}
	}
	r.writeMx.Unlock()
	if flushErr != nil {
		r.fail(errors.Wrapf(flushErr, "failed to flush queued messages to %v", r.url))

		return
	}
	r.monitor.Connected(r.url, stdlibtime.Since(start))
	logger.Log.Infow("relay connected", "url", r.url)
	r.status.Next(StateOpen)

	r.read(conn)
}

func (r *Relay) read(conn Conn) {
	for {
		t, msg, err := conn.ReadMessage()
		if err != nil {
			r.fail(errors.Wrapf(err, "connection to %v dropped", r.url))

			return
		}
		if len(msg) > 0 && ws.OpCode(t) == ws.OpText {
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg []byte) {
	envelope, err := model.ParseMessage(msg)
	if err != nil {
		logger.Log.Warnw("dropping malformed frame", "url", r.url, "error", err)

		return
	}
	switch e := envelope.(type) {
	case *nostr.EventEnvelope:
		r.events.Next(&IncomingEvent{SubscriptionID: *e.SubscriptionID, Event: model.NewEvent(e.Event), Relay: r})
	case *nostr.EOSEEnvelope:
		r.responded(r.pendingReqs, string(*e))
		r.eose.Next(&IncomingEOSE{SubscriptionID: string(*e), Relay: r})
	case *nostr.OKEnvelope:
		r.responded(r.pendingCmds, e.EventID)
		r.commandResults.Next(&IncomingCommandResult{EventID: e.EventID, Status: e.OK, Message: e.Reason, Relay: r})
	case *nostr.NoticeEnvelope:
		logger.Log.Warnw("relay notice", "url", r.url, "notice", string(*e))
		r.notices.Next(&IncomingNotice{Message: string(*e), Relay: r})
	case *nostr.ClosedEnvelope:
		r.responded(r.pendingReqs, e.SubscriptionID)
		r.closed.Next(&IncomingClosed{SubscriptionID: e.SubscriptionID, Reason: e.Reason, Relay: r})
	default:
		logger.Log.Debugw("ignoring frame", "url", r.url, "label", envelope.Label())
	}
}

func (r *Relay) responded(pending map[string]stdlibtime.Time, key string) {
	r.mx.Lock()
	sent, found := pending[key]
	delete(pending, key)
	r.mx.Unlock()
	if found {
		r.monitor.Responded(r.url, stdlibtime.Since(sent))
	}
}

// Send writes envelope, queueing it while the relay is still connecting.
func (r *Relay) Send(envelope nostr.Envelope) error {
	msg, err := envelope.MarshalJSON()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %v for %v", envelope.Label(), r.url)
	}
	r.mx.Lock()
	switch r.state {
	case StateClosed:
		r.mx.Unlock()

		return errors.Wrapf(ErrRelayClosed, "can't send %v to %v", envelope.Label(), r.url)
	case StateConnecting:
		r.queue = append(r.queue, msg)
		r.mx.Unlock()

		return nil
	}
	conn := r.conn
	r.writeMx.Lock()
	r.mx.Unlock()
	err = conn.WriteMessage(int(ws.OpText), msg)
	r.writeMx.Unlock()
	if err != nil {
		err = errors.Wrapf(err, "failed to write %v to %v", envelope.Label(), r.url)
		r.fail(err)

		return err
	}

	return nil
}

func (r *Relay) Publish(event *model.Event) error {
	r.track(r.pendingCmds, event.ID)

	return errors.Wrap(r.Send(model.NewEventEnvelope(event)), "publish failed")
}

// Subscribe sends REQ; reusing an id replaces the query the relay holds for it.
func (r *Relay) Subscribe(subscriptionID string, filters model.Filters) error {
	r.track(r.pendingReqs, subscriptionID)

	return errors.Wrap(r.Send(model.NewReqEnvelope(subscriptionID, filters)), "subscribe failed")
}

func (r *Relay) Unsubscribe(subscriptionID string) error {
	r.mx.Lock()
	delete(r.pendingReqs, subscriptionID)
	r.mx.Unlock()

	return errors.Wrap(r.Send(model.NewCloseEnvelope(subscriptionID)), "unsubscribe failed")
}

func (r *Relay) track(pending map[string]stdlibtime.Time, key string) {
	r.mx.Lock()
	if r.state != StateClosed {
		pending[key] = stdlibtime.Now()
	}
	r.mx.Unlock()
}

// ReportTimeout tells the monitor eventID was never acknowledged.
func (r *Relay) ReportTimeout(eventID string) {
	r.mx.Lock()
	delete(r.pendingCmds, eventID)
	r.mx.Unlock()
	r.monitor.TimedOut(r.url)
}

// Close closes the socket gracefully. Closing an already closed relay is a no-op.
func (r *Relay) Close() error {
	r.mx.Lock()
	if r.state == StateClosed {
		r.mx.Unlock()

		return nil
	}
	conn, started, cancel := r.shutdown()
	r.mx.Unlock()
	if !started {
		close(r.done)
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = errors.Wrapf(conn.Close(), "failed to close connection to %v", r.url)
	}
	logger.Log.Infow("relay closed", "url", r.url)
	r.status.Next(StateClosed)

	return err
}

func (r *Relay) fail(cause error) {
	r.mx.Lock()
	if r.state == StateClosed {
		r.mx.Unlock()

		return
	}
	conn, _, cancel := r.shutdown()
	r.err = cause
	r.mx.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close() //nolint:errcheck // Already broken.
	}
	logger.Log.Errorw("relay failed", "url", r.url, "error", cause)
	r.monitor.Disconnected(r.url, cause)
	r.status.Next(StateClosed)
}

// shutdown must be called with r.mx held.
func (r *Relay) shutdown() (conn Conn, started bool, cancel context.CancelFunc) {
	conn, started, cancel = r.conn, r.started, r.cancel
	r.state, r.conn, r.queue = StateClosed, nil, nil
	clear(r.pendingReqs)
	clear(r.pendingCmds)

	return conn, started, cancel
}

func (noopMonitor) Connected(string, stdlibtime.Duration) {}
func (noopMonitor) Responded(string, stdlibtime.Duration) {}
func (noopMonitor) TimedOut(string) {}
func (noopMonitor) Disconnected(string, error) {}
