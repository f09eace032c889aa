// SPDX-License-Identifier: ice License 1.0

package publish

import (
	"context"
	"slices"
	"sync/atomic"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

//nolint:gochecknoglobals // Sequence is process wide.
var lastSeq atomic.Uint64

// New sends event to every url right away and resolves once each of them answered or the timeout passed.
// Urls that can't be resolved to a relay fail immediately; duplicates count once.
func New(p *pool.Pool, label string, urls []string, event *model.Event, opts *Options) (*Action, error) {
	if len(urls) == 0 {
		return nil, errors.Wrapf(ErrNoRelays, "can't publish %v", event.ID)
	}
	if opts == nil {
		opts = new(Options)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a := &Action{
		pool:      p,
		event:     event,
		label:     label,
		seq:       lastSeq.Add(1),
		claim:     pool.NewClaim("publish " + label),
		future:    observable.NewFuture[[]*Result](),
		results:   observable.NewPersistentSubject[[]*Result](),
		onResult:  observable.NewSubject[*Result](),
		remaining: make(map[string]*target, len(urls)),
	}

	failed := make(map[string]error)
	targets := make(map[string]*target, len(urls))
	for _, raw := range urls {
		url, err := model.NormalizeRelayURL(raw)
		if err != nil {
			url = raw
		}
		if slices.Contains(a.urls, url) {
			continue
		}
		a.urls = append(a.urls, url)
		if err == nil {
			targets[url], err = a.target(url)
		}
		if err != nil {
			failed[url] = err
			targets[url] = new(target)
		}
	}
	a.mx.Lock()
	for url, t := range targets {
		a.remaining[url] = t
	}
	a.timer = stdlibtime.AfterFunc(timeout, a.expire)
	a.mx.Unlock()
	if opts.Log != nil {
		opts.Log.Append(a)
	}

	for _, url := range a.urls {
		if t := targets[url]; t.relay != nil {
			a.listen(url, t)
			if err := t.relay.Publish(event); err != nil {
				failed[url] = err
			}
		}
	}
	for _, url := range a.urls {
		if err := failed[url]; err != nil {
			a.record(url, false, err.Error(), false)
		}
	}

	return a, nil
}

func (a *Action) target(url string) (*target, error) {
	r, err := a.pool.RequestRelay(url)
	if err != nil {
		return nil, errors.Wrapf(err, "can't publish %v", a.event.ID)
	}
	if err = a.pool.AddClaim(url, a.claim); err != nil {
		return nil, errors.Wrapf(err, "can't publish %v", a.event.ID)
	}

	return &target{relay: r}, nil
}

// listen waits for the acknowledgement of url, or for its relay to close first.
func (a *Action) listen(url string, t *target) {
	unsubscribeResults := t.relay.OnCommandResult().Subscribe(func(res *relay.IncomingCommandResult) {
		if res.EventID == a.event.ID {
			a.record(url, res.Status, res.Message, false)
		}
	})
	unsubscribeStatus := t.relay.Status().Subscribe(func(state relay.State) {
		if state != relay.StateClosed {
			return
		}
		cause := t.relay.Err()
		if cause == nil {
			cause = relay.ErrRelayClosed
		}
		a.record(url, false, cause.Error(), false)
	})
	unsubscribe := func() {
		unsubscribeResults()
		unsubscribeStatus()
	}
	a.mx.Lock()
	_, pending := a.remaining[url]
	if pending {
		t.unsubscribe = unsubscribe
	}
	a.mx.Unlock()
	if !pending {
		unsubscribe()
	}
}

// record takes the answer of url once: later answers and answers of relays already timed out are ignored.
func (a *Action) record(url string, status bool, message string, timedOut bool) {
	a.mx.Lock()
	t, pending := a.remaining[url]
	if !pending {
		a.mx.Unlock()

		return
	}
	delete(a.remaining, url)
	res := &Result{Relay: t.relay, URL: url, Status: status, Message: message}
	a.log = append(a.log, res)
	done := len(a.remaining) == 0
	if done {
		a.timer.Stop()
	}
	a.emissions = append(a.emissions, &emission{result: res, snapshot: slices.Clone(a.log), done: done})
	unsubscribe := t.unsubscribe
	a.mx.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if t.relay != nil {
		a.pool.RemoveClaim(url, a.claim)
	}
	if timedOut && t.relay != nil {
		t.relay.ReportTimeout(a.event.ID)
	}
	a.emit()
}

// emit delivers queued emissions in record order. A call made while another one is delivering,
// including one from a listener, only queues: the running call delivers it.
func (a *Action) emit() {
	a.mx.Lock()
	if a.emitting {
		a.mx.Unlock()

		return
	}
	a.emitting = true
	for len(a.emissions) > 0 {
		e := a.emissions[0]
		a.emissions = a.emissions[1:]
		a.mx.Unlock()
		a.onResult.Next(e.result)
		a.results.Next(e.snapshot)
		if e.done {
			a.future.Resolve(e.snapshot)
			logger.Log.Debugw("publish finished", "label", a.label, "event", model.TruncatedID(a.event.ID), "results", len(e.snapshot))
		}
		a.mx.Lock()
	}
	a.emitting = false
	a.mx.Unlock()
}

func (a *Action) expire() {
	a.mx.Lock()
	var late []string
	for _, url := range a.urls {
		if _, pending := a.remaining[url]; pending {
			late = append(late, url)
		}
	}
	a.mx.Unlock()
	for _, url := range late {
		a.record(url, false, TimeoutMessage, true)
	}
}

func (a *Action) Seq() uint64 {
	return a.seq
}

func (a *Action) Label() string {
	return a.label
}

func (a *Action) Event() *model.Event {
	return a.event
}

// URLs are the distinct targets, normalized, in the order given.
func (a *Action) URLs() []string {
	return slices.Clone(a.urls)
}

// Results emits the whole result log after every result.
func (a *Action) Results() *observable.PersistentSubject[[]*Result] {
	return a.results
}

func (a *Action) OnResult() observable.Stream[*Result] {
	return a.onResult
}

func (a *Action) Future() *observable.Future[[]*Result] {
	return a.future
}

func (a *Action) Wait(ctx context.Context) ([]*Result, error) {
	return a.future.Wait(ctx) //nolint:wrapcheck // Already wrapped.
}

// Failures aggregates the failed results, nil when every relay accepted the event.
func (a *Action) Failures() error {
	a.mx.Lock()
	defer a.mx.Unlock()
	var mErr *multierror.Error
	for _, res := range a.log {
		if !res.Status {
			mErr = multierror.Append(mErr, errors.Errorf("%v: %v", res.URL, res.Message))
		}
	}

	return mErr.ErrorOrNil() //nolint:wrapcheck // .
}
