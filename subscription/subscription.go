// SPDX-License-Identifier: ice License 1.0

package subscription

import (
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

//nolint:gochecknoglobals // Ids are unique per process.
var lastID atomic.Int64

// NextID returns a fresh subscription id: 10000, 10001, and so on.
func NextID() string {
	return strconv.FormatInt(firstID+lastID.Add(1)-1, 10)
}

func New(p *pool.Pool, url string, filters model.Filters, opts *Options) *Subscription {
	if opts == nil {
		opts = new(Options)
	}
	id := opts.ID
	if id == "" {
		id = NextID()
	}
	label := opts.Label
	if label == "" {
		label = "subscription " + id
	}

	return &Subscription{
		pool:        p,
		url:         url,
		id:          id,
		filters:     filters,
		state:       StateInit,
		claim:       pool.NewClaim(label),
		events:      observable.NewSubject[*relay.IncomingEvent](),
		eose:        observable.NewSubject[*relay.IncomingEOSE](),
		relayClosed: observable.NewSubject[error](),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) URL() string {
	return s.url
}

func (s *Subscription) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.state
}

func (s *Subscription) Filters() model.Filters {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.filters
}

// Relay is the connection of the current or last opening, nil before the first Open.
func (s *Subscription) Relay() *relay.Relay {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.relay
}

// OnEvent emits the events of this subscription, only while it is open.
func (s *Subscription) OnEvent() observable.Stream[*relay.IncomingEvent] {
	return s.events
}

func (s *Subscription) OnEOSE() observable.Stream[*relay.IncomingEOSE] {
	return s.eose
}

// OnRelayClosed emits why the relay stopped serving this subscription while it was open:
// the connection closing (relay.Err, or relay.ErrRelayClosed) or the relay refusing it (ErrRefused).
func (s *Subscription) OnRelayClosed() observable.Stream[error] {
	return s.relayClosed
}

// Open sends the query and claims the relay. Opening an open subscription is a no-op.
// A closed subscription may be opened again; the pool is asked for the relay anew.
func (s *Subscription) Open() error {
	s.mx.Lock()
	if s.state == StateOpen {
		s.mx.Unlock()

		return nil
	}
	if len(s.filters) == 0 {
		s.mx.Unlock()

		return errors.Wrapf(ErrNoQuery, "can't open %v on %v", s.id, s.url)
	}
	r, err := s.pool.RequestRelay(s.url)
	if err == nil {
		err = s.pool.AddClaim(s.url, s.claim)
	}
	if err != nil {
		s.mx.Unlock()

		return errors.Wrapf(err, "can't open %v", s.id)
	}
	s.relay, s.state = r, StateOpen
	filters := s.filters
	s.mx.Unlock()

	// Listeners are attached unlocked: the status stream replays into them right away.
	disconnect := s.listen(r)
	s.mx.Lock()
	if !s.liveLocked(r) {
		s.mx.Unlock()
		for _, d := range disconnect {
			d()
		}

		return nil
	}
	s.disconnect = disconnect
	s.mx.Unlock()
	if err = r.Subscribe(s.id, filters); err != nil {
		s.mx.Lock()
		if s.liveLocked(r) {
			s.state = StateClosed
			s.stop()
		}
		s.mx.Unlock()
		s.pool.RemoveClaim(s.url, s.claim)

		return errors.Wrapf(err, "can't open %v", s.id)
	}
	logger.Log.Debugw("subscription opened", "id", s.id, "url", s.url)

	return nil
}

func (s *Subscription) listen(r *relay.Relay) []func() {
	return []func(){
		observable.Connect(r.OnEvent(), s.events, func(v *relay.IncomingEvent, next func(*relay.IncomingEvent)) {
			if v.SubscriptionID == s.id && s.live(r) {
				next(v)
			}
		}),
		observable.Connect(r.OnEOSE(), s.eose, func(v *relay.IncomingEOSE, next func(*relay.IncomingEOSE)) {
			if v.SubscriptionID == s.id && s.live(r) {
				next(v)
			}
		}),
		observable.Connect(r.OnClosed(), s.relayClosed, func(v *relay.IncomingClosed, next func(error)) {
			if v.SubscriptionID == s.id && s.live(r) {
				next(errors.Wrapf(ErrRefused, "%v on %v: %v", s.id, s.url, v.Reason))
			}
		}),
		observable.Connect[relay.State](r.Status(), s.relayClosed, func(state relay.State, next func(error)) {
			if state != relay.StateClosed || !s.live(r) {
				return
			}
			cause := r.Err()
			if cause == nil {
				cause = relay.ErrRelayClosed
			}
			next(errors.Wrapf(cause, "%v lost %v", s.id, s.url))
		}),
	}
}

func (s *Subscription) live(r *relay.Relay) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.liveLocked(r)
}

func (s *Subscription) liveLocked(r *relay.Relay) bool {
	return s.state == StateOpen && s.relay == r
}

// stop must be called with s.mx held.
func (s *Subscription) stop() {
	for _, disconnect := range s.disconnect {
		disconnect()
	}
	s.disconnect = nil
}

// SetQuery replaces the filters. An open subscription re-sends them under the same id.
func (s *Subscription) SetQuery(filters model.Filters) error {
	s.mx.Lock()
	open := s.state == StateOpen
	if open && len(filters) == 0 {
		s.mx.Unlock()

		return errors.Wrapf(ErrNoQuery, "can't clear the query of open %v", s.id)
	}
	s.filters = filters
	r := s.relay
	s.mx.Unlock()
	if !open {
		return nil
	}

	return errors.Wrapf(r.Subscribe(s.id, filters), "can't update %v", s.id)
}

// Close sends CLOSE and releases the claim. Closing a subscription that is not open is a no-op.
func (s *Subscription) Close() error {
	s.mx.Lock()
	if s.state != StateOpen {
		s.mx.Unlock()

		return nil
	}
	s.state = StateClosed
	s.stop()
	r := s.relay
	s.mx.Unlock()
	err := r.Unsubscribe(s.id)
	s.pool.RemoveClaim(s.url, s.claim)
	if errors.Is(err, relay.ErrRelayClosed) {
		return nil
	}
	logger.Log.Debugw("subscription closed", "id", s.id, "url", s.url)

	return errors.Wrapf(err, "can't close %v", s.id)
}
