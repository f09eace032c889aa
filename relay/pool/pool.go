// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"context"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
)

func NewClaim(label string) *Claim {
	return &Claim{label: label}
}

func (c *Claim) String() string {
	return c.label
}

func WithDialer(dialer relay.Dialer) Option {
	return func(p *Pool) { p.dialer = dialer }
}

// WithMonitor attaches monitor to every relay the pool creates.
func WithMonitor(monitor relay.Monitor) Option {
	return func(p *Pool) { p.monitor = monitor }
}

func WithRelayConfig(cfg *relay.Config) Option {
	return func(p *Pool) { p.relayCfg = cfg }
}

func New(cfg *Config, opts ...Option) *Pool {
	p := &Pool{
		entries: make(map[string]*entry),
		onRelay: observable.NewSubject[*relay.Relay](),
	}
	if cfg != nil {
		p.cfg = *cfg
	}
	if p.cfg.GraceDelay <= 0 {
		p.cfg.GraceDelay = defaultGraceDelay
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.relayCfg == nil {
		p.relayCfg = new(relay.Config)
	}
	if p.dialer == nil {
		p.dialer = relay.NewWebsocketDialer(p.relayCfg)
	}

	return p
}

// SetGraceDelay changes the delay of teardowns scheduled from now on; non positive values restore the default.
func (p *Pool) SetGraceDelay(delay stdlibtime.Duration) {
	if delay <= 0 {
		delay = defaultGraceDelay
	}
	p.mx.Lock()
	p.cfg.GraceDelay = delay
	p.mx.Unlock()
}

// OnRelay emits every relay the pool creates, right after it started connecting.
func (p *Pool) OnRelay() observable.Stream[*relay.Relay] {
	return p.onRelay
}

// RequestRelay returns the live relay for url, creating it when there is none or the previous one closed.
func (p *Pool) RequestRelay(url string) (*relay.Relay, error) {
	normalized, err := model.NormalizeRelayURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "can't request relay")
	}
	p.mx.Lock()
	e, created, err := p.entry(normalized)
	p.mx.Unlock()
	if err != nil {
		return nil, err
	}
	if created {
		p.onRelay.Next(e.relay)
	}

	return e.relay, nil
}

// entry must be called with p.mx held.
func (p *Pool) entry(url string) (e *entry, created bool, err error) {
	if p.closed {
		return nil, false, errors.Wrapf(ErrPoolClosed, "can't request %v", url)
	}
	e = p.entries[url]
	if e != nil && e.relay.State() != relay.StateClosed {
		return e, false, nil
	}
	if e == nil {
		e = &entry{claims: make(map[*Claim]struct{})}
		p.entries[url] = e
	} else {
		logger.Log.Infow("recreating closed relay", "url", url, "cause", e.relay.Err())
	}
	e.relay = relay.New(url, p.dialer, p.relayCfg, p.monitor)
	e.relay.Open(context.Background())

	return e, true, nil
}

// AddClaim registers claim on url, cancelling a pending teardown.
func (p *Pool) AddClaim(url string, claim *Claim) error {
	normalized, err := model.NormalizeRelayURL(url)
	if err != nil {
		return errors.Wrap(err, "can't add claim")
	}
	p.mx.Lock()
	e, created, err := p.entry(normalized)
	if err == nil {
		e.claims[claim] = struct{}{}
		p.cancelTeardown(e)
	}
	p.mx.Unlock()
	if created {
		p.onRelay.Next(e.relay)
	}

	return err
}

// RemoveClaim drops claim from url. The last claim leaving schedules teardown after the grace delay.
func (p *Pool) RemoveClaim(url string, claim *Claim) {
	normalized, err := model.NormalizeRelayURL(url)
	if err != nil {
		return
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	e := p.entries[normalized]
	if e == nil {
		return
	}
	if _, found := e.claims[claim]; !found {
		return
	}
	delete(e.claims, claim)
	if len(e.claims) > 0 || e.teardown != nil {
		return
	}
	e.generation++
	generation := e.generation
	e.teardown = stdlibtime.AfterFunc(p.cfg.GraceDelay, func() { p.tearDown(normalized, e, generation) })
}

// cancelTeardown must be called with p.mx held.
func (*Pool) cancelTeardown(e *entry) {
	if e.teardown != nil {
		e.teardown.Stop()
		e.teardown = nil
	}
	e.generation++
}

func (p *Pool) tearDown(url string, e *entry, generation uint64) {
	p.mx.Lock()
	if p.entries[url] != e || e.generation != generation || len(e.claims) > 0 {
		p.mx.Unlock()

		return
	}
	delete(p.entries, url)
	p.mx.Unlock()
	logger.Log.Infow("tearing down unclaimed relay", "url", url)
	if err := e.relay.Close(); err != nil {
		logger.Log.Errorw("failed to close relay", "url", url, "error", err)
	}
}

// Claims counts the claims currently held on url.
func (p *Pool) Claims(url string) int {
	normalized, err := model.NormalizeRelayURL(url)
	if err != nil {
		return 0
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if e := p.entries[normalized]; e != nil {
		return len(e.claims)
	}

	return 0
}

func (p *Pool) Relays() []*relay.Relay {
	p.mx.Lock()
	defer p.mx.Unlock()
	relays := make([]*relay.Relay, 0, len(p.entries))
	for _, e := range p.entries {
		relays = append(relays, e.relay)
	}

	return relays
}

// Close closes every relay regardless of claims. The pool refuses requests afterwards.
func (p *Pool) Close() error {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()

		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	for _, e := range entries {
		p.cancelTeardown(e)
	}
	p.mx.Unlock()
	var mErr *multierror.Error
	for url, e := range entries {
		if err := e.relay.Close(); err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "failed to close %v", url))
		}
	}

	return mErr.ErrorOrNil() //nolint:wrapcheck // Already wrapped.
}
