// SPDX-License-Identifier: ice License 1.0

package scoreboard

import (
	"cmp"
	"math"
	"slices"
	"sync"
	stdlibtime "time"

	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

func WithClock(now func() stdlibtime.Time) Option {
	return func(s *Scoreboard) { s.now = now }
}

func WithRegistry(registry metrics.Registry) Option {
	return func(s *Scoreboard) { s.registry = registry }
}

func New(opts ...Option) *Scoreboard {
	s := &Scoreboard{stats: make(map[string]*relayStats), now: stdlibtime.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = metrics.NewRegistry()
	}

	return s
}

// Registry exposes the raw per relay metrics.
func (s *Scoreboard) Registry() metrics.Registry {
	return s.registry
}

// Attach follows every relay p creates, counting the subscriptions it refuses.
// Latency samples arrive through the relay.Monitor side, see pool.WithMonitor.
func (s *Scoreboard) Attach(p *pool.Pool) (detach func()) {
	return p.OnRelay().Subscribe(func(r *relay.Relay) {
		s.relay(r.URL())
		unsubscribeRefusals := r.OnClosed().Subscribe(func(*relay.IncomingClosed) {
			s.relay(r.URL()).refusals.Inc(1)
		})
		var (
			mx                sync.Mutex
			closed            bool
			unsubscribeStatus func()
		)
		stop := r.Status().Subscribe(func(state relay.State) {
			if state != relay.StateClosed {
				return
			}
			unsubscribeRefusals()
			mx.Lock()
			closed = true
			unsubscribe := unsubscribeStatus
			mx.Unlock()
			if unsubscribe != nil {
				unsubscribe()
			}
		})
		mx.Lock()
		if closed {
			mx.Unlock()
			stop()

			return
		}
		unsubscribeStatus = stop
		mx.Unlock()
	})
}

func (s *Scoreboard) Connected(url string, latency stdlibtime.Duration) {
	s.relay(url).connect.Update(int64(latency))
}

func (s *Scoreboard) Responded(url string, latency stdlibtime.Duration) {
	st := s.relay(url)
	st.response.Update(int64(latency))
	st.lastResponse.Update(s.now().UnixNano())
}

func (s *Scoreboard) TimedOut(url string) {
	s.relay(url).timeouts.Inc(1)
}

func (s *Scoreboard) Disconnected(url string, _ error) {
	s.relay(url).disconnects.Inc(1)
}

func (s *Scoreboard) relay(url string) *relayStats {
	s.mx.Lock()
	defer s.mx.Unlock()
	st, found := s.stats[url]
	if !found {
		st = &relayStats{
			connect:      metrics.GetOrRegisterHistogram(url+".connect", s.registry, metrics.NewExpDecaySample(sampleSize, sampleAlpha)),
			response:     metrics.GetOrRegisterHistogram(url+".response", s.registry, metrics.NewExpDecaySample(sampleSize, sampleAlpha)),
			timeouts:     metrics.GetOrRegisterCounter(url+".timeouts", s.registry),
			disconnects:  metrics.GetOrRegisterCounter(url+".disconnects", s.registry),
			refusals:     metrics.GetOrRegisterCounter(url+".refusals", s.registry),
			lastResponse: metrics.GetOrRegisterGauge(url+".lastResponse", s.registry),
		}
		s.stats[url] = st
	}

	return st
}

func (s *Scoreboard) lookup(url string) *relayStats {
	if normalized, err := model.NormalizeRelayURL(url); err == nil {
		url = normalized
	}
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.stats[url]
}

// Relays lists every relay the scoreboard has heard of, sorted.
func (s *Scoreboard) Relays() []string {
	s.mx.Lock()
	urls := make([]string, 0, len(s.stats))
	for url := range s.stats {
		urls = append(urls, url)
	}
	s.mx.Unlock()
	slices.Sort(urls)

	return urls
}

// Score is 0 for unknown relays. Responses push it up, faster and more recent ones more so;
// every timeout, disconnect and refused subscription pulls it down.
func (s *Scoreboard) Score(url string) float64 {
	st := s.lookup(url)
	if st == nil {
		return 0
	}

	return s.merged(st).score(s.now())
}

// GetRankedRelays orders urls best first. Equal scores keep their input order.
func (s *Scoreboard) GetRankedRelays(urls []string) []string {
	if len(urls) < 2 { //nolint:mnd // Nothing to rank.
		return urls
	}
	scores := make(map[string]float64, len(urls))
	for _, url := range urls {
		scores[url] = s.Score(url)
	}
	ranked := slices.Clone(urls)
	slices.SortStableFunc(ranked, func(a, b string) int { return cmp.Compare(scores[b], scores[a]) })

	return ranked
}

func (s *Scoreboard) merged(st *relayStats) snapshot {
	s.mx.Lock()
	b := st.baseline
	s.mx.Unlock()
	connect, response := st.connect.Snapshot(), st.response.Snapshot()
	m := snapshot{
		Connects:     b.Connects + connect.Count(),
		Responses:    b.Responses + response.Count(),
		Timeouts:     b.Timeouts + st.timeouts.Count(),
		Disconnects:  b.Disconnects + st.disconnects.Count(),
		Refusals:     b.Refusals + st.refusals.Count(),
		LastResponse: max(b.LastResponse, st.lastResponse.Value()),
	}
	if m.Connects > 0 {
		m.ConnectMean = (b.ConnectMean*float64(b.Connects) + connect.Mean()*float64(connect.Count())) / float64(m.Connects)
	}
	if m.Responses > 0 {
		m.ResponseMean = (b.ResponseMean*float64(b.Responses) + response.Mean()*float64(response.Count())) / float64(m.Responses)
	}

	return m
}

func (m snapshot) score(now stdlibtime.Time) float64 {
	var score float64
	if m.Responses > 0 {
		age := now.Sub(stdlibtime.Unix(0, m.LastResponse))
		recency := math.Pow(0.5, max(age, 0).Hours()/recencyHalfLife.Hours()) //nolint:mnd // Half life.
		score += responseScale / max(m.ResponseMean/float64(stdlibtime.Millisecond), minMeanMillis) * (1 + recency)
	}
	if m.Connects > 0 {
		score += connectScale / max(m.ConnectMean/float64(stdlibtime.Millisecond), minMeanMillis)
	}

	return score - timeoutPenalty*float64(m.Timeouts) - disconnectPenalty*float64(m.Disconnects) - refusalPenalty*float64(m.Refusals)
}
