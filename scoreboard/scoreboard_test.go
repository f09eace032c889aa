// SPDX-License-Identifier: ice License 1.0

package scoreboard

import (
	"path/filepath"
	"slices"
	"testing"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	combinations "github.com/mxschmitt/golang-combinations"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/fixture"
	"github.com/ice-blockchain/icicle/relay/pool"
)

const (
	fast    = "wss://fast.test"
	slow    = "wss://slow.test"
	flaky   = "wss://flaky.test"
	unseen  = "wss://unseen.test"
	unseen2 = "wss://unseen2.test"
)

var epoch = stdlibtime.Date(2024, 1, 1, 0, 0, 0, 0, stdlibtime.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"))
}

func fixedClock() func() stdlibtime.Time {
	return func() stdlibtime.Time { return epoch }
}

func helperPopulated(t *testing.T, opts ...Option) *Scoreboard {
	t.Helper()
	s := New(append([]Option{WithClock(fixedClock())}, opts...)...)
	s.Connected(fast, 20*stdlibtime.Millisecond)
	s.Responded(fast, 50*stdlibtime.Millisecond)
	s.Responded(fast, 70*stdlibtime.Millisecond)
	s.Connected(slow, 200*stdlibtime.Millisecond)
	s.Responded(slow, 900*stdlibtime.Millisecond)
	s.TimedOut(flaky)
	s.TimedOut(flaky)
	s.Disconnected(flaky, errors.New("gone"))

	return s
}

func TestScore(t *testing.T) {
	t.Parallel()

	s := helperPopulated(t)
	assert.Zero(t, s.Score(unseen))
	assert.Greater(t, s.Score(fast), s.Score(slow))
	assert.Positive(t, s.Score(slow))
	assert.Negative(t, s.Score(flaky))
	assert.InDelta(t, -5., s.Score(flaky), 1e-9)
	assert.Equal(t, s.Score(fast), s.Score("wss://FAST.test/"))
}

func TestGetRankedRelaysEdgeCases(t *testing.T) {
	t.Parallel()

	s := helperPopulated(t)
	require.Empty(t, s.GetRankedRelays([]string{}))
	require.Nil(t, s.GetRankedRelays(nil))
	require.Equal(t, []string{flaky}, s.GetRankedRelays([]string{flaky}))
	require.Equal(t, []string{unseen, unseen2}, s.GetRankedRelays([]string{unseen, unseen2}))
	require.Equal(t, []string{unseen2, unseen}, s.GetRankedRelays([]string{unseen2, unseen}))
}

func TestGetRankedRelaysOrdersBestFirst(t *testing.T) {
	t.Parallel()

	s := helperPopulated(t)
	input := []string{flaky, unseen, slow, unseen2, fast}
	ranked := s.GetRankedRelays(input)
	require.Equal(t, []string{fast, slow, unseen, unseen2, flaky}, ranked)
	require.Equal(t, []string{flaky, unseen, slow, unseen2, fast}, input)
	require.Equal(t, ranked, s.GetRankedRelays(input))
}

func TestGetRankedRelaysIsConsistentAcrossSubsets(t *testing.T) {
	t.Parallel()

	s := helperPopulated(t)
	candidates := []string{unseen2, flaky, unseen, fast, slow}
	full := s.GetRankedRelays(candidates)
	require.Equal(t, []string{fast, slow, unseen2, unseen, flaky}, full)
	for _, subset := range combinations.All(candidates) {
		expected := slices.DeleteFunc(slices.Clone(full), func(url string) bool { return !slices.Contains(subset, url) })
		assert.Equal(t, expected, s.GetRankedRelays(subset), subset)
	}
}

func TestRecentResponsesRankHigher(t *testing.T) {
	t.Parallel()

	now := epoch
	s := New(WithClock(func() stdlibtime.Time { return now }))
	s.Responded(slow, 100*stdlibtime.Millisecond)
	now = now.Add(6 * stdlibtime.Hour)
	s.Responded(fast, 100*stdlibtime.Millisecond)
	require.Greater(t, s.Score(fast), s.Score(slow))
	require.Equal(t, []string{fast, slow}, s.GetRankedRelays([]string{slow, fast}))
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := &Config{StoragePath: filepath.Join(t.TempDir(), "scores")}
	s, err := Open(cfg, WithClock(fixedClock()))
	require.NoError(t, err)
	s.Connected(fast, 20*stdlibtime.Millisecond)
	s.Responded(fast, 60*stdlibtime.Millisecond)
	s.TimedOut(flaky)
	fastScore, flakyScore := s.Score(fast), s.Score(flaky)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	reopened, err := Open(cfg, WithClock(fixedClock()))
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()
	require.InDelta(t, fastScore, reopened.Score(fast), 1e-9)
	require.InDelta(t, flakyScore, reopened.Score(flaky), 1e-9)
	require.Equal(t, []string{fast, flaky}, reopened.Relays())

	reopened.Responded(fast, 60*stdlibtime.Millisecond)
	require.InDelta(t, fastScore, reopened.Score(fast), 1e-9)
	reopened.TimedOut(fast)
	require.InDelta(t, fastScore-timeoutPenalty, reopened.Score(fast), 1e-9)
}

func TestAutoSave(t *testing.T) {
	t.Parallel()

	memory := New()
	require.ErrorIs(t, memory.Save(), ErrNoStore)
	require.ErrorIs(t, memory.Load(), ErrNoStore)
	require.ErrorIs(t, memory.StartAutoSave("@every 1s"), ErrNoStore)
	require.NoError(t, memory.Close())

	_, err := Open(&Config{StoragePath: filepath.Join(t.TempDir(), "bad"), AutoSaveSchedule: "every now and then"})
	require.Error(t, err)

	s, err := Open(&Config{StoragePath: filepath.Join(t.TempDir(), "scores"), AutoSaveSchedule: "@every 1s"})
	require.NoError(t, err)
	s.TimedOut(flaky)
	require.NoError(t, s.Close())
}

func TestAttachCountsRefusedSubscriptions(t *testing.T) {
	t.Parallel()

	dialer := fixture.NewMockDialer(nil)
	p := pool.New(nil, pool.WithDialer(dialer))
	defer func() { require.NoError(t, p.Close()) }()
	s := New()
	detach := s.Attach(p)
	defer detach()

	r, err := p.RequestRelay(flaky)
	require.NoError(t, err)
	require.Equal(t, []string{flaky}, s.Relays())
	require.Zero(t, s.Score(flaky))
	require.Eventually(t, func() bool { return r.State() == relay.StateOpen }, stdlibtime.Second, stdlibtime.Millisecond)
	dialer.Last(flaky).Push(fixture.ClosedFrame("sub", "restricted"))
	require.Eventually(t, func() bool { return s.Score(flaky) < 0 }, stdlibtime.Second, stdlibtime.Millisecond)
	require.InDelta(t, -refusalPenalty, s.Score(flaky), 1e-9)

	require.NoError(t, r.Close())
	require.Eventually(t, func() bool { return r.Status().Listeners() == 0 }, stdlibtime.Second, stdlibtime.Millisecond)
}

func TestWithRegistry(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry()
	s := New(WithRegistry(registry))
	require.Same(t, registry, s.Registry())
	s.TimedOut(flaky)
	s.TimedOut(flaky)
	timeouts, ok := registry.Get(flaky + ".timeouts").(metrics.Counter)
	require.True(t, ok)
	require.Equal(t, int64(2), timeouts.Count())
}
