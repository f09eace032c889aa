// SPDX-License-Identifier: ice License 1.0

package pool_test

import (
	"sync"
	"testing"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/fixture"
	"github.com/ice-blockchain/icicle/relay/pool"
)

const (
	testURL    = "wss://relay.test"
	graceDelay = 50 * stdlibtime.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPool(t *testing.T) (*pool.Pool, *fixture.MockDialer) {
	t.Helper()
	dialer := fixture.NewMockDialer(fixture.NewStore().Handle)
	p := pool.New(&pool.Config{GraceDelay: graceDelay}, pool.WithDialer(dialer))
	t.Cleanup(func() { require.NoError(t, p.Close()) })

	return p, dialer
}

func TestRequestRelayIsSingletonUnderConcurrency(t *testing.T) {
	t.Parallel()

	p, dialer := newPool(t)
	dialer.HoldDials()
	created := 0
	var createdMx sync.Mutex
	unsubscribe := p.OnRelay().Subscribe(func(*relay.Relay) {
		createdMx.Lock()
		created++
		createdMx.Unlock()
	})
	defer unsubscribe()

	urls := []string{"wss://relay.test", "wss://RELAY.test/", "wss://relay.test:443", " wss://relay.test"}
	const workers = 64
	got := make([]*relay.Relay, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.RequestRelay(urls[i%len(urls)])
			assert.NoError(t, err)
			got[i] = r
		}()
	}
	wg.Wait()
	dialer.ReleaseDials()
	require.Eventually(t, func() bool { return dialer.Dials(testURL) == 1 }, stdlibtime.Second, stdlibtime.Millisecond)
	for i := range got {
		require.Same(t, got[0], got[i])
	}
	require.Equal(t, testURL, got[0].URL())
	require.Equal(t, 1, dialer.Dials(testURL))
	require.Equal(t, 1, created)
	require.Len(t, p.Relays(), 1)
}

func TestRequestRelayRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t)
	_, err := p.RequestRelay("https://relay.test")
	require.ErrorIs(t, err, model.ErrInvalidRelayURL)
	require.ErrorIs(t, p.AddClaim("nope", pool.NewClaim("x")), model.ErrInvalidRelayURL)
	require.Zero(t, p.Claims("nope"))
}

func TestLastClaimRemovalTearsDownAfterGraceDelay(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t)
	r, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	claim := pool.NewClaim("timeline")
	require.NoError(t, p.AddClaim(testURL, claim))
	require.Equal(t, 1, p.Claims(testURL))

	removed := stdlibtime.Now()
	p.RemoveClaim(testURL, claim)
	require.Zero(t, p.Claims(testURL))
	require.NotEqual(t, relay.StateClosed, r.State())
	require.Eventually(t, func() bool { return r.State() == relay.StateClosed }, 5*graceDelay, stdlibtime.Millisecond)
	require.GreaterOrEqual(t, stdlibtime.Since(removed), graceDelay)
	require.NoError(t, r.Err())
	require.Empty(t, p.Relays())

	again, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	require.NotSame(t, r, again)
}

func TestReclaimWithinGraceKeepsRelayOpen(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t)
	r, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	first, second := pool.NewClaim("view"), pool.NewClaim("view")
	require.NoError(t, p.AddClaim(testURL, first))
	p.RemoveClaim(testURL, first)
	stdlibtime.Sleep(graceDelay / 5)
	require.NoError(t, p.AddClaim(testURL, second))

	stdlibtime.Sleep(3 * graceDelay)
	require.Equal(t, relay.StateOpen, r.State())
	require.Equal(t, 1, p.Claims(testURL))
	same, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	require.Same(t, r, same)
}

func TestClaimsAreComparedByIdentity(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t)
	r, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	a, b := pool.NewClaim("same"), pool.NewClaim("same")
	require.NoError(t, p.AddClaim(testURL, a))
	require.NoError(t, p.AddClaim(testURL, b))
	require.NoError(t, p.AddClaim(testURL, a))
	require.Equal(t, 2, p.Claims(testURL))

	p.RemoveClaim(testURL, a)
	p.RemoveClaim(testURL, a)
	p.RemoveClaim(testURL, pool.NewClaim("same"))
	require.Equal(t, 1, p.Claims(testURL))
	stdlibtime.Sleep(3 * graceDelay)
	require.NotEqual(t, relay.StateClosed, r.State())
}

func TestClosedRelayIsRecreatedOnRequest(t *testing.T) {
	t.Parallel()

	p, dialer := newPool(t)
	claim := pool.NewClaim("sub")
	require.NoError(t, p.AddClaim(testURL, claim))
	r, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.State() == relay.StateOpen }, stdlibtime.Second, stdlibtime.Millisecond)

	dialer.Last(testURL).Drop(errors.New("gone"))
	<-r.Done()
	stdlibtime.Sleep(graceDelay)
	require.Equal(t, 1, dialer.Dials(testURL))

	recreated, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	require.NotSame(t, r, recreated)
	require.Eventually(t, func() bool { return dialer.Dials(testURL) == 2 }, stdlibtime.Second, stdlibtime.Millisecond)
	require.Equal(t, 1, p.Claims(testURL))
}

func TestCloseClosesEverything(t *testing.T) {
	t.Parallel()

	dialer := fixture.NewMockDialer(nil)
	p := pool.New(nil, pool.WithDialer(dialer))
	a, err := p.RequestRelay("wss://a.test")
	require.NoError(t, err)
	b, err := p.RequestRelay("wss://b.test")
	require.NoError(t, err)
	require.NoError(t, p.AddClaim("wss://a.test", pool.NewClaim("held")))

	require.NoError(t, p.Close())
	<-a.Done()
	<-b.Done()
	require.Equal(t, relay.StateClosed, a.State())
	require.Equal(t, relay.StateClosed, b.State())
	_, err = p.RequestRelay("wss://a.test")
	require.ErrorIs(t, err, pool.ErrPoolClosed)
	require.NoError(t, p.Close())
}

func TestSetGraceDelayAppliesToLaterTeardowns(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t)
	p.SetGraceDelay(stdlibtime.Hour)
	r, err := p.RequestRelay(testURL)
	require.NoError(t, err)
	claim := pool.NewClaim("timeline")
	require.NoError(t, p.AddClaim(testURL, claim))
	p.RemoveClaim(testURL, claim)
	stdlibtime.Sleep(3 * graceDelay)
	require.NotEqual(t, relay.StateClosed, r.State())

	require.NoError(t, p.AddClaim(testURL, claim))
	p.SetGraceDelay(0)
	p.RemoveClaim(testURL, claim)
	require.Eventually(t, func() bool { return r.State() == relay.StateClosed }, 5*stdlibtime.Second, stdlibtime.Millisecond)
}
