// SPDX-License-Identifier: ice License 1.0

package timeline

import (
	"testing"
	stdlibtime "time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/icicle/eventrelays"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/relay/fixture"
	"github.com/ice-blockchain/icicle/relay/pool"
)

func TestDroppedRelayEventsAreNotTracked(t *testing.T) {
	t.Parallel()

	const relayA, relayB = "wss://a.test", "wss://b.test"
	p := pool.New(&pool.Config{GraceDelay: 20 * stdlibtime.Millisecond}, pool.WithDialer(fixture.NewMockDialer(fixture.NewStore().Handle)))
	defer func() { require.NoError(t, p.Close()) }()
	tracker := eventrelays.New()
	l := New(p, t.Name(), []string{relayA, relayB}, model.Filters{{Kinds: []int{nostr.KindTextNote}}}, &Options{Tracker: tracker})
	require.NoError(t, l.Open())
	require.Eventually(t, func() bool { return l.Complete().Current() }, 5*stdlibtime.Second, stdlibtime.Millisecond)

	l.mx.Lock()
	dropped, kept := l.relays[relayA], l.relays[relayB]
	l.mx.Unlock()
	require.NoError(t, l.SetRelays([]string{relayB}))

	ev := func(id string) *model.Event {
		return model.NewEvent(nostr.Event{ID: id, PubKey: "pk", Kind: nostr.KindTextNote, CreatedAt: 100})
	}
	l.handleEvent(dropped, ev("late"))
	assert.Empty(t, tracker.Relays("late"))
	assert.Empty(t, l.Events())

	l.handleEvent(kept, ev("live"))
	assert.Equal(t, []string{relayB}, tracker.Relays("live"))
	assert.Len(t, l.Events(), 1)

	require.NoError(t, l.Close())
	l.handleEvent(kept, ev("closed"))
	assert.Empty(t, tracker.Relays("closed"))
	assert.Len(t, l.Events(), 1)
}
