// SPDX-License-Identifier: ice License 1.0

package model

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func makePtr[T any](b T) *T {
	return &b
}

func normalizeFilters(filters Filters) Filters {
	for i := range filters {
		if len(filters[i].Tags) == 0 {
			filters[i].Tags = nil
		}
	}

	return filters
}

func TestEnvelopeEncodeDecodeWithNostr(t *testing.T) {
	t.Parallel()

	t.Run(string(EnvelopeTypeReq), func(t *testing.T) {
		t.Run("MarshalRequest", func(t *testing.T) {
			e := NewReqEnvelope("sub", Filters{
				{
					IDs:   []string{"1"},
					Kinds: []int{2},
					Tags:  nostr.TagMap{"tag": []string{"foo"}},
				},
				{IDs: []string{"2"}, Kinds: []int{3}, Until: makePtr(nostr.Timestamp(100)), Limit: 10},
			})
			data, err := e.MarshalJSON()
			require.NoError(t, err)
			t.Logf("data: %s", string(data))

			e2 := &nostr.ReqEnvelope{}
			require.NoError(t, e2.UnmarshalJSON(data))
			require.Equal(t, e.SubscriptionID, e2.SubscriptionID)
			require.Equal(t, e.Filters, normalizeFilters(Filters(e2.Filters)))

			e3 := &ReqEnvelope{}
			require.NoError(t, e3.UnmarshalJSON(data))
			require.Equal(t, e.SubscriptionID, e3.SubscriptionID)
			require.Equal(t, e.Filters, normalizeFilters(e3.Filters))
		})
		t.Run("MissingFilters", func(t *testing.T) {
			require.ErrorIs(t, new(ReqEnvelope).UnmarshalJSON([]byte(`["REQ","sub"]`)), ErrParseMessage)
		})
	})
	t.Run(string(EnvelopeTypeClose), func(t *testing.T) {
		data, err := NewCloseEnvelope("sub").MarshalJSON()
		require.NoError(t, err)
		require.JSONEq(t, `["CLOSE","sub"]`, string(data))
	})
	t.Run(string(EnvelopeTypeEvent), func(t *testing.T) {
		ev := &Event{Event: nostr.Event{ID: "abc", Kind: nostr.KindTextNote, Tags: Tags{}, CreatedAt: 1}}
		data, err := NewEventEnvelope(ev).MarshalJSON()
		require.NoError(t, err)
		var decoded nostr.EventEnvelope
		require.NoError(t, decoded.UnmarshalJSON(data))
		require.Nil(t, decoded.SubscriptionID)
		require.Equal(t, "abc", decoded.ID)
	})
}
