// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/icicle/model"
)

type recordingWriter struct {
	frames [][]byte
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.frames = append(w.frames, data)

	return nil
}

func signed(t *testing.T, content string, createdAt nostr.Timestamp) *model.Event {
	t.Helper()
	ev := nostr.Event{Kind: nostr.KindTextNote, Content: content, CreatedAt: createdAt, Tags: nostr.Tags{}}
	require.NoError(t, ev.Sign(nostr.GeneratePrivateKey()))

	return model.NewEvent(ev)
}

func TestStoreAcknowledgesPublishedEvents(t *testing.T) {
	t.Parallel()

	ev := signed(t, "hello", 10)
	frame, err := model.NewEventEnvelope(ev).MarshalJSON()
	require.NoError(t, err)

	tests := []struct {
		name   string
		store  *Store
		want   [][]byte
		stored int
	}{
		{name: "accepted", store: NewStore(), want: [][]byte{OKFrame(ev.ID, true, "")}, stored: 1},
		{name: "rejected", store: &Store{Reject: "blocked: spam"}, want: [][]byte{OKFrame(ev.ID, false, "blocked: spam")}},
		{name: "silent", store: &Store{SilentPublish: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := new(recordingWriter)
			tt.store.Handle(context.Background(), w, frame)
			require.Equal(t, tt.want, w.frames)
			tt.store.mx.Lock()
			defer tt.store.mx.Unlock()
			require.Len(t, tt.store.events, tt.stored)
		})
	}
}

func TestStoreAnswersReq(t *testing.T) {
	t.Parallel()

	older, newer := signed(t, "older", 10), signed(t, "newer", 20)
	store := NewStore(older, newer)
	req, err := model.NewReqEnvelope("sub1", model.Filters{{Kinds: []int{nostr.KindTextNote}, Limit: 1}}).MarshalJSON()
	require.NoError(t, err)

	w := new(recordingWriter)
	store.Handle(context.Background(), w, req)
	require.Equal(t, [][]byte{EventFrame("sub1", newer), EOSEFrame("sub1")}, w.frames)
}
