// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"cmp"
	"context"
	"slices"

	"github.com/gobwas/ws"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
)

func NewStore(events ...*model.Event) *Store {
	return &Store{events: events}
}

func (s *Store) Add(events ...*model.Event) {
	s.mx.Lock()
	s.events = append(s.events, events...)
	s.mx.Unlock()
}

// Handle is a Handler.
func (s *Store) Handle(_ context.Context, w Writer, in []byte) {
	envelope, err := model.ParseClientMessage(in)
	if err != nil {
		write(w, NoticeFrame(err.Error()))

		return
	}
	switch e := envelope.(type) {
	case *nostr.EventEnvelope:
		s.handleEvent(w, model.NewEvent(e.Event))
	case *model.ReqEnvelope:
		s.handleReq(w, e)
	}
}

func (s *Store) handleEvent(w Writer, event *model.Event) {
	s.mx.Lock()
	silent, reject := s.SilentPublish, s.Reject
	if !silent && reject == "" {
		s.events = append(s.events, event)
	}
	s.mx.Unlock()
	if silent {
		return
	}
	write(w, OKFrame(event.ID, reject == "", reject))
}

func (s *Store) handleReq(w Writer, req *model.ReqEnvelope) {
	s.mx.Lock()
	silent := s.SilentReq
	events := append([]*model.Event(nil), s.events...)
	s.mx.Unlock()
	if silent {
		return
	}
	slices.SortStableFunc(events, func(a, b *model.Event) int { return cmp.Compare(b.CreatedAt, a.CreatedAt) })
	sent := make(map[string]struct{})
	for i := range req.Filters {
		matched := 0
		for _, ev := range events {
			if req.Filters[i].Limit > 0 && matched == req.Filters[i].Limit {
				break
			}
			if !req.Filters[i].Matches(&ev.Event) {
				continue
			}
			matched++
			if _, dup := sent[ev.ID]; dup {
				continue
			}
			sent[ev.ID] = struct{}{}
			write(w, EventFrame(req.SubscriptionID, ev))
		}
	}
	write(w, EOSEFrame(req.SubscriptionID))
}

func write(w Writer, frame []byte) {
	if err := w.WriteMessage(int(ws.OpText), frame); err != nil {
		logger.Log.Warnw("fixture write failed", "error", err)
	}
}

func EventFrame(subscriptionID string, event *model.Event) []byte {
	return marshal(&nostr.EventEnvelope{SubscriptionID: &subscriptionID, Event: event.Event})
}

func EOSEFrame(subscriptionID string) []byte {
	e := nostr.EOSEEnvelope(subscriptionID)

	return marshal(&e)
}

func OKFrame(eventID string, ok bool, reason string) []byte {
	return marshal(&nostr.OKEnvelope{EventID: eventID, OK: ok, Reason: reason})
}

func ClosedFrame(subscriptionID, reason string) []byte {
	return marshal(&nostr.ClosedEnvelope{SubscriptionID: subscriptionID, Reason: reason})
}

func NoticeFrame(msg string) []byte {
	e := nostr.NoticeEnvelope(msg)

	return marshal(&e)
}

func marshal(envelope nostr.Envelope) []byte {
	b, err := envelope.MarshalJSON()
	if err != nil {
		panic(err)
	}

	return b
}
