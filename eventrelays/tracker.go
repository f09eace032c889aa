// SPDX-License-Identifier: ice License 1.0

package eventrelays

import (
	"slices"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
)

func New() *Tracker {
	return &Tracker{seen: make(map[string]*observable.PersistentSubject[[]string])}
}

// Add records that eventID was received from relayURL. Urls are stored normalized, in arrival order, once.
func (t *Tracker) Add(eventID, relayURL string) {
	if url, err := model.NormalizeRelayURL(relayURL); err == nil {
		relayURL = url
	}
	t.Get(eventID).Update(func(urls []string) ([]string, bool) {
		if slices.Contains(urls, relayURL) {
			return urls, false
		}

		return append(slices.Clone(urls), relayURL), true
	})
}

// Get returns the live relay list of eventID, empty until the event is seen.
func (t *Tracker) Get(eventID string) *observable.PersistentSubject[[]string] {
	t.mx.Lock()
	defer t.mx.Unlock()
	relays, found := t.seen[eventID]
	if !found {
		relays = observable.NewPersistentSubjectWithValue([]string{})
		t.seen[eventID] = relays
	}

	return relays
}

func (t *Tracker) Relays(eventID string) []string {
	t.mx.Lock()
	relays, found := t.seen[eventID]
	t.mx.Unlock()
	if !found {
		return nil
	}

	return slices.Clone(relays.Current())
}

func (t *Tracker) Len() int {
	t.mx.Lock()
	defer t.mx.Unlock()

	return len(t.seen)
}
