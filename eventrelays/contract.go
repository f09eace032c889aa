// SPDX-License-Identifier: ice License 1.0

// Package eventrelays remembers which relays every seen event came from.
package eventrelays

import (
	"sync"

	"github.com/ice-blockchain/icicle/observable"
)

type (
	Tracker struct {
		seen map[string]*observable.PersistentSubject[[]string]
		mx   sync.Mutex
	}
)
