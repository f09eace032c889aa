// SPDX-License-Identifier: ice License 1.0

// Package subscription keeps one standing query against one relay.
package subscription

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

type (
	State   string
	Options struct {
		// ID defaults to the next process wide id.
		ID string
		// Label names the pool claim, for logs only.
		Label string
	}
	Subscription struct {
		pool        *pool.Pool
		relay       *relay.Relay
		claim       *pool.Claim
		events      *observable.Subject[*relay.IncomingEvent]
		eose        *observable.Subject[*relay.IncomingEOSE]
		relayClosed *observable.Subject[error]
		url         string
		id          string
		state       State
		filters     model.Filters
		disconnect  []func()
		mx          sync.Mutex
	}
)

const (
	StateInit   State = "init"
	StateOpen   State = "open"
	StateClosed State = "closed"

	firstID = 10_000
)

var (
	ErrNoQuery = errors.New("subscription has no query")
	// ErrRefused is what OnRelayClosed carries when the relay itself ended the subscription.
	ErrRefused = errors.New("subscription closed by relay")
)
