// SPDX-License-Identifier: ice License 1.0

// Package publish fans one event out to many relays and collects what each of them answered.
package publish

import (
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

type (
	Config struct {
		Timeout stdlibtime.Duration `yaml:"timeout" mapstructure:"timeout"`
	}
	Options struct {
		// Log, when set, gets the action appended at construction.
		Log     *Log
		Timeout stdlibtime.Duration
	}
	Result struct {
		// Relay is nil when the url never resolved to a connection.
		Relay   *relay.Relay
		URL     string
		Message string
		Status  bool
	}
	Action struct {
		pool      *pool.Pool
		event     *model.Event
		claim     *pool.Claim
		timer     *stdlibtime.Timer
		future    *observable.Future[[]*Result]
		results   *observable.PersistentSubject[[]*Result]
		onResult  *observable.Subject[*Result]
		remaining map[string]*target
		label     string
		urls      []string
		log       []*Result
		emissions []*emission
		seq       uint64
		mx        sync.Mutex
		// emitting is set while one goroutine delivers the queued emissions.
		emitting bool
	}
	emission struct {
		result   *Result
		snapshot []*Result
		done     bool
	}
	Log struct {
		actions *observable.PersistentSubject[[]*Action]
	}
	target struct {
		relay       *relay.Relay
		unsubscribe func()
	}
)

const (
	defaultTimeout = 5 * stdlibtime.Second
	// TimeoutMessage is the message of results synthesized for relays that never answered.
	TimeoutMessage = "Timeout"
)

var ErrNoRelays = errors.New("no relays to publish to")
