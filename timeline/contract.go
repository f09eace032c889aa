// SPDX-License-Identifier: ice License 1.0

// Package timeline merges one subscription per relay into a single deduplicated, newest first event list that pages backwards.
package timeline

import (
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/eventrelays"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay/pool"
	"github.com/ice-blockchain/icicle/subscription"
)

type (
	// EventFilter reports whether an event belongs in the timeline. It must not call back into the loader.
	EventFilter func(*model.Event) bool
	Config      struct {
		PageSize   int                 `yaml:"pageSize" mapstructure:"pageSize"`
		MaxRetries int                 `yaml:"maxRetries" mapstructure:"maxRetries"`
		RetryDelay stdlibtime.Duration `yaml:"retryDelay" mapstructure:"retryDelay"`
	}
	Options struct {
		Config      *Config
		EventFilter EventFilter
		// Tracker, when set, learns the relay of every inbound event.
		Tracker *eventrelays.Tracker
		// Until bounds the first page.
		Until *model.Timestamp
	}
	Loader struct {
		pool     *pool.Pool
		tracker  *eventrelays.Tracker
		accept   EventFilter
		timeline *observable.PersistentSubject[[]*model.Event]
		complete *observable.PersistentSubject[bool]
		cursor   *model.Timestamp
		until    *model.Timestamp
		relays   map[string]*relayLoader
		byUID    map[string]*model.Event
		name     string
		urls     []string
		filters  model.Filters
		page     model.Filters
		events   []*model.Event
		cfg      Config
		state    State
		// query counts filter replacements, so events checked against old filters are not merged.
		query    uint64
		mx       sync.Mutex
		// emitting is set while one goroutine publishes the state; others only mark it dirty.
		emitting bool
		dirty    bool
	}
	State       string
	relayLoader struct {
		sub        *subscription.Subscription
		retry      *stdlibtime.Timer
		disconnect []func()
		url        string
		retries    int
		eose       bool
		lost       bool
		failed     bool
	}
)

const (
	StateInit   State = "init"
	StateOpen   State = "open"
	StateClosed State = "closed"

	defaultPageSize   = 50
	defaultMaxRetries = 2
	defaultRetryDelay = 2 * stdlibtime.Second
)

var (
	ErrClosed  = errors.New("timeline closed")
	ErrNotOpen = errors.New("timeline not open")
)
