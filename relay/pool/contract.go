// SPDX-License-Identifier: ice License 1.0

// Package pool shares one relay connection per url between everyone holding a claim on it.
package pool

import (
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
)

type (
	Config struct {
		// GraceDelay is how long an unclaimed relay stays open, absorbing release and reclaim churn.
		GraceDelay stdlibtime.Duration `yaml:"graceDelay" mapstructure:"graceDelay"`
	}
	// Claim is an interest handle. Two claims are never equal, whatever their labels.
	Claim struct {
		label string
	}
	Option func(*Pool)
	Pool   struct {
		dialer   relay.Dialer
		monitor  relay.Monitor
		relayCfg *relay.Config
		onRelay  *observable.Subject[*relay.Relay]
		entries  map[string]*entry
		cfg      Config
		mx       sync.Mutex
		closed   bool
	}
	entry struct {
		relay      *relay.Relay
		claims     map[*Claim]struct{}
		teardown   *stdlibtime.Timer
		generation uint64
	}
)

const defaultGraceDelay = stdlibtime.Second

var ErrPoolClosed = errors.New("pool closed")
