// SPDX-License-Identifier: ice License 1.0

// Package client wires the pool, scoreboard, publish log and event relay tracker into one handle.
package client

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/icicle/eventrelays"
	"github.com/ice-blockchain/icicle/publish"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
	"github.com/ice-blockchain/icicle/scoreboard"
	"github.com/ice-blockchain/icicle/timeline"
)

type (
	Config struct {
		Relay         *relay.Config      `yaml:"-" mapstructure:"-"`
		Pool          *pool.Config       `yaml:"-" mapstructure:"-"`
		Publish       *publish.Config    `yaml:"-" mapstructure:"-"`
		Timeline      *timeline.Config   `yaml:"-" mapstructure:"-"`
		Scoreboard    *scoreboard.Config `yaml:"-" mapstructure:"-"`
		DefaultRelays []string           `yaml:"defaultRelays" mapstructure:"defaultRelays"`
	}
	Option func(*Client)
	Client struct {
		pool       *pool.Pool
		scoreboard *scoreboard.Scoreboard
		log        *publish.Log
		tracker    *eventrelays.Tracker
		detach     func()
		dialer     relay.Dialer
		registry   metrics.Registry
		cfg        Config
		mx         sync.Mutex
	}
)

var ErrNoRelays = errors.New("no relays given and none configured")
