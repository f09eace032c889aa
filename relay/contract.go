// SPDX-License-Identifier: ice License 1.0

// Package relay owns one websocket to one relay and translates its frames into typed streams.
package relay

import (
	"context"
	"io"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
)

type (
	Config struct {
		DialTimeout  stdlibtime.Duration `yaml:"dialTimeout" mapstructure:"dialTimeout"`
		WriteTimeout stdlibtime.Duration `yaml:"writeTimeout" mapstructure:"writeTimeout"`
		// ReadTimeout of 0 waits forever, relays are allowed to stay silent between events.
		ReadTimeout stdlibtime.Duration `yaml:"readTimeout" mapstructure:"readTimeout"`
	}
	State string
	Conn  interface {
		ReadMessage() (messageType int, p []byte, err error)
		WriteMessage(messageType int, data []byte) error
		io.Closer
	}
	Dialer interface {
		Dial(ctx context.Context, url string) (Conn, error)
	}
	// Monitor receives the responsiveness samples of every relay it is attached to.
	Monitor interface {
		Connected(url string, latency stdlibtime.Duration)
		Responded(url string, latency stdlibtime.Duration)
		TimedOut(url string)
		Disconnected(url string, err error)
	}
	IncomingEvent struct {
		Event          *model.Event
		Relay          *Relay
		SubscriptionID string
	}
	IncomingEOSE struct {
		Relay          *Relay
		SubscriptionID string
	}
	IncomingCommandResult struct {
		Relay   *Relay
		EventID string
		Message string
		Status  bool
	}
	IncomingNotice struct {
		Relay   *Relay
		Message string
	}
	IncomingClosed struct {
		Relay          *Relay
		SubscriptionID string
		Reason         string
	}
	Relay struct {
		dialer         Dialer
		monitor        Monitor
		conn           Conn
		err            error
		cfg            *Config
		cancel         context.CancelFunc
		done           chan struct{}
		events         *observable.Subject[*IncomingEvent]
		eose           *observable.Subject[*IncomingEOSE]
		commandResults *observable.Subject[*IncomingCommandResult]
		notices        *observable.Subject[*IncomingNotice]
		closed         *observable.Subject[*IncomingClosed]
		status         *observable.PersistentSubject[State]
		pendingReqs    map[string]stdlibtime.Time
		pendingCmds    map[string]stdlibtime.Time
		url            string
		state          State
		queue          [][]byte
		mx             sync.Mutex
		writeMx        sync.Mutex
		started        bool
	}
)

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

var ErrRelayClosed = errors.New("relay closed")

type (
	noopMonitor struct{}
)
