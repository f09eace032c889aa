// SPDX-License-Identifier: ice License 1.0

// Package scoreboard ranks relays by how responsive they have been.
package scoreboard

import (
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/robfig/cron/v3"
	"github.com/syndtr/goleveldb/leveldb"
)

type (
	Config struct {
		// StoragePath of the leveldb snapshot, empty keeps scores in memory only.
		StoragePath      string `yaml:"storagePath" mapstructure:"storagePath"`
		AutoSaveSchedule string `yaml:"autoSaveSchedule" mapstructure:"autoSaveSchedule"`
	}
	Option     func(*Scoreboard)
	Scoreboard struct {
		registry metrics.Registry
		db       *leveldb.DB
		cron     *cron.Cron
		now      func() stdlibtime.Time
		stats    map[string]*relayStats
		mx       sync.Mutex
	}
	relayStats struct {
		connect      metrics.Histogram
		response     metrics.Histogram
		timeouts     metrics.Counter
		disconnects  metrics.Counter
		refusals     metrics.Counter
		lastResponse metrics.Gauge
		// baseline holds what was loaded from storage; samples can't be seeded, so it is merged on read.
		baseline snapshot
	}
	snapshot struct {
		ConnectMean  float64 `json:"connectMean"`
		ResponseMean float64 `json:"responseMean"`
		Connects     int64   `json:"connects"`
		Responses    int64   `json:"responses"`
		Timeouts     int64   `json:"timeouts"`
		Disconnects  int64   `json:"disconnects"`
		Refusals     int64   `json:"refusals"`
		LastResponse int64   `json:"lastResponse"`
	}
)

const (
	storageKeyPrefix = "relay:"

	responseScale     = 1000.
	connectScale      = 100.
	timeoutPenalty    = 2.
	disconnectPenalty = 1.
	refusalPenalty    = .5
	recencyHalfLife   = stdlibtime.Hour
	minMeanMillis     = 1.
	sampleSize        = 1028
	sampleAlpha       = .015
)

var ErrNoStore = errors.New("scoreboard has no storage")
