// SPDX-License-Identifier: ice License 1.0

package scoreboard

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ice-blockchain/icicle/logger"
)

// Open builds a scoreboard per cfg: backed by leveldb and loaded from it when StoragePath is set,
// flushed on AutoSaveSchedule when that is set too.
func Open(cfg *Config, opts ...Option) (*Scoreboard, error) {
	s := New(opts...)
	if cfg == nil || cfg.StoragePath == "" {
		return s, nil
	}
	db, err := leveldb.OpenFile(cfg.StoragePath, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb storage %v", cfg.StoragePath)
	}
	s.db = db
	if err = s.Load(); err != nil {
		return nil, multierror.Append(err, s.Close()).ErrorOrNil() //nolint:wrapcheck // .
	}
	if cfg.AutoSaveSchedule != "" {
		if err = s.StartAutoSave(cfg.AutoSaveSchedule); err != nil {
			return nil, multierror.Append(err, s.Close()).ErrorOrNil() //nolint:wrapcheck // .
		}
	}

	return s, nil
}

// Save writes a snapshot of every known relay.
func (s *Scoreboard) Save() error {
	s.mx.Lock()
	db := s.db
	if db == nil {
		s.mx.Unlock()

		return ErrNoStore
	}
	stats := make(map[string]*relayStats, len(s.stats))
	for url, st := range s.stats {
		stats[url] = st
	}
	s.mx.Unlock()
	batch := new(leveldb.Batch)
	var mErr *multierror.Error
	for url, st := range stats {
		b, err := json.Marshal(s.merged(st))
		if err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "failed to serialize scores of %v", url))

			continue
		}
		batch.Put([]byte(storageKeyPrefix+url), b)
	}
	if err := db.Write(batch, nil); err != nil {
		mErr = multierror.Append(mErr, errors.Wrap(err, "failed to write scores"))
	}

	return mErr.ErrorOrNil() //nolint:wrapcheck // Already wrapped.
}

// Load replaces the baseline of every stored relay. Broken records are skipped and reported.
func (s *Scoreboard) Load() error {
	s.mx.Lock()
	db := s.db
	s.mx.Unlock()
	if db == nil {
		return ErrNoStore
	}
	iter := db.NewIterator(util.BytesPrefix([]byte(storageKeyPrefix)), nil)
	defer iter.Release()
	var mErr *multierror.Error
	for iter.Next() {
		url := strings.TrimPrefix(string(iter.Key()), storageKeyPrefix)
		var snap snapshot
		if err := json.Unmarshal(iter.Value(), &snap); err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "failed to decode scores of %v", url))

			continue
		}
		st := s.relay(url)
		s.mx.Lock()
		st.baseline = snap
		s.mx.Unlock()
	}
	if err := iter.Error(); err != nil {
		mErr = multierror.Append(mErr, errors.Wrap(err, "failed to iterate scores"))
	}

	return mErr.ErrorOrNil() //nolint:wrapcheck // Already wrapped.
}

// StartAutoSave saves on schedule, in cron syntax or descriptors like "@every 1m".
func (s *Scoreboard) StartAutoSave(schedule string) error {
	s.mx.Lock()
	db := s.db
	s.mx.Unlock()
	if db == nil {
		return ErrNoStore
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := s.Save(); err != nil {
			logger.Log.Errorw("scoreboard autosave failed", "error", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid autosave schedule %q", schedule)
	}
	s.mx.Lock()
	s.cron = c
	s.mx.Unlock()
	c.Start()

	return nil
}

// Close stops autosaving, flushes a final snapshot and closes the storage.
func (s *Scoreboard) Close() error {
	s.mx.Lock()
	c, db := s.cron, s.db
	s.cron = nil
	s.mx.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	if db == nil {
		return nil
	}
	err := multierror.Append(s.Save(), errors.Wrap(db.Close(), "failed to close leveldb"))
	s.mx.Lock()
	s.db = nil
	s.mx.Unlock()

	return err.ErrorOrNil() //nolint:wrapcheck // Already wrapped.
}
