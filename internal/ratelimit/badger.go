// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	badgerKeyPrefix = "ratelimit:"

	// Optimistic transactions conflict under contention on a hot key; each
	// round lets at least one contender commit.
	badgerMaxRetries = 64

	badgerDeleteBatch = 1000
)

type badgerWindow struct {
	Count   int64     `json:"c"`
	ResetAt time.Time `json:"r"`
}

// BadgerStore persists windows in an embedded BadgerDB, so counts survive a
// restart of a single-instance gate.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerStore opens (or creates) a BadgerDB at dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStore(db), nil
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db
// unless it calls Close.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

// Increment implements Store.
func (s *BadgerStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := []byte(badgerKeyPrefix + key)

	var result badgerWindow
	var err error
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, time.Time{}, ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			w, found, getErr := s.read(txn, k)
			if getErr != nil {
				return getErr
			}

			now := s.now()
			if !found || !now.Before(w.ResetAt) {
				w = badgerWindow{ResetAt: now.Add(window)}
			}
			w.Count++

			data, mErr := json.Marshal(w)
			if mErr != nil {
				return fmt.Errorf("marshal window: %w", mErr)
			}
			// Badger expiry has one-second granularity; the stored ResetAt
			// stays authoritative and the TTL only bounds disk usage.
			entry := badger.NewEntry(k, data).WithTTL(time.Until(w.ResetAt) + time.Second)
			if setErr := txn.SetEntry(entry); setErr != nil {
				return setErr
			}
			result = w
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("badger increment: %w", err)
	}
	return result.Count, result.ResetAt, nil
}

func (s *BadgerStore) read(txn *badger.Txn, k []byte) (badgerWindow, bool, error) {
	var w badgerWindow
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return w, false, nil
	}
	if err != nil {
		return w, false, fmt.Errorf("get window: %w", err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &w)
	}); err != nil {
		return w, false, fmt.Errorf("decode window: %w", err)
	}
	return w, true, nil
}

// Cleanup implements Store. Badger drops expired entries on compaction; this
// removes elapsed windows eagerly.
func (s *BadgerStore) Cleanup(ctx context.Context) (int, error) {
	var expired [][]byte
	now := s.now()

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var w badgerWindow
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); err != nil {
				// Undecodable windows are garbage too.
				expired = append(expired, item.KeyCopy(nil))
				continue
			}
			if !now.Before(w.ResetAt) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan windows: %w", err)
	}

	removed := 0
	for start := 0; start < len(expired); start += badgerDeleteBatch {
		end := min(start+badgerDeleteBatch, len(expired))
		batch := expired[start:end]
		n := 0
		if err := s.db.Update(func(txn *badger.Txn) error {
			n = 0
			for _, k := range batch {
				// A window may have restarted since the scan.
				w, found, err := s.read(txn, k)
				if err == nil && found && now.Before(w.ResetAt) {
					continue
				}
				if err := txn.Delete(k); err != nil {
					return err
				}
				n++
			}
			return nil
		}); err != nil {
			return removed, fmt.Errorf("delete windows: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Name implements Store.
func (s *BadgerStore) Name() string { return "badger" }
