// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements Component I: the Adult Chunk Store, a
// content-addressed blob store keyed by hash(content) and backed by
// `cockroachdb/pebble`, the teacher's own on-disk KV dependency. A
// CapacityMonitor tracks used space against the configured quota and
// reports joins_allowed, in the accounting style of the IPFS bitswap
// decision engine's per-peer ledger
// (other_examples/.../dolthub-dolt__vendor...decision-engine.go.go),
// generalized here from per-peer bytes-sent/received accounting to a
// single node-wide used/capacity counter.
package store

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/luxfi/safenode/internal/errs"
	"github.com/luxfi/safenode/internal/xorname"
)

// Backend is the chunk storage contract the query write path and the
// dispatcher's handlers depend on.
type Backend interface {
	// Put stores content at its content-addressed XorName. Storing the
	// same content twice is a no-op: the store is idempotent.
	Put(content []byte) (xorname.XorName, error)
	Get(address xorname.XorName) ([]byte, error)
	Delete(address xorname.XorName) error
	UsedSpace() (uint64, error)
	Close() error
}

// PebbleStore is a Backend persisted under root_dir/chunks, per spec.md's
// external interfaces.
type PebbleStore struct {
	db *pebble.DB

	mu   sync.Mutex
	used uint64
}

// Open opens or creates a chunk store at dir, reconstructing its used-space
// counter by summing the length of every stored value.
func Open(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	s := &PebbleStore{db: db}
	if err := s.reconcileUsedSpace(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) reconcileUsedSpace() error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("store: iterate for reconciliation: %w", err)
	}
	defer iter.Close()

	var used uint64
	for iter.First(); iter.Valid(); iter.Next() {
		used += uint64(len(iter.Value()))
	}
	s.used = used
	return iter.Error()
}

// Put stores content, keyed by its blake2b content hash, and returns that
// address. Storing already-present content does not double-count used
// space.
func (s *PebbleStore) Put(content []byte) (xorname.XorName, error) {
	address := xorname.FromContent(content)
	key := address[:]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return address, nil
	} else if err != pebble.ErrNotFound {
		return xorname.XorName{}, fmt.Errorf("store: get %s: %w", address, err)
	}

	if err := s.db.Set(key, content, pebble.Sync); err != nil {
		return xorname.XorName{}, fmt.Errorf("store: set %s: %w", address, err)
	}
	s.used += uint64(len(content))
	return address, nil
}

// Get returns the chunk stored at address.
func (s *PebbleStore) Get(address xorname.XorName) ([]byte, error) {
	value, closer, err := s.db.Get(address[:])
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("store: %s: %w", address, errs.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", address, err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Delete removes the chunk at address, if present.
func (s *PebbleStore) Delete(address xorname.XorName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, closer, err := s.db.Get(address[:])
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: get %s: %w", address, err)
	}
	freed := uint64(len(value))
	closer.Close()

	if err := s.db.Delete(address[:], pebble.Sync); err != nil {
		return fmt.Errorf("store: delete %s: %w", address, err)
	}
	if freed > s.used {
		s.used = 0
	} else {
		s.used -= freed
	}
	return nil
}

// UsedSpace returns the total bytes currently stored.
func (s *PebbleStore) UsedSpace() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

// Close releases the underlying pebble database handle.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
