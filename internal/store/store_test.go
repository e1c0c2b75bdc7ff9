// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/errs"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	addr, err := s.Put([]byte("hello chunk"))
	require.NoError(t, err)

	got, err := s.Get(addr)
	require.NoError(t, err)
	require.Equal(t, []byte("hello chunk"), got)
}

func TestGetMissingReturnsDataNotFound(t *testing.T) {
	s := openTestStore(t)
	var missing [32]byte
	_, err := s.Get(missing)
	require.ErrorIs(t, err, errs.ErrDataNotFound)
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	s := openTestStore(t)
	a1, err := s.Put([]byte("same content"))
	require.NoError(t, err)
	a2, err := s.Put([]byte("same content"))
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	used, err := s.UsedSpace()
	require.NoError(t, err)
	require.Equal(t, uint64(len("same content")), used)
}

func TestDeleteFreesUsedSpace(t *testing.T) {
	s := openTestStore(t)
	addr, err := s.Put([]byte("to be deleted"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(addr))
	_, err = s.Get(addr)
	require.ErrorIs(t, err, errs.ErrDataNotFound)

	used, err := s.UsedSpace()
	require.NoError(t, err)
	require.Equal(t, uint64(0), used)
}

func TestUsedSpaceReconciledOnReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Put([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	used, err := reopened.UsedSpace()
	require.NoError(t, err)
	require.Equal(t, uint64(len("persisted")), used)
}

func TestCapacityMonitorJoinsAllowed(t *testing.T) {
	m := NewCapacityMonitor(100, 0.9)
	require.True(t, m.JoinsAllowed(50))
	require.False(t, m.JoinsAllowed(95))
}

func TestCapacityMonitorZeroCapacityNeverAllowsJoins(t *testing.T) {
	m := NewCapacityMonitor(0, 0.9)
	require.False(t, m.JoinsAllowed(0))
}
