// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/xorname"
)

func randName(t *testing.T) xorname.XorName {
	t.Helper()
	n, err := xorname.Random()
	require.NoError(t, err)
	return n
}

func genKey(t *testing.T) blssig.PublicKey {
	t.Helper()
	sk, err := blssig.KeyGen([]byte("0123456789012345678901234567890123"))
	require.NoError(t, err)
	return sk.Public()
}

func TestQueueSAPThenFlushReturnsIt(t *testing.T) {
	d := New()
	peer := randName(t)
	sap := knowledge.SAP{Prefix: xorname.RootPrefix(), Generation: 1, SectionPublicKey: genKey(t)}

	require.False(t, d.Pending(peer))
	d.QueueSAP(peer, sap)
	require.True(t, d.Pending(peer))

	batch, ok := d.Flush(peer)
	require.True(t, ok)
	require.Len(t, batch.SAPs, 1)
	require.Equal(t, uint64(1), batch.SAPs[0].Generation)

	_, ok = d.Flush(peer)
	require.False(t, ok, "flush clears the pending batch")
}

func TestQueueSAPCoalescesToNewestGeneration(t *testing.T) {
	d := New()
	peer := randName(t)
	prefix := xorname.RootPrefix()
	d.QueueSAP(peer, knowledge.SAP{Prefix: prefix, Generation: 1, SectionPublicKey: genKey(t)})
	d.QueueSAP(peer, knowledge.SAP{Prefix: prefix, Generation: 2, SectionPublicKey: genKey(t)})
	d.QueueSAP(peer, knowledge.SAP{Prefix: prefix, Generation: 0, SectionPublicKey: genKey(t)})

	batch, ok := d.Flush(peer)
	require.True(t, ok)
	require.Len(t, batch.SAPs, 1, "same prefix must coalesce into one pending entry")
	require.Equal(t, uint64(2), batch.SAPs[0].Generation, "older generations must not clobber a newer pending one")
}

func TestQueueEdgesDeduplicates(t *testing.T) {
	d := New()
	peer := randName(t)
	parent := genKey(t)
	child := genKey(t)
	e := knowledge.Edge{ParentKey: parent, ChildKey: child}

	d.QueueEdges(peer, e, e)
	batch, ok := d.Flush(peer)
	require.True(t, ok)
	require.Len(t, batch.Edges, 1)
}

func TestQueueAllFansOutToEveryPeer(t *testing.T) {
	d := New()
	peers := []xorname.XorName{randName(t), randName(t), randName(t)}
	sap := knowledge.SAP{Prefix: xorname.RootPrefix(), Generation: 1, SectionPublicKey: genKey(t)}

	d.QueueAll(peers, sap, nil)
	for _, p := range peers {
		require.True(t, d.Pending(p))
	}
}

func TestFlushAllDrainsEveryPeer(t *testing.T) {
	d := New()
	a, b := randName(t), randName(t)
	sap := knowledge.SAP{Prefix: xorname.RootPrefix(), Generation: 1, SectionPublicKey: genKey(t)}
	d.QueueSAP(a, sap)
	d.QueueSAP(b, sap)

	all := d.FlushAll()
	require.Len(t, all, 2)
	require.False(t, d.Pending(a))
	require.False(t, d.Pending(b))
}
