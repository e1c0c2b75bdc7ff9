// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package query

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/errs"
	"github.com/luxfi/safenode/internal/xorname"
)

func randName(t *testing.T) xorname.XorName {
	t.Helper()
	n, err := xorname.Random()
	require.NoError(t, err)
	return n
}

func randSig(t *testing.T) blssig.Signature {
	t.Helper()
	ikm := make([]byte, 32)
	_, err := rand.Read(ikm)
	require.NoError(t, err)
	sk, err := blssig.KeyGen(ikm)
	require.NoError(t, err)
	return sk.Sign([]byte("write-command"))
}

func TestSelectClosestOrdersByDistanceThenAgeThenLatency(t *testing.T) {
	target, err := xorname.Random()
	require.NoError(t, err)

	a := AdultInfo{Name: target, Age: 5} // distance 0: closest possible
	far, err := xorname.Random()
	require.NoError(t, err)
	b := AdultInfo{Name: far, Age: 9}

	ordered := SelectClosest(target, []AdultInfo{b, a})
	require.Equal(t, a.Name, ordered[0].Name)

	// Equal names tie on distance, so age and then latency decide.
	slow := AdultInfo{Name: far, Age: 9, Latency: time.Millisecond}
	young := AdultInfo{Name: far, Age: 3}
	ordered = SelectClosest(target, []AdultInfo{young, slow, b, a})
	require.Equal(t, []AdultInfo{a, b, slow, young}, ordered)
}

func TestStartReadCoalescesSameOpID(t *testing.T) {
	p := New(Hooks{})
	target := randName(t)
	candidates := []AdultInfo{{Name: randName(t)}, {Name: randName(t)}}
	opID := ComputeOpID([16]byte{1}, target)

	w1 := make(chan ReadResult, 1)
	w2 := make(chan ReadResult, 1)
	to1, fresh1 := p.StartRead(opID, target, candidates, time.Second, time.Now(), w1)
	to2, fresh2 := p.StartRead(opID, target, candidates, time.Second, time.Now(), w2)

	require.True(t, fresh1)
	require.False(t, fresh2)
	require.NotEqual(t, xorname.XorName{}, to1)
	require.Equal(t, xorname.XorName{}, to2)
	require.Equal(t, 1, p.InFlightReads())
}

func TestReceiveReplySuccessDeliversToAllWaiters(t *testing.T) {
	p := New(Hooks{})
	target := randName(t)
	adult := randName(t)
	opID := ComputeOpID([16]byte{2}, target)

	w1 := make(chan ReadResult, 1)
	w2 := make(chan ReadResult, 1)
	to, _ := p.StartRead(opID, target, []AdultInfo{{Name: adult}}, time.Second, time.Now(), w1)
	p.StartRead(opID, target, []AdultInfo{{Name: adult}}, time.Second, time.Now(), w2)
	require.Equal(t, adult, to)

	delivered, _ := p.ReceiveReply(opID, adult, []byte("chunk"), true, 3)
	require.True(t, delivered)

	r1 := <-w1
	r2 := <-w2
	require.NoError(t, r1.Err)
	require.Equal(t, []byte("chunk"), r1.Data)
	require.NoError(t, r2.Err)
	require.Equal(t, 0, p.InFlightReads())
}

func TestDataNotFoundReselectsNextClosest(t *testing.T) {
	p := New(Hooks{})
	target := randName(t)
	first := randName(t)
	second := randName(t)
	opID := ComputeOpID([16]byte{3}, target)

	w := make(chan ReadResult, 1)
	firstTry, _ := p.StartRead(opID, target, []AdultInfo{{Name: first}, {Name: second}}, time.Second, time.Now(), w)

	delivered, next := p.ReceiveReply(opID, firstTry, nil, false, 3)
	require.False(t, delivered, "a single DataNotFound must not fail the client")
	require.NotEqual(t, xorname.XorName{}, next)
	require.NotEqual(t, firstTry, next)

	delivered, _ = p.ReceiveReply(opID, next, []byte("ok"), true, 3)
	require.True(t, delivered)
	require.Equal(t, ReadResult{Data: []byte("ok")}, <-w)
}

func TestDepletionSurfacesNoHolders(t *testing.T) {
	p := New(Hooks{})
	target := randName(t)
	only := randName(t)
	opID := ComputeOpID([16]byte{4}, target)

	w := make(chan ReadResult, 1)
	to, _ := p.StartRead(opID, target, []AdultInfo{{Name: only}}, time.Second, time.Now(), w)
	require.Equal(t, only, to)

	delivered, _ := p.ReceiveReply(opID, only, nil, false, 3)
	require.True(t, delivered)
	res := <-w
	require.ErrorIs(t, res.Err, errs.ErrNoHolders)
}

func TestCheckReadTimeoutsRecordsUnfulfilledIssue(t *testing.T) {
	var reported []xorname.XorName
	p := New(Hooks{OnRequestUnfulfilled: func(peer xorname.XorName, _ OpID) {
		reported = append(reported, peer)
	}})

	target := randName(t)
	adult := randName(t)
	start := time.Now()
	opID := ComputeOpID([16]byte{5}, target)
	p.StartRead(opID, target, []AdultInfo{{Name: adult}}, time.Millisecond, start, make(chan ReadResult, 1))

	redispatch := p.CheckReadTimeouts(start.Add(time.Second), time.Second, 3)
	require.Len(t, reported, 1)
	require.Equal(t, adult, reported[0])
	require.Empty(t, redispatch, "no more candidates: the op is failed, not redispatched")
}

func TestWriteAggregatesSharesAndAcksOnSupermajority(t *testing.T) {
	p := New(Hooks{})
	address := randName(t)
	opID := ComputeOpID([16]byte{6}, address)
	p.StartWrite(opID, address, []byte("data"), 4)

	for i := 0; i < 3; i++ {
		_, ok, err := p.ReceiveElderShare(opID, randName(t), randSig(t), 3)
		require.NoError(t, err)
		if i < 2 {
			require.False(t, ok)
		} else {
			require.True(t, ok)
		}
	}

	acked := false
	for i := 0; i < 3; i++ {
		if p.ReceiveAdultAck(opID, randName(t), 3) {
			acked = true
		}
	}
	require.True(t, acked)
}
