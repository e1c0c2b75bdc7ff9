// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

func randName(t *testing.T) xorname.XorName {
	t.Helper()
	n, err := xorname.Random()
	require.NoError(t, err)
	return n
}

func TestEnqueueDropsLowestPriorityFirstOnOverflow(t *testing.T) {
	d := New(func(context.Context, Inbound) []Outbound { return nil }, 2, 1, nil)

	probe := Inbound{Peer: randName(t), Priority: PriorityProbe}
	read := Inbound{Peer: randName(t), Priority: PriorityClientRead}
	gov := Inbound{Peer: randName(t), Priority: PriorityGovernance}

	require.True(t, d.Enqueue(probe))
	require.True(t, d.Enqueue(read))
	require.Equal(t, 2, d.Len())

	// Queue is full; governance must evict the probe, not the read.
	require.True(t, d.Enqueue(gov))
	require.Equal(t, 2, d.Len())

	d.mu.Lock()
	_, probeStillQueued := len(d.queues[PriorityProbe]), len(d.queues[PriorityProbe]) > 0
	d.mu.Unlock()
	require.False(t, probeStillQueued)
}

func TestEnqueueRejectsWhenNoLowerPriorityToEvict(t *testing.T) {
	d := New(func(context.Context, Inbound) []Outbound { return nil }, 1, 1, nil)
	require.True(t, d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityGovernance}))
	accepted := d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityGovernance})
	require.False(t, accepted, "queue is full of equal-or-higher priority work")
}

func TestDequeueIsHighestPriorityFirst(t *testing.T) {
	d := New(func(context.Context, Inbound) []Outbound { return nil }, 10, 1, nil)
	require.True(t, d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityProbe}))
	require.True(t, d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityGovernance}))
	require.True(t, d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityClientRead}))

	first, ok := d.dequeueLocked()
	require.True(t, ok)
	require.Equal(t, PriorityGovernance, first.Priority)
}

func TestPerPeerFIFOOrderWithinPriority(t *testing.T) {
	d := New(func(context.Context, Inbound) []Outbound { return nil }, 10, 1, nil)
	peer := randName(t)
	first := wire.Envelope{MsgID: [16]byte{1}}
	second := wire.Envelope{MsgID: [16]byte{2}}
	require.True(t, d.Enqueue(Inbound{Peer: peer, Envelope: first, Priority: PriorityClientRead}))
	require.True(t, d.Enqueue(Inbound{Peer: peer, Envelope: second, Priority: PriorityClientRead}))

	a, ok := d.dequeueLocked()
	require.True(t, ok)
	b, ok := d.dequeueLocked()
	require.True(t, ok)
	require.Equal(t, first.MsgID, a.Envelope.MsgID)
	require.Equal(t, second.MsgID, b.Envelope.MsgID)
}

func TestRunInvokesHandlerAndForwardsOutbound(t *testing.T) {
	to := randName(t)
	d := New(func(_ context.Context, in Inbound) []Outbound {
		return []Outbound{{To: to, Envelope: in.Envelope}}
	}, 10, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	d.Enqueue(Inbound{Peer: randName(t), Envelope: wire.Envelope{MsgID: [16]byte{9}}, Priority: PriorityClientRead})

	select {
	case out := <-d.Outbound():
		require.Equal(t, to, out.To)
		require.Equal(t, [16]byte{9}, out.Envelope.MsgID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound command")
	}

	cancel()
	wg.Wait()
}

func TestStopWaitsForDrainWithinGrace(t *testing.T) {
	var handled int32
	var mu sync.Mutex
	d := New(func(context.Context, Inbound) []Outbound {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}, 10, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 5; i++ {
		d.Enqueue(Inbound{Peer: randName(t), Priority: PriorityClientRead})
	}

	d.Stop(time.Second)
	require.Equal(t, 0, d.Len())
}

func TestWorkerPoolRunsSubmittedJobs(t *testing.T) {
	p := NewWorkerPool(2, 4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	sum := 0
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		n := i
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			sum += n
			mu.Unlock()
		})
	}
	wg.Wait()
	p.Stop()
	require.Equal(t, 15, sum)
}
