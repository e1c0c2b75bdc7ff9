// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dispatch implements Component F: the single logical cooperative
// loop per node. Inbound envelopes are enqueued and handled in arrival
// order; handlers emit zero or more outbound commands and must not block,
// per spec.md §4.F and §5. The message/command vocabulary (Connected,
// Disconnected, inbound handling, request registration) follows
// networking/router/chain_router.go, generalized from a per-chain router
// to a bounded, priority-aware single-node queue with an explicit worker
// pool for CPU-bound work (BLS, DKG, hashing).
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// Priority classes inbound messages for backpressure purposes. Under
// queue overflow, the lowest class is dropped first, per spec.md §5:
// "AE-Probe < client reads < node governance".
type Priority int

const (
	PriorityProbe Priority = iota
	PriorityClientRead
	PriorityGovernance

	numPriorities = int(PriorityGovernance) + 1
)

// Inbound is one decoded envelope ready for handling.
type Inbound struct {
	Peer     xorname.XorName
	Envelope wire.Envelope
	Priority Priority
}

// Outbound is one command a handler wants sent.
type Outbound struct {
	To       xorname.XorName
	Envelope wire.Envelope
}

// Handler processes one Inbound item and returns the Outbound commands it
// produced. A Handler MUST NOT block; it should hand long work (DKG math,
// signature aggregation batches) to the Dispatcher's worker pool via
// Dispatcher.Workers.Submit and return immediately, per spec.md §4.F.
type Handler func(ctx context.Context, in Inbound) []Outbound

// WorkerPool runs CPU-bound jobs off the Dispatcher's loop. Submissions
// block when the pool's queue is full, naturally throttling the
// Dispatcher, per spec.md §5.
type WorkerPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewWorkerPool starts workers goroutines draining a queue of depth
// queueDepth.
func NewWorkerPool(workers, queueDepth int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &WorkerPool{jobs: make(chan func(), queueDepth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit enqueues job, blocking if the pool's queue is full.
func (p *WorkerPool) Submit(job func()) {
	p.jobs <- job
}

// Stop closes the job queue and waits for every in-flight job to finish.
func (p *WorkerPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

// Dispatcher is the single cooperative event loop per node: a bounded,
// priority-bucketed inbound queue drained by exactly one goroutine running
// Run, plus a reference to the node's WorkerPool for CPU-bound offload.
type Dispatcher struct {
	mu       sync.Mutex
	queues   [numPriorities][]Inbound
	size     int
	capacity int
	notify   chan struct{}
	stopped  bool

	Workers *WorkerPool
	handler Handler
	out     chan Outbound
}

// New creates a Dispatcher with the given inbound capacity (shared across
// all priority classes) and worker pool. Outbound commands are delivered
// on the returned channel's buffer of size outboxDepth; callers drain it
// in their transport-send loop.
func New(handler Handler, capacity, outboxDepth int, workers *WorkerPool) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		Workers:  workers,
		handler:  handler,
		out:      make(chan Outbound, outboxDepth),
	}
}

// Outbound returns the channel handlers' emitted commands are delivered on.
func (d *Dispatcher) Outbound() <-chan Outbound { return d.out }

// SendOutbound delivers o directly to the outbound channel, for callers
// outside the Handler's return path (the AE-Probe ticker, timeout loops)
// that need to emit a command without a corresponding Inbound to react to.
// It returns false once the dispatcher has been stopped.
func (d *Dispatcher) SendOutbound(o Outbound) bool {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return false
	}
	d.out <- o
	return true
}

// Enqueue adds in to the dispatcher's inbound queue. If the queue is at
// capacity, the lowest-priority item strictly below in's own priority is
// evicted to make room (dropping AE-Probe before client reads before node
// governance, per spec.md §5); if no such item exists (the queue is full
// of equal-or-higher-priority work), in itself is dropped and Enqueue
// returns false. Per-peer arrival order is preserved because each peer's envelopes
// are always enqueued, and later dequeued, in the order Enqueue was
// called for them within their priority bucket.
func (d *Dispatcher) Enqueue(in Inbound) (accepted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if d.size >= d.capacity && !d.evictLocked(in.Priority) {
		return false
	}
	d.queues[in.Priority] = append(d.queues[in.Priority], in)
	d.size++
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

func (d *Dispatcher) evictLocked(upTo Priority) bool {
	for p := PriorityProbe; p < upTo; p++ {
		if len(d.queues[p]) > 0 {
			d.queues[p] = d.queues[p][1:]
			d.size--
			return true
		}
	}
	return false
}

func (d *Dispatcher) dequeueLocked() (Inbound, bool) {
	for p := Priority(numPriorities - 1); p >= PriorityProbe; p-- {
		if len(d.queues[p]) > 0 {
			item := d.queues[p][0]
			d.queues[p] = d.queues[p][1:]
			d.size--
			return item, true
		}
	}
	return Inbound{}, false
}

// Run drains the inbound queue in priority order (and, within a priority,
// FIFO arrival order) until ctx is cancelled, invoking handler for each
// item and forwarding its Outbound commands. This is the node's single
// logical per-node loop: Run must only ever be called from one goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		item, ok := d.nextLocked()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.notify:
				continue
			}
		}
		for _, o := range d.handler(ctx, item) {
			select {
			case d.out <- o:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) nextLocked() (Inbound, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dequeueLocked()
}

// Len reports the number of items currently queued, for metrics and tests.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Stop marks the dispatcher closed to new inbound and waits up to
// shutdownGrace for the queue to drain, per the node's cooperative
// shutdown contract in spec.md §5. It does not stop Run; the caller's ctx
// cancellation (on a timer of shutdownGrace) does that.
func (d *Dispatcher) Stop(shutdownGrace time.Duration) {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if d.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
