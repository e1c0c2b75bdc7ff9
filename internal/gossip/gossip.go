// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gossip batches the SAPs and SectionChain edges a node owes its
// peers into per-peer pending deltas, coalescing repeated updates to the
// same peer between flushes rather than sending one message per change.
// The per-peer pending-delta, version-tracked, coalesce-until-flush shape
// follows AIStore's metasyncer (ais/metasync.go): one outstanding payload
// per destination, refreshed in place until the transport layer is ready
// to send it, with superseded versions simply overwritten rather than
// queued.
package gossip

import (
	"sync"

	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/xorname"
)

// Batch is the accumulated knowledge delta pending for one peer: the SAPs
// whose generation the peer may not have yet, and the chain edges that
// anchor them back to a key the peer already trusts.
type Batch struct {
	SAPs  []knowledge.SAP
	Edges []knowledge.Edge
}

func (b Batch) empty() bool {
	return len(b.SAPs) == 0 && len(b.Edges) == 0
}

// Disseminator tracks, per peer, the SAPs and chain edges not yet known to
// be delivered. QueueSAP/QueueEdges coalesce: queuing the same SAP's
// prefix twice before a Flush keeps only the newer (higher-generation)
// descriptor, matching metasyncer's "last version wins" rule.
type Disseminator struct {
	mu      sync.Mutex
	pending map[xorname.XorName]*Batch
}

// New creates an empty Disseminator.
func New() *Disseminator {
	return &Disseminator{pending: make(map[xorname.XorName]*Batch)}
}

func (d *Disseminator) batchLocked(peer xorname.XorName) *Batch {
	b, ok := d.pending[peer]
	if !ok {
		b = &Batch{}
		d.pending[peer] = b
	}
	return b
}

// QueueSAP marks sap as owed to peer. If a SAP for the same prefix is
// already pending for peer, it is replaced unless the pending one is for
// an equal or newer generation.
func (d *Disseminator) QueueSAP(peer xorname.XorName, sap knowledge.SAP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.batchLocked(peer)
	for i, existing := range b.SAPs {
		if existing.Prefix.Equal(sap.Prefix) {
			if existing.Generation < sap.Generation {
				b.SAPs[i] = sap
			}
			return
		}
	}
	b.SAPs = append(b.SAPs, sap)
}

// QueueEdges marks edges as owed to peer, deduplicating against edges
// already pending for the same child key.
func (d *Disseminator) QueueEdges(peer xorname.XorName, edges ...knowledge.Edge) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.batchLocked(peer)
	for _, e := range edges {
		dup := false
		for _, existing := range b.Edges {
			if bytesEqual(existing.ChildKey.Bytes(), e.ChildKey.Bytes()) {
				dup = true
				break
			}
		}
		if !dup {
			b.Edges = append(b.Edges, e)
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// QueueAll marks sap and the chain edges needed to verify it against
// trustedKey as owed to every peer in peers. This is the usual entry
// point after a handover or DKG completes: the caller walks the chain
// from trustedKey to sap.SectionPublicKey and passes the resulting edges.
func (d *Disseminator) QueueAll(peers []xorname.XorName, sap knowledge.SAP, edges []knowledge.Edge) {
	for _, p := range peers {
		d.QueueSAP(p, sap)
		d.QueueEdges(p, edges...)
	}
}

// Flush returns and clears the pending batch for peer. The second return
// value is false if there was nothing pending.
func (d *Disseminator) Flush(peer xorname.XorName) (Batch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.pending[peer]
	if !ok || b.empty() {
		return Batch{}, false
	}
	delete(d.pending, peer)
	return *b, true
}

// FlushAll returns and clears every peer's pending batch, for a node
// driving its own periodic gossip round rather than responding to an
// AE-Probe.
func (d *Disseminator) FlushAll() map[xorname.XorName]Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[xorname.XorName]Batch, len(d.pending))
	for peer, b := range d.pending {
		if !b.empty() {
			out[peer] = *b
		}
	}
	d.pending = make(map[xorname.XorName]*Batch)
	return out
}

// Pending reports whether peer currently has anything queued, without
// clearing it.
func (d *Disseminator) Pending(peer xorname.XorName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.pending[peer]
	return ok && !b.empty()
}
