// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"sync"
	"time"

	"github.com/luxfi/safenode/internal/xorname"
)

// probeTracker records when an AE-Probe was last sent to each elder and
// clears the entry on ack, feeding the Communication dysfunction issue for
// elders that never respond, per spec.md §4.H.
type probeTracker struct {
	mu   sync.Mutex
	sent map[xorname.XorName]time.Time
}

func newProbeTracker() *probeTracker {
	return &probeTracker{sent: make(map[xorname.XorName]time.Time)}
}

func (t *probeTracker) recordSent(peer xorname.XorName, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent[peer] = now
}

func (t *probeTracker) ack(peer xorname.XorName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sent, peer)
}

// overdue returns every peer whose outstanding probe has not been acked
// within max, clearing each as it is reported so a single miss is not
// re-flagged on every subsequent tick.
func (t *probeTracker) overdue(now time.Time, max time.Duration) []xorname.XorName {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []xorname.XorName
	for peer, sentAt := range t.sent {
		if now.Sub(sentAt) > max {
			out = append(out, peer)
			delete(t.sent, peer)
		}
	}
	return out
}
