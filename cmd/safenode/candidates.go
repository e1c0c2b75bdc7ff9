// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"sync"

	"github.com/luxfi/safenode/internal/handover"
	"github.com/luxfi/safenode/internal/xorname"
)

// candidateCache holds the handover.Candidate values this node itself
// built via handover.BuildCandidates after a membership commit, keyed by
// prefix. handover.Vote carries only a digest, so a node receiving a vote
// must already hold the matching Candidate to call Engine.ReceiveVote.
type candidateCache struct {
	mu    sync.Mutex
	byKey map[string]handover.Candidate
}

func newCandidateCache() *candidateCache {
	return &candidateCache{byKey: make(map[string]handover.Candidate)}
}

func (c *candidateCache) set(candidate handover.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[candidate.Prefix.String()] = candidate
}

func (c *candidateCache) get(prefix xorname.Prefix) (handover.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	candidate, ok := c.byKey[prefix.String()]
	return candidate, ok
}

func (c *candidateCache) delete(prefix xorname.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, prefix.String())
}
