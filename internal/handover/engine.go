// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handover

import (
	"fmt"

	"github.com/luxfi/safenode/internal/config"
	"github.com/luxfi/safenode/internal/xorname"
)

// Agreement is emitted once a supermajority of outgoing elders sign an
// identical candidate for a given prefix, unblocking DKG (Component E).
type Agreement struct {
	Candidate Candidate
}

type voteRecord struct {
	byDigest map[[32]byte]int
	signers  map[xorname.XorName][32]byte
}

// Engine tallies handover votes cast by the OUTGOING elder set (the elders
// in office before the membership commit that triggered this round) for one
// or more candidate prefixes of the same generation. Each prefix tallies
// independently, since a split produces two candidates that must each reach
// their own agreement.
type Engine struct {
	outgoingElders map[xorname.XorName]struct{}
	generation     uint64

	pending map[string]*voteRecord // keyed by Prefix.String()
	agreed  map[string]Candidate
}

// NewEngine starts a handover round for generation, run by outgoingElders.
func NewEngine(generation uint64, outgoingElders []xorname.XorName) *Engine {
	set := make(map[xorname.XorName]struct{}, len(outgoingElders))
	for _, e := range outgoingElders {
		set[e] = struct{}{}
	}
	return &Engine{
		outgoingElders: set,
		generation:     generation,
		pending:        make(map[string]*voteRecord),
		agreed:         make(map[string]Candidate),
	}
}

// ReceiveVote processes one outgoing elder's vote for candidate. candidate
// must hash to vote.Digest; callers reconstruct it themselves (via
// BuildCandidates over their own membership view) and run VerifyCandidate
// before voting, so a mismatch here means the vote and candidate were
// paired incorrectly rather than a Byzantine disagreement.
//
// ReceiveVote returns a non-nil Agreement once a supermajority of
// outgoingElders have signed the same digest for vote.Prefix. Votes for a
// prefix that already reached agreement are ignored.
func (e *Engine) ReceiveVote(vote Vote, candidate Candidate) (*Agreement, error) {
	if vote.Generation != e.generation {
		return nil, fmt.Errorf("handover: vote generation %d does not match round generation %d", vote.Generation, e.generation)
	}
	if candidate.Digest() != vote.Digest {
		return nil, fmt.Errorf("handover: candidate does not match vote digest")
	}
	if _, ok := e.outgoingElders[vote.Signer]; !ok {
		return nil, fmt.Errorf("handover: vote signer %s is not an outgoing elder", vote.Signer)
	}

	key := vote.Prefix.String()
	if _, done := e.agreed[key]; done {
		return nil, nil
	}

	rec, ok := e.pending[key]
	if !ok {
		rec = &voteRecord{
			byDigest: make(map[[32]byte]int),
			signers:  make(map[xorname.XorName][32]byte),
		}
		e.pending[key] = rec
	}

	if prev, seen := rec.signers[vote.Signer]; seen {
		if prev != vote.Digest {
			rec.byDigest[prev]--
		} else {
			return nil, nil
		}
	}
	rec.signers[vote.Signer] = vote.Digest
	rec.byDigest[vote.Digest]++

	need := config.Supermajority(len(e.outgoingElders))
	if rec.byDigest[vote.Digest] < need {
		return nil, nil
	}

	agreement := &Agreement{Candidate: candidate}
	e.agreed[key] = candidate
	delete(e.pending, key)
	return agreement, nil
}

// Pending reports whether prefix has not yet reached agreement.
func (e *Engine) Pending(prefix xorname.Prefix) bool {
	_, done := e.agreed[prefix.String()]
	return !done
}
