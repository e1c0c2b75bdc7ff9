// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package membership

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/safenode/internal/config"
	"github.com/luxfi/safenode/internal/errs"
	"github.com/luxfi/safenode/internal/xorname"
)

// MinAge is the age a freshly-joined node starts at. A node is considered
// "mature" once its age exceeds MinAge, per the split rule's "mature
// members" criterion.
const MinAge uint8 = 4

// IsMature reports whether age qualifies a node as mature for split
// counting purposes.
func IsMature(age uint8) bool {
	return age > MinAge
}

// CommitResult is emitted when a generation commits.
type CommitResult struct {
	Generation      uint64
	Members         map[xorname.XorName]NodeState
	ElderSetChanged bool
	NewElders       []xorname.XorName
	// SplitChildren is non-empty when both sibling halves of the current
	// prefix now have >= splitThreshold mature members; the caller
	// (Handover) should produce two SAPs instead of one.
	SplitChildren []xorname.Prefix
}

// voteRecord tracks the elders who have signed each distinct proposal-set
// digest for one generation, plus the last digest seen per signer (to
// detect inconsistent voting).
type voteRecord struct {
	bySigner map[xorname.XorName][32]byte
	votes    map[xorname.XorName]Vote
}

// Engine runs the generational membership consensus for one section.
type Engine struct {
	mu sync.Mutex

	prefix         xorname.Prefix
	elderSize      int
	splitThreshold int

	generation uint64
	members    map[xorname.XorName]NodeState
	elders     map[xorname.XorName]struct{}

	pending map[uint64]*voteRecord

	onInconsistentVote func(signer xorname.XorName)
}

// NewEngine creates an Engine seeded with the genesis membership set (the
// first node(s) of the section) at generation 0.
func NewEngine(prefix xorname.Prefix, elderSize, splitThreshold int, genesisMembers []NodeState) *Engine {
	members := make(map[xorname.XorName]NodeState, len(genesisMembers))
	for _, m := range genesisMembers {
		members[m.Name] = m
	}
	e := &Engine{
		prefix:         prefix,
		elderSize:      elderSize,
		splitThreshold: splitThreshold,
		generation:     0,
		members:        members,
		pending:        make(map[uint64]*voteRecord),
	}
	e.recomputeElders()
	return e
}

// OnInconsistentVote registers a callback invoked whenever a signer submits
// two different proposal sets for the same generation, feeding the
// ElderVoting dysfunction issue type.
func (e *Engine) OnInconsistentVote(fn func(signer xorname.XorName)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onInconsistentVote = fn
}

// Generation returns the current committed generation.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Prefix returns the section prefix this engine tracks membership for.
func (e *Engine) Prefix() xorname.Prefix {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefix
}

// Members returns a copy of the current membership set M_g.
func (e *Engine) Members() map[xorname.XorName]NodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[xorname.XorName]NodeState, len(e.members))
	for k, v := range e.members {
		out[k] = v
	}
	return out
}

// Elders returns the current elder set: the top elderSize members by age,
// tie-broken by XOR distance to the prefix's center.
func (e *Engine) Elders() []xorname.XorName {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]xorname.XorName, 0, len(e.elders))
	for n := range e.elders {
		out = append(out, n)
	}
	return out
}

func (e *Engine) recomputeElders() {
	e.elders = make(map[xorname.XorName]struct{}, e.elderSize)
	for _, n := range ComputeElders(e.members, e.elderSize, e.prefix) {
		e.elders[n] = struct{}{}
	}
}

// ReceiveVote processes one elder's signed vote for the next generation.
// It returns a non-nil CommitResult once a supermajority of the CURRENT
// elder set has signed an identical proposal set.
func (e *Engine) ReceiveVote(vote Vote) (*CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wantGen := e.generation + 1
	if vote.Generation != wantGen {
		return nil, fmt.Errorf("membership: %w: got %d want %d", errs.ErrWrongGeneration, vote.Generation, wantGen)
	}
	if _, isElder := e.elders[vote.Signer]; !isElder {
		return nil, fmt.Errorf("membership: vote signer %s is not a current elder", vote.Signer)
	}

	rec, ok := e.pending[vote.Generation]
	if !ok {
		rec = &voteRecord{bySigner: make(map[xorname.XorName][32]byte), votes: make(map[xorname.XorName]Vote)}
		e.pending[vote.Generation] = rec
	}

	digest := vote.Proposals.Digest()
	if prev, seen := rec.bySigner[vote.Signer]; seen && prev != digest {
		if e.onInconsistentVote != nil {
			e.onInconsistentVote(vote.Signer)
		}
	}
	rec.bySigner[vote.Signer] = digest
	rec.votes[vote.Signer] = vote

	// Tally signers per digest.
	tally := make(map[[32]byte]int)
	for _, d := range rec.bySigner {
		tally[d]++
	}

	need := config.Supermajority(len(e.elders))
	var winner [32]byte
	var winnerCount int
	for d, c := range tally {
		if c > winnerCount {
			winner = d
			winnerCount = c
		}
	}
	if winnerCount < need {
		return nil, nil
	}

	// Find the proposal set matching the winning digest.
	var finalProposals ProposalSet
	for signer := range rec.bySigner {
		if rec.bySigner[signer] == winner {
			finalProposals = rec.votes[signer].Proposals
			break
		}
	}

	result := e.commit(finalProposals)
	delete(e.pending, vote.Generation)
	return result, nil
}

func (e *Engine) commit(proposals ProposalSet) *CommitResult {
	next := make(map[xorname.XorName]NodeState, len(e.members))
	for k, v := range e.members {
		next[k] = v
	}
	for _, p := range proposals {
		switch p.Kind {
		case ProposalJoin:
			ns := p.Join
			ns.JoinedAtGeneration = e.generation + 1
			next[ns.Name] = ns
		case ProposalLeave:
			if ns, ok := next[p.Name]; ok {
				ns.Membership = Left
				next[ns.Name] = ns
			}
		case ProposalOffline:
			if ns, ok := next[p.Name]; ok {
				ns.Membership = Left
				next[ns.Name] = ns
			}
		}
	}

	e.members = next
	e.generation++

	oldElders := make(map[xorname.XorName]struct{}, len(e.elders))
	for n := range e.elders {
		oldElders[n] = struct{}{}
	}
	e.recomputeElders()

	changed := len(oldElders) != len(e.elders)
	if !changed {
		for n := range e.elders {
			if _, ok := oldElders[n]; !ok {
				changed = true
				break
			}
		}
	}

	result := &CommitResult{
		Generation:      e.generation,
		Members:         e.membersLocked(),
		ElderSetChanged: changed,
		NewElders:       e.eldersLocked(),
	}
	result.SplitChildren = e.detectSplit()
	return result
}

func (e *Engine) membersLocked() map[xorname.XorName]NodeState {
	out := make(map[xorname.XorName]NodeState, len(e.members))
	for k, v := range e.members {
		out[k] = v
	}
	return out
}

func (e *Engine) eldersLocked() []xorname.XorName {
	out := make([]xorname.XorName, 0, len(e.elders))
	for n := range e.elders {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return xorname.Less(out[i], out[j]) })
	return out
}

func (e *Engine) detectSplit() []xorname.Prefix {
	zero, one := e.prefix.PushBit()
	var zeroMature, oneMature int
	for _, m := range e.members {
		if m.Membership != Joined || !IsMature(m.Age) {
			continue
		}
		if zero.Matches(m.Name) {
			zeroMature++
		} else if one.Matches(m.Name) {
			oneMature++
		}
	}
	if zeroMature >= e.splitThreshold && oneMature >= e.splitThreshold {
		return []xorname.Prefix{zero, one}
	}
	return nil
}

// ComputeElders returns the top elderSize members by age (ties broken by
// XOR distance to the prefix's center), restricted to Joined members.
func ComputeElders(members map[xorname.XorName]NodeState, elderSize int, prefix xorname.Prefix) []xorname.XorName {
	center := prefix.Center()
	candidates := make([]NodeState, 0, len(members))
	for _, m := range members {
		if m.Membership == Joined {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Age != candidates[j].Age {
			return candidates[i].Age > candidates[j].Age
		}
		return xorname.CloserTo(center, candidates[i].Name, candidates[j].Name)
	})
	if len(candidates) > elderSize {
		candidates = candidates[:elderSize]
	}
	out := make([]xorname.XorName, len(candidates))
	for i, c := range candidates {
		out[i] = c.Name
	}
	return out
}

