// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package handover runs the second, small consensus round that Component D
// requires whenever a membership generation changes the elder set: current
// elders agree on the next section's candidate descriptor (prefix + elder
// set) before DKG is started for its BLS key.
package handover

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/membership"
	"github.com/luxfi/safenode/internal/xorname"
)

// Candidate is the next-SAP descriptor elders vote on: everything needed to
// start DKG and, once DKG completes, assemble the signed SAP. It carries no
// section public key yet, since that is DKG's output.
type Candidate struct {
	Prefix     xorname.Prefix
	Generation uint64
	Elders     []membership.NodeState
}

// Digest returns a canonical, order-independent hash of the candidate, used
// both to compare votes and as the Byzantine check: an elder that
// recomputes a different digest for the same generation refuses to sign.
func (c Candidate) Digest() [32]byte {
	names := make([]xorname.XorName, len(c.Elders))
	for i, e := range c.Elders {
		names[i] = e.Name
	}
	sort.Slice(names, func(i, j int) bool { return xorname.Less(names[i], names[j]) })

	h := sha256.New()
	p := c.Prefix.String()
	h.Write([]byte{byte(len(p))})
	h.Write([]byte(p))
	var genBuf [8]byte
	binary.BigEndian.PutUint64(genBuf[:], c.Generation)
	h.Write(genBuf[:])
	for _, n := range names {
		h.Write(n[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ElderNames returns the candidate's elder identities, sorted.
func (c Candidate) ElderNames() []xorname.XorName {
	names := make([]xorname.XorName, len(c.Elders))
	for i, e := range c.Elders {
		names[i] = e.Name
	}
	sort.Slice(names, func(i, j int) bool { return xorname.Less(names[i], names[j]) })
	return names
}

// BuildCandidates turns a committed membership generation into the one or
// two next-SAP candidates elders must agree on: a single candidate for an
// ordinary elder-set change, or one candidate per sibling prefix when the
// commit also produced a split.
func BuildCandidates(members map[xorname.XorName]membership.NodeState, elderSize int, parentPrefix xorname.Prefix, result *membership.CommitResult) []Candidate {
	if len(result.SplitChildren) == 2 {
		out := make([]Candidate, 2)
		for i, child := range result.SplitChildren {
			out[i] = candidateFor(child, members, elderSize, result.Generation)
		}
		return out
	}
	return []Candidate{candidateFor(parentPrefix, members, elderSize, result.Generation)}
}

func candidateFor(prefix xorname.Prefix, members map[xorname.XorName]membership.NodeState, elderSize int, generation uint64) Candidate {
	names := membership.ComputeElders(members, elderSize, prefix)
	elders := make([]membership.NodeState, 0, len(names))
	for _, n := range names {
		if ns, ok := members[n]; ok {
			elders = append(elders, ns)
		}
	}
	return Candidate{Prefix: prefix, Generation: generation, Elders: elders}
}

// VerifyCandidate re-derives the candidate for prefix from members and
// reports whether it matches candidate's digest: the Byzantine check each
// elder runs on itself before signing, per spec.md §4.D.
func VerifyCandidate(candidate Candidate, members map[xorname.XorName]membership.NodeState, elderSize int) bool {
	recomputed := candidateFor(candidate.Prefix, members, elderSize, candidate.Generation)
	return recomputed.Digest() == candidate.Digest()
}

// Vote is one outgoing elder's signature endorsing a candidate for the next
// section.
type Vote struct {
	Generation uint64
	Prefix     xorname.Prefix
	Digest     [32]byte
	Signer     xorname.XorName
	ShareSig   blssig.Signature
}

// SigningBytes returns the bytes an elder signs: generation, prefix and
// candidate digest, binding the vote to exactly one candidate.
func (v Vote) SigningBytes() []byte {
	p := v.Prefix.String()
	buf := make([]byte, 0, 8+len(p)+len(v.Digest))
	var genBuf [8]byte
	binary.BigEndian.PutUint64(genBuf[:], v.Generation)
	buf = append(buf, genBuf[:]...)
	buf = append(buf, p...)
	buf = append(buf, v.Digest[:]...)
	return buf
}
