// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package membership implements the generational BFT-style consensus over
// node join/leave proposals described as Component C: each elder votes on
// a proposal set for the next generation; a generation commits once a
// supermajority of elders sign identical proposal sets.
package membership

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// Status is a node's membership lifecycle state.
type Status int

const (
	Joined Status = iota
	Left
	Relocated
)

func (s Status) String() string {
	switch s {
	case Left:
		return "Left"
	case Relocated:
		return "Relocated"
	default:
		return "Joined"
	}
}

// NodeState describes one section member.
type NodeState struct {
	Name               xorname.XorName
	Addr               string
	Age                uint8
	Membership         Status
	JoinedAtGeneration uint64
}

// ProposalKind distinguishes the three proposal shapes a generation may
// contain.
type ProposalKind int

const (
	ProposalJoin ProposalKind = iota
	ProposalLeave
	ProposalOffline
)

// Proposal is one membership change candidate for the next generation.
type Proposal struct {
	Kind ProposalKind
	Join NodeState      // set when Kind == ProposalJoin
	Name xorname.XorName // set when Kind == ProposalLeave or ProposalOffline
}

// key returns a stable sortable/hashable key for a proposal, used to
// canonicalize a proposal set before hashing or comparing.
func (p Proposal) key() [33]byte {
	var k [33]byte
	k[0] = byte(p.Kind)
	switch p.Kind {
	case ProposalJoin:
		copy(k[1:], p.Join.Name[:])
	default:
		copy(k[1:], p.Name[:])
	}
	return k
}

// ProposalSet is an unordered collection of proposals; two sets with the
// same members (regardless of order) must hash identically so elders can
// agree they voted for "the same" set.
type ProposalSet []Proposal

// Digest returns a canonical hash of the set, order-independent.
func (s ProposalSet) Digest() [32]byte {
	keys := make([][33]byte, len(s))
	for i, p := range s {
		keys[i] = p.key()
	}
	sort.Slice(keys, func(i, j int) bool {
		for b := 0; b < 33; b++ {
			if keys[i][b] != keys[j][b] {
				return keys[i][b] < keys[j][b]
			}
		}
		return false
	})
	h := sha256.New()
	for _, k := range keys {
		h.Write(k[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Vote is one elder's signed proposal set for a given generation.
type Vote struct {
	Generation uint64
	Proposals  ProposalSet
	Signer     xorname.XorName
	ShareSig   blssig.Signature
}

// SigningBytes returns the bytes an elder signs: the generation and the
// proposal set digest, so votes for different generations (even with the
// same semantic content) are never interchangeable, per the "distinct even
// if semantically equal" replay-prevention invariant.
func (v Vote) SigningBytes() []byte {
	d := v.Proposals.Digest()
	buf := make([]byte, 8+len(d))
	binary.BigEndian.PutUint64(buf, v.Generation)
	copy(buf[8:], d[:])
	return buf
}
