// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package membership

import (
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// EncodeVote serializes v for transport with internal/wire's
// length-prefixed byte codec.
func EncodeVote(v Vote) []byte {
	b := wire.AppendUint64(nil, v.Generation)
	b = wire.AppendUint64(b, uint64(len(v.Proposals)))
	for _, p := range v.Proposals {
		b = encodeProposal(b, p)
	}
	b = wire.AppendBytes(b, v.Signer[:])
	b = wire.AppendBytes(b, v.ShareSig.Bytes())
	return b
}

// DecodeVote reverses EncodeVote.
func DecodeVote(data []byte) (Vote, error) {
	var v Vote
	var err error

	v.Generation, data, err = wire.ConsumeUint64(data)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote generation: %w", err)
	}

	count, data, err := wire.ConsumeUint64(data)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote proposal count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		var p Proposal
		p, data, err = decodeProposal(data)
		if err != nil {
			return Vote{}, err
		}
		v.Proposals = append(v.Proposals, p)
	}

	signerBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote signer: %w", err)
	}
	v.Signer, err = xorname.FromBytes(signerBytes)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote signer: %w", err)
	}

	sigBytes, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote share sig: %w", err)
	}
	v.ShareSig, err = blssig.SignatureFromBytes(sigBytes)
	if err != nil {
		return Vote{}, fmt.Errorf("membership: decode vote share sig: %w", err)
	}
	return v, nil
}

func encodeProposal(b []byte, p Proposal) []byte {
	b = append(b, byte(p.Kind))
	if p.Kind == ProposalJoin {
		return encodeNodeState(b, p.Join)
	}
	return wire.AppendBytes(b, p.Name[:])
}

func decodeProposal(data []byte) (Proposal, []byte, error) {
	if len(data) < 1 {
		return Proposal{}, nil, fmt.Errorf("membership: decode proposal: truncated")
	}
	kind := ProposalKind(data[0])
	data = data[1:]

	var p Proposal
	p.Kind = kind
	if kind == ProposalJoin {
		ns, rest, err := decodeNodeState(data)
		if err != nil {
			return Proposal{}, nil, err
		}
		p.Join = ns
		return p, rest, nil
	}

	nameBytes, rest, err := wire.ConsumeBytes(data)
	if err != nil {
		return Proposal{}, nil, fmt.Errorf("membership: decode proposal name: %w", err)
	}
	p.Name, err = xorname.FromBytes(nameBytes)
	if err != nil {
		return Proposal{}, nil, fmt.Errorf("membership: decode proposal name: %w", err)
	}
	return p, rest, nil
}

func encodeNodeState(b []byte, n NodeState) []byte {
	b = wire.AppendBytes(b, n.Name[:])
	b = wire.AppendString(b, n.Addr)
	b = append(b, n.Age, byte(n.Membership))
	b = wire.AppendUint64(b, n.JoinedAtGeneration)
	return b
}

func decodeNodeState(data []byte) (NodeState, []byte, error) {
	var ns NodeState

	nameBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return NodeState{}, nil, fmt.Errorf("membership: decode node state name: %w", err)
	}
	ns.Name, err = xorname.FromBytes(nameBytes)
	if err != nil {
		return NodeState{}, nil, fmt.Errorf("membership: decode node state name: %w", err)
	}

	ns.Addr, data, err = wire.ConsumeString(data)
	if err != nil {
		return NodeState{}, nil, fmt.Errorf("membership: decode node state addr: %w", err)
	}

	if len(data) < 2 {
		return NodeState{}, nil, fmt.Errorf("membership: decode node state: truncated")
	}
	ns.Age, ns.Membership = data[0], Status(data[1])
	data = data[2:]

	ns.JoinedAtGeneration, data, err = wire.ConsumeUint64(data)
	if err != nil {
		return NodeState{}, nil, fmt.Errorf("membership: decode node state generation: %w", err)
	}
	return ns, data, nil
}
