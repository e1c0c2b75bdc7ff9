// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the message envelope: wire framing, authority
// kinds and the freshness check that feeds Anti-Entropy.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// Kind classifies the sender's authority over the message's content.
type Kind int

const (
	KindClient Kind = iota
	KindNode
	KindBLS
	KindSection
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "Client"
	case KindNode:
		return "Node"
	case KindBLS:
		return "BLS"
	case KindSection:
		return "Section"
	default:
		return "Unknown"
	}
}

// Auth carries the signature evidence backing a Kind.
type Auth struct {
	Kind      Kind
	PublicKey []byte // node Ed25519 public key, for KindNode/KindClient
	Signature []byte // Ed25519 signature for Node/Client; BLS aggregate bytes for BLS/Section
}

// Dst addresses the envelope's destination: a name within a section, plus
// the sender's belief about that section's current key.
type Dst struct {
	Name       xorname.XorName
	SectionKey blssig.PublicKey
}

// MsgType discriminates an Envelope's Payload shape for the dispatcher's
// routing switch (Component F). It is orthogonal to Kind, which describes
// the sender's authority over the message, not its purpose.
type MsgType uint8

const (
	MsgUnknown MsgType = iota
	MsgMembershipVote
	MsgHandoverVote
	MsgDKGContribution
	MsgAEResponse
	MsgAEProbe
	MsgQueryRead
	MsgQueryReply
	MsgQueryWriteShare
	MsgQueryWriteCmd
	MsgQueryWriteAck
)

// Envelope is the wire message shared by every inter-node and client
// exchange.
type Envelope struct {
	MsgID   [16]byte
	Kind    Kind
	Type    MsgType
	Auth    Auth
	Dst     Dst
	Payload []byte
}

// NewMsgID generates a fresh random message id.
func NewMsgID() [16]byte {
	var id [16]byte
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// FreshnessResult reports the outcome of checking an envelope against the
// receiver's current knowledge.
type FreshnessResult int

const (
	Fresh FreshnessResult = iota
	StaleSectionKey
	WrongSection
)

// CheckFreshness validates dst against the receiver's current section key
// and prefix membership test. currentKey is the receiver's current section
// public key; inPrefix reports whether dst.Name lies in the receiver's
// prefix.
func CheckFreshness(dst Dst, currentKey blssig.PublicKey, inPrefix bool) FreshnessResult {
	if !inPrefix {
		return WrongSection
	}
	if !keysEqual(dst.SectionKey, currentKey) {
		return StaleSectionKey
	}
	return Fresh
}

func keysEqual(a, b blssig.PublicKey) bool {
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// EncodeUint64 and DecodeUint64 convert one uint64 to and from a standalone
// 8-byte big-endian slice; the length-prefixed codec in codec.go uses
// AppendUint64 and ConsumeUint64 instead.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("wire: expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
