// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package knowledge implements NetworkKnowledge: the section-local view of
// the prefix -> Section Authority Provider mapping, plus the SectionChain
// that anchors every SAP's key back to genesis. It is single-writer,
// many-reader: writers (AE and handover) publish a new immutable Tree
// snapshot; readers hold a handle and never block a writer.
package knowledge

import (
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// ElderInfo describes one elder of a SAP: identity, address and BLS public
// key share.
type ElderInfo struct {
	Name       xorname.XorName
	Addr       string
	PublicKeyShare blssig.PublicKey
}

// SAP is the Section Authority Provider: the authoritative descriptor of a
// section at a given membership generation.
type SAP struct {
	Prefix           xorname.Prefix
	Elders           []ElderInfo
	SectionPublicKey blssig.PublicKey
	Generation       uint64

	// Sig is the BLS signature over the SAP's canonical encoding, produced
	// by the previous section key (or self-signed for genesis).
	Sig blssig.Signature
}

// ElderNames returns the XorNames of the SAP's elders, in the order of
// Elders.
func (s SAP) ElderNames() []xorname.XorName {
	names := make([]xorname.XorName, len(s.Elders))
	for i, e := range s.Elders {
		names[i] = e.Name
	}
	return names
}

// HasElder reports whether name is one of the SAP's current elders.
func (s SAP) HasElder(name xorname.XorName) bool {
	for _, e := range s.Elders {
		if e.Name == name {
			return true
		}
	}
	return false
}

// SigningBytes returns the canonical bytes signed to endorse this SAP: the
// prefix string, generation and section public key, in that order. Elder
// membership is covered transitively because the section public key is the
// DKG output over exactly that elder set.
func (s SAP) SigningBytes() []byte {
	p := s.Prefix.String()
	buf := make([]byte, 0, len(p)+8+len(s.SectionPublicKey.Bytes()))
	buf = append(buf, p...)
	buf = append(buf, byte(s.Generation), byte(s.Generation>>8), byte(s.Generation>>16), byte(s.Generation>>24),
		byte(s.Generation>>32), byte(s.Generation>>40), byte(s.Generation>>48), byte(s.Generation>>56))
	buf = append(buf, s.SectionPublicKey.Bytes()...)
	return buf
}

// VerifySelfConsistent checks that Sig is a valid signature over the SAP's
// own content under signerKey (the parent section key that endorsed it, or
// the SAP's own key for a self-signed genesis SAP).
func (s SAP) VerifySelfConsistent(signerKey blssig.PublicKey) error {
	if !blssig.Verify(signerKey, s.SigningBytes(), s.Sig) {
		return fmt.Errorf("knowledge: SAP for prefix %s fails signature check", s.Prefix)
	}
	return nil
}
