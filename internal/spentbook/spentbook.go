// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package spentbook implements the DBC Spent-Proof shape and signature
// check named in spec.md §3: { key_image, commitment, tx_hash,
// section_sig }, stored in a Register-like multimap at a Spentbook
// address. The mint algebra that makes a spend valid is an explicit
// non-goal (spec.md §1): this package only verifies that a proof carries
// a section's genuine signature and rejects a second, distinct proof
// registered against a key_image already spent. The multimap-of-proofs
// shape mirrors internal/knowledge's append-only, signature-anchored
// SectionChain, generalized from a DAG of keys to a flat per-address set
// of proofs.
package spentbook

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// KeyImage uniquely identifies the spent input a SpentProof attests to.
// Two proofs sharing a KeyImage but disagreeing on TxHash indicate a
// double-spend attempt.
type KeyImage [32]byte

// SpentProof is the opaque DBC evidence this node stores and checks the
// shape and signature of, without evaluating the underlying mint algebra.
type SpentProof struct {
	KeyImage   KeyImage
	Commitment []byte
	TxHash     [32]byte
	SectionSig blssig.Signature
}

// SigningBytes returns the canonical bytes a section signs to endorse a
// proof: key_image, commitment and tx_hash, in that order.
func (p SpentProof) SigningBytes() []byte {
	buf := make([]byte, 0, len(p.KeyImage)+len(p.Commitment)+len(p.TxHash))
	buf = append(buf, p.KeyImage[:]...)
	buf = append(buf, p.Commitment...)
	buf = append(buf, p.TxHash[:]...)
	return buf
}

// Verify checks that SectionSig is a valid signature over p's canonical
// bytes under sectionKey. It does not check tx_hash or commitment against
// any ledger: that validation belongs to the mint algebra this package
// treats as opaque.
func (p SpentProof) Verify(sectionKey blssig.PublicKey) bool {
	return blssig.Verify(sectionKey, p.SigningBytes(), p.SectionSig)
}

// ErrDoubleSpend is returned by Register when a key_image already carries
// a proof that is not byte-identical to the new one (a different tx_hash,
// commitment or signature).
var ErrDoubleSpend = fmt.Errorf("spentbook: key_image already spent under a different transaction")

// Book is the Register-like multimap of SpentProofs keyed by address
// (spec.md §3's "Spentbook address"), each address holding at most one
// proof per key_image.
type Book struct {
	mu      sync.RWMutex
	entries map[xorname.XorName]map[KeyImage]SpentProof
}

// New creates an empty Book.
func New() *Book {
	return &Book{entries: make(map[xorname.XorName]map[KeyImage]SpentProof)}
}

// Register validates proof under sectionKey and stores it at address. A
// proof for a key_image already present at address is accepted only if it
// is byte-identical to the stored one (an idempotent re-send); a
// conflicting proof for the same key_image is rejected as a double-spend.
func (b *Book) Register(address xorname.XorName, proof SpentProof, sectionKey blssig.PublicKey) error {
	if !proof.Verify(sectionKey) {
		return fmt.Errorf("spentbook: proof at %s fails section signature check", address)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	byImage, ok := b.entries[address]
	if !ok {
		byImage = make(map[KeyImage]SpentProof)
		b.entries[address] = byImage
	}
	existing, seen := byImage[proof.KeyImage]
	if seen && !proofsEqual(existing, proof) {
		return ErrDoubleSpend
	}
	byImage[proof.KeyImage] = proof
	return nil
}

func proofsEqual(a, b SpentProof) bool {
	return a.KeyImage == b.KeyImage &&
		bytes.Equal(a.Commitment, b.Commitment) &&
		a.TxHash == b.TxHash &&
		bytes.Equal(a.SectionSig.Bytes(), b.SectionSig.Bytes())
}

// Get returns the proof registered at address for keyImage, if any.
func (b *Book) Get(address xorname.XorName, keyImage KeyImage) (SpentProof, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	byImage, ok := b.entries[address]
	if !ok {
		return SpentProof{}, false
	}
	p, ok := byImage[keyImage]
	return p, ok
}

// All returns every proof registered at address.
func (b *Book) All(address xorname.XorName) []SpentProof {
	b.mu.RLock()
	defer b.mu.RUnlock()
	byImage, ok := b.entries[address]
	if !ok {
		return nil
	}
	out := make([]SpentProof, 0, len(byImage))
	for _, p := range byImage {
		out = append(out, p)
	}
	return out
}

// IsSpent reports whether any proof is registered for keyImage at address.
func (b *Book) IsSpent(address xorname.XorName, keyImage KeyImage) bool {
	_, ok := b.Get(address, keyImage)
	return ok
}
