// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blssig is the thin BLS signing/aggregation wrapper the rest of the
// node treats as an opaque collaborator: DKG produces key shares through it,
// handover and the query write path consume it to aggregate elder
// signatures, and the SectionChain uses it to verify proof-chain edges. It
// does not implement any DKG or threshold-sharing math itself — only
// signing, verification and aggregation over already-derived keys.
package blssig

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

// domainSeparationTag pins the hash-to-curve domain for every signature
// produced by this package, so section-key signatures can never be replayed
// against a different signing context.
var domainSeparationTag = []byte("SAFENODE-BLS-SIG-BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// SecretKey is a BLS12-381 secret scalar, typically one elder's DKG output
// share or a single-node section key (a lone first_node genesis in
// cmd/safenode, and tests).
type SecretKey struct{ inner blst.SecretKey }

// PublicKey is a BLS12-381 public key, the share or section public key
// counterpart to a SecretKey.
type PublicKey struct{ inner blst.P2Affine }

// Signature is a BLS12-381 signature or an aggregate of several.
type Signature struct{ inner blst.P1Affine }

// KeyGen deterministically derives a SecretKey from ikm (at least 32 bytes
// of key material). Genesis bootstrap in cmd/safenode and the tests call this.
func KeyGen(ikm []byte) (SecretKey, error) {
	if len(ikm) < 32 {
		return SecretKey{}, fmt.Errorf("blssig: ikm must be at least 32 bytes, got %d", len(ikm))
	}
	var sk blst.SecretKey
	sk.KeyGen(ikm)
	return SecretKey{inner: sk}, nil
}

// Public derives the public key for a secret key.
func (sk SecretKey) Public() PublicKey {
	pk := new(blst.P2Affine).From(&sk.inner)
	return PublicKey{inner: *pk}
}

// Sign signs msg, producing a share signature under this secret key.
func (sk SecretKey) Sign(msg []byte) Signature {
	sig := new(blst.P1Affine).Sign(&sk.inner, msg, domainSeparationTag)
	return Signature{inner: *sig}
}

// Bytes serializes the public key in compressed form.
func (pk PublicKey) Bytes() []byte {
	return pk.inner.Compress()
}

// PublicKeyFromBytes deserializes a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pk := new(blst.P2Affine).Uncompress(b)
	if pk == nil {
		return PublicKey{}, fmt.Errorf("blssig: invalid public key encoding")
	}
	return PublicKey{inner: *pk}, nil
}

// Bytes serializes a signature in compressed form.
func (s Signature) Bytes() []byte {
	return s.inner.Compress()
}

// SignatureFromBytes deserializes a compressed signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	sig := new(blst.P1Affine).Uncompress(b)
	if sig == nil {
		return Signature{}, fmt.Errorf("blssig: invalid signature encoding")
	}
	return Signature{inner: *sig}, nil
}

// Verify checks a single signature against msg and pk.
func Verify(pk PublicKey, msg []byte, sig Signature) bool {
	return sig.inner.Verify(true, &pk.inner, true, msg, domainSeparationTag)
}

// Aggregate combines signature shares over the SAME message (elder vote
// signatures, write-command BLS shares) into one aggregate signature.
func Aggregate(sigs []Signature) (Signature, error) {
	if len(sigs) == 0 {
		return Signature{}, fmt.Errorf("blssig: cannot aggregate zero signatures")
	}
	ptrs := make([]*blst.P1Affine, len(sigs))
	for i := range sigs {
		ptrs[i] = &sigs[i].inner
	}
	var agg blst.P1Aggregate
	if !agg.Aggregate(ptrs, false) {
		return Signature{}, fmt.Errorf("blssig: aggregation failed")
	}
	return Signature{inner: *agg.ToAffine()}, nil
}

// AggregatePublicKeys sums the G2 public key points of a DKG round's
// participant contributions into the joint section public key. Unlike
// Aggregate (signature shares over one message), this combines independent
// public keys and is used once per completed DKG session, not per vote.
func AggregatePublicKeys(pks []PublicKey) (PublicKey, error) {
	if len(pks) == 0 {
		return PublicKey{}, fmt.Errorf("blssig: cannot aggregate zero public keys")
	}
	ptrs := make([]*blst.P2Affine, len(pks))
	for i := range pks {
		ptrs[i] = &pks[i].inner
	}
	var agg blst.P2Aggregate
	if !agg.Aggregate(ptrs, false) {
		return PublicKey{}, fmt.Errorf("blssig: public key aggregation failed")
	}
	return PublicKey{inner: *agg.ToAffine()}, nil
}

// VerifyAggregate checks an aggregate signature produced by Aggregate
// against the same msg and the set of public keys whose shares were
// combined, using the fast-aggregate-verify scheme (single message, many
// keys) appropriate for elder-committee votes and command endorsement.
func VerifyAggregate(msg []byte, agg Signature, pks []PublicKey) bool {
	if len(pks) == 0 {
		return false
	}
	ptrs := make([]*blst.P2Affine, len(pks))
	for i := range pks {
		ptrs[i] = &pks[i].inner
	}
	return agg.inner.FastAggregateVerify(true, ptrs, msg, domainSeparationTag)
}
