// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package spentbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

func randName(t *testing.T) xorname.XorName {
	t.Helper()
	n, err := xorname.Random()
	require.NoError(t, err)
	return n
}

func sectionKey(t *testing.T) (blssig.SecretKey, blssig.PublicKey) {
	t.Helper()
	sk, err := blssig.KeyGen([]byte("spentbook-test-ikm-needs-32-bytes!!"))
	require.NoError(t, err)
	return sk, sk.Public()
}

func sign(sk blssig.SecretKey, proof SpentProof) SpentProof {
	proof.SectionSig = sk.Sign(proof.SigningBytes())
	return proof
}

func TestRegisterAcceptsValidProof(t *testing.T) {
	book := New()
	sk, pk := sectionKey(t)
	addr := randName(t)
	proof := sign(sk, SpentProof{KeyImage: KeyImage{1}, Commitment: []byte("c"), TxHash: [32]byte{9}})

	require.NoError(t, book.Register(addr, proof, pk))
	require.True(t, book.IsSpent(addr, proof.KeyImage))
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	book := New()
	sk, _ := sectionKey(t)
	otherSK, err := blssig.KeyGen(make([]byte, 32))
	require.NoError(t, err)
	otherPK := otherSK.Public()
	addr := randName(t)
	proof := sign(sk, SpentProof{KeyImage: KeyImage{2}, TxHash: [32]byte{1}})

	err = book.Register(addr, proof, otherPK)
	require.Error(t, err)
	require.False(t, book.IsSpent(addr, proof.KeyImage))
}

func TestRegisterIsIdempotentForIdenticalProof(t *testing.T) {
	book := New()
	sk, pk := sectionKey(t)
	addr := randName(t)
	proof := sign(sk, SpentProof{KeyImage: KeyImage{3}, TxHash: [32]byte{2}})

	require.NoError(t, book.Register(addr, proof, pk))
	require.NoError(t, book.Register(addr, proof, pk))
	require.Len(t, book.All(addr), 1)
}

func TestRegisterRejectsDoubleSpend(t *testing.T) {
	book := New()
	sk, pk := sectionKey(t)
	addr := randName(t)
	first := sign(sk, SpentProof{KeyImage: KeyImage{4}, TxHash: [32]byte{1}})
	second := sign(sk, SpentProof{KeyImage: KeyImage{4}, TxHash: [32]byte{2}})

	require.NoError(t, book.Register(addr, first, pk))
	err := book.Register(addr, second, pk)
	require.ErrorIs(t, err, ErrDoubleSpend)
}
