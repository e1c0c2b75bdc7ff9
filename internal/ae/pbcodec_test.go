// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ae

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/xorname"
)

func genKey(t *testing.T) (blssig.SecretKey, blssig.PublicKey) {
	t.Helper()
	sk, err := blssig.KeyGen([]byte("ae-pbcodec-test-ikm-needs-32-bytes!"))
	require.NoError(t, err)
	return sk, sk.Public()
}

func TestEncodeDecodeResponseRoundTrips(t *testing.T) {
	parentSK, parentPK := genKey(t)
	_, childPK := genKey(t)
	edgeSig := parentSK.Sign(append(parentPK.Bytes(), childPK.Bytes()...))

	sapSK, sapPK := genKey(t)
	elderName, err := xorname.Random()
	require.NoError(t, err)
	sap := knowledge.SAP{
		Prefix:           xorname.NewPrefix(elderName, 3),
		Generation:       7,
		SectionPublicKey: sapPK,
		Sig:              sapSK.Sign([]byte("self-signed")),
		Elders: []knowledge.ElderInfo{
			{Name: elderName, Addr: "127.0.0.1:12000", PublicKeyShare: sapPK},
		},
	}

	resp := Response{
		Variant: VariantRetry,
		ProofChain: []knowledge.Edge{
			{ParentKey: parentPK, ChildKey: childPK, Sig: edgeSig},
		},
		SAP: sap,
	}

	encoded := EncodeResponse(resp)
	decoded, err := DecodeResponse(encoded)
	require.NoError(t, err)

	require.Equal(t, resp.Variant, decoded.Variant)
	require.Len(t, decoded.ProofChain, 1)
	require.Equal(t, resp.ProofChain[0].ParentKey.Bytes(), decoded.ProofChain[0].ParentKey.Bytes())
	require.Equal(t, resp.ProofChain[0].ChildKey.Bytes(), decoded.ProofChain[0].ChildKey.Bytes())
	require.Equal(t, resp.SAP.Prefix.String(), decoded.SAP.Prefix.String())
	require.Equal(t, resp.SAP.Generation, decoded.SAP.Generation)
	require.Equal(t, resp.SAP.SectionPublicKey.Bytes(), decoded.SAP.SectionPublicKey.Bytes())
	require.Len(t, decoded.SAP.Elders, 1)
	require.Equal(t, resp.SAP.Elders[0].Addr, decoded.SAP.Elders[0].Addr)
	require.Equal(t, resp.SAP.Elders[0].Name, decoded.SAP.Elders[0].Name)
}

func TestDecodeResponseRejectsInvalidPrefixBits(t *testing.T) {
	_, err := decodePrefixBits("012")
	require.Error(t, err)
}
