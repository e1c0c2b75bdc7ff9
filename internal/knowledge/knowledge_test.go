package knowledge

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

func randKey(t *testing.T) blssig.SecretKey {
	t.Helper()
	ikm := make([]byte, 32)
	_, err := rand.Read(ikm)
	require.NoError(t, err)
	sk, err := blssig.KeyGen(ikm)
	require.NoError(t, err)
	return sk
}

func genesisSAP(t *testing.T) (SAP, blssig.SecretKey) {
	t.Helper()
	sk := randKey(t)
	sap := SAP{
		Prefix:           xorname.RootPrefix(),
		SectionPublicKey: sk.Public(),
		Generation:       0,
	}
	sap.Sig = sk.Sign(sap.SigningBytes())
	return sap, sk
}

func TestNewTreeAndSectionFor(t *testing.T) {
	sap, _ := genesisSAP(t)
	tree, err := NewTree(sap)
	require.NoError(t, err)

	name, err := xorname.Random()
	require.NoError(t, err)

	got, err := tree.SectionFor(name)
	require.NoError(t, err)
	require.Equal(t, sap.Generation, got.Generation)
}

func TestUpdateAcceptsHandoverChain(t *testing.T) {
	genesis, genesisSK := genesisSAP(t)
	tree, err := NewTree(genesis)
	require.NoError(t, err)

	newSK := randKey(t)
	edge := Edge{
		ParentKey: genesisSK.Public(),
		ChildKey:  newSK.Public(),
	}
	edge.Sig = genesisSK.Sign(edge.signingBytes())

	newSAP := SAP{
		Prefix:           xorname.RootPrefix(),
		SectionPublicKey: newSK.Public(),
		Generation:       1,
	}
	newSAP.Sig = genesisSK.Sign(newSAP.SigningBytes())

	result, err := tree.Update(newSAP, []Edge{edge})
	require.NoError(t, err)
	require.Equal(t, Updated, result)

	known, ok := tree.KnownSAP(xorname.RootPrefix())
	require.True(t, ok)
	require.Equal(t, uint64(1), known.Generation)
}

func TestUpdateRejectsStaleGeneration(t *testing.T) {
	genesis, genesisSK := genesisSAP(t)
	tree, err := NewTree(genesis)
	require.NoError(t, err)

	newSK := randKey(t)
	edge := Edge{ParentKey: genesisSK.Public(), ChildKey: newSK.Public()}
	edge.Sig = genesisSK.Sign(edge.signingBytes())
	newSAP := SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: newSK.Public(), Generation: 1}
	newSAP.Sig = genesisSK.Sign(newSAP.SigningBytes())
	_, err = tree.Update(newSAP, []Edge{edge})
	require.NoError(t, err)

	// Re-applying generation 0 under the genesis key must not be accepted
	// as a forward update.
	result, err := tree.Update(genesis, nil)
	require.NoError(t, err)
	require.Equal(t, AlreadyKnown, result)
}

func TestUpdateRejectsBadSignature(t *testing.T) {
	genesis, genesisSK := genesisSAP(t)
	tree, err := NewTree(genesis)
	require.NoError(t, err)

	newSK := randKey(t)
	attackerSK := randKey(t)
	edge := Edge{ParentKey: genesisSK.Public(), ChildKey: newSK.Public()}
	edge.Sig = attackerSK.Sign(edge.signingBytes()) // wrong signer

	newSAP := SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: newSK.Public(), Generation: 1}
	newSAP.Sig = genesisSK.Sign(newSAP.SigningBytes())

	result, err := tree.Update(newSAP, []Edge{edge})
	require.Error(t, err)
	require.Equal(t, Rejected, result)
}

func TestSplitReplacesParentWithChildren(t *testing.T) {
	genesis, genesisSK := genesisSAP(t)
	tree, err := NewTree(genesis)
	require.NoError(t, err)

	zeroPfx, onePfx := xorname.RootPrefix().PushBit()

	zeroSK := randKey(t)
	zeroEdge := Edge{ParentKey: genesisSK.Public(), ChildKey: zeroSK.Public()}
	zeroEdge.Sig = genesisSK.Sign(zeroEdge.signingBytes())
	zeroSAP := SAP{Prefix: zeroPfx, SectionPublicKey: zeroSK.Public(), Generation: 1}
	zeroSAP.Sig = genesisSK.Sign(zeroSAP.SigningBytes())
	res, err := tree.Update(zeroSAP, []Edge{zeroEdge})
	require.NoError(t, err)
	require.Equal(t, Updated, res)

	oneSK := randKey(t)
	oneEdge := Edge{ParentKey: genesisSK.Public(), ChildKey: oneSK.Public()}
	oneEdge.Sig = genesisSK.Sign(oneEdge.signingBytes())
	oneSAP := SAP{Prefix: onePfx, SectionPublicKey: oneSK.Public(), Generation: 1}
	oneSAP.Sig = genesisSK.Sign(oneSAP.SigningBytes())
	res, err = tree.Update(oneSAP, []Edge{oneEdge})
	require.NoError(t, err)
	require.Equal(t, Updated, res)

	_, hasRoot := tree.KnownSAP(xorname.RootPrefix())
	require.False(t, hasRoot)

	_, hasZero := tree.KnownSAP(zeroPfx)
	require.True(t, hasZero)
	_, hasOne := tree.KnownSAP(onePfx)
	require.True(t, hasOne)

	// Every name must still be covered by exactly one prefix.
	var zeroName, oneName xorname.XorName
	zeroName[0] = 0b0000_0001
	oneName[0] = 0b1000_0001
	gotZero, err := tree.SectionFor(zeroName)
	require.NoError(t, err)
	require.Equal(t, zeroSK.Public().Bytes(), gotZero.SectionPublicKey.Bytes())
	gotOne, err := tree.SectionFor(oneName)
	require.NoError(t, err)
	require.Equal(t, oneSK.Public().Bytes(), gotOne.SectionPublicKey.Bytes())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	genesis, genesisSK := genesisSAP(t)
	tree, err := NewTree(genesis)
	require.NoError(t, err)

	newSK := randKey(t)
	edge := Edge{ParentKey: genesisSK.Public(), ChildKey: newSK.Public()}
	edge.Sig = genesisSK.Sign(edge.signingBytes())
	newSAP := SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: newSK.Public(), Generation: 1}
	newSAP.Sig = genesisSK.Sign(newSAP.SigningBytes())
	_, err = tree.Update(newSAP, []Edge{edge})
	require.NoError(t, err)

	data, err := tree.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)

	got, ok := restored.KnownSAP(xorname.RootPrefix())
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Generation)
	require.Equal(t, newSK.Public().Bytes(), got.SectionPublicKey.Bytes())
}

func TestVerifyProofChainRejectsBrokenLink(t *testing.T) {
	genesisSK := randKey(t)
	midSK := randKey(t)
	otherSK := randKey(t)

	edge1 := Edge{ParentKey: genesisSK.Public(), ChildKey: midSK.Public()}
	edge1.Sig = genesisSK.Sign(edge1.signingBytes())

	// edge2's parent does not match edge1's child.
	edge2 := Edge{ParentKey: otherSK.Public(), ChildKey: randKey(t).Public()}
	edge2.Sig = otherSK.Sign(edge2.signingBytes())

	err := VerifyProofChain([]Edge{edge1, edge2}, genesisSK.Public())
	require.Error(t, err)
}
