package ae

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/wire"
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

func buildHandover(t *testing.T, tree *knowledge.Tree, parentSK blssig.SecretKey) (knowledge.SAP, blssig.SecretKey) {
	t.Helper()
	newSK := randKey(t)
	edge := knowledge.Edge{ParentKey: parentSK.Public(), ChildKey: newSK.Public()}
	// Edge signing bytes are unexported; reuse VerifyProofChain path via Update instead by signing with the same scheme as chain_test helper.
	sig := parentSK.Sign(append(append([]byte{}, edge.ParentKey.Bytes()...), edge.ChildKey.Bytes()...))
	edge.Sig = sig

	newSAP := knowledge.SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: newSK.Public(), Generation: 1}
	newSAP.Sig = parentSK.Sign(newSAP.SigningBytes())

	res, err := tree.Update(newSAP, []knowledge.Edge{edge})
	require.NoError(t, err)
	require.Equal(t, knowledge.Updated, res)
	return newSAP, newSK
}

func TestBuildResponseStaleKeyYieldsRetry(t *testing.T) {
	genesisSK := randKey(t)
	genesis := knowledge.SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: genesisSK.Public(), Generation: 0}
	genesis.Sig = genesisSK.Sign(genesis.SigningBytes())

	tree, err := knowledge.NewTree(genesis)
	require.NoError(t, err)

	_, _ = buildHandover(t, tree, genesisSK)

	name, err := xorname.Random()
	require.NoError(t, err)

	staleDst := wire.Dst{Name: name, SectionKey: genesisSK.Public()}
	resp, needed, err := BuildResponse(tree, staleDst, xorname.RootPrefix())
	require.NoError(t, err)
	require.True(t, needed)
	require.Equal(t, VariantRetry, resp.Variant)
	require.NotEmpty(t, resp.ProofChain)

	require.NoError(t, Apply(tree, resp))
}

func TestBuildResponseFreshNeedsNoAE(t *testing.T) {
	genesisSK := randKey(t)
	genesis := knowledge.SAP{Prefix: xorname.RootPrefix(), SectionPublicKey: genesisSK.Public(), Generation: 0}
	genesis.Sig = genesisSK.Sign(genesis.SigningBytes())
	tree, err := knowledge.NewTree(genesis)
	require.NoError(t, err)

	name, err := xorname.Random()
	require.NoError(t, err)

	dst := wire.Dst{Name: name, SectionKey: genesisSK.Public()}
	_, needed, err := BuildResponse(tree, dst, xorname.RootPrefix())
	require.NoError(t, err)
	require.False(t, needed)
}

func TestRetryTrackerEnforcesMax(t *testing.T) {
	tr := NewRetryTracker(2)
	id := wire.NewMsgID()

	require.NoError(t, tr.RecordAndCheck(id))
	require.NoError(t, tr.RecordAndCheck(id))
	require.ErrorIs(t, tr.RecordAndCheck(id), ErrRetryLimitExceeded)

	tr.Forget(id)
	require.NoError(t, tr.RecordAndCheck(id))
}
