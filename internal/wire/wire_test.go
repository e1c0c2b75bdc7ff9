package wire

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
)

func testKey(t *testing.T) blssig.PublicKey {
	t.Helper()
	ikm := make([]byte, 32)
	_, err := rand.Read(ikm)
	require.NoError(t, err)
	sk, err := blssig.KeyGen(ikm)
	require.NoError(t, err)
	return sk.Public()
}

func TestCheckFreshness(t *testing.T) {
	current := testKey(t)
	other := testKey(t)

	require.Equal(t, Fresh, CheckFreshness(Dst{SectionKey: current}, current, true))
	require.Equal(t, StaleSectionKey, CheckFreshness(Dst{SectionKey: other}, current, true))
	require.Equal(t, WrongSection, CheckFreshness(Dst{SectionKey: current}, current, false))
}

func TestSeenCacheDedup(t *testing.T) {
	cache := NewSeenCache(2)
	id1 := NewMsgID()
	id2 := NewMsgID()
	id3 := NewMsgID()

	require.False(t, cache.CheckAndAdd(id1))
	require.True(t, cache.CheckAndAdd(id1))

	require.False(t, cache.CheckAndAdd(id2))
	require.False(t, cache.CheckAndAdd(id3)) // evicts id1
	require.False(t, cache.CheckAndAdd(id1)) // id1 was evicted, so this is "new" again
	require.Equal(t, 2, cache.Len())
}

func TestEncodeDecodeUint64(t *testing.T) {
	v := uint64(123456789)
	b := EncodeUint64(v)
	got, err := DecodeUint64(b)
	require.NoError(t, err)
	require.Equal(t, v, got)

	_, err = DecodeUint64([]byte{1, 2, 3})
	require.Error(t, err)
}
