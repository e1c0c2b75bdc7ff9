package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	require.NoError(t, err)

	second, err := LoadOrCreate(dir)
	require.NoError(t, err)

	require.Equal(t, first.Name, second.Name)
	require.Equal(t, first.PublicKey, second.PublicKey)
}

func TestSignVerify(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(dir)
	require.NoError(t, err)

	msg := []byte("hello section")
	sig := id.Sign(msg)
	require.True(t, Verify(id.PublicKey, msg, sig))
	require.False(t, Verify(id.PublicKey, []byte("tampered"), sig))
}

func TestRelocateProducesNewIdentity(t *testing.T) {
	dir := t.TempDir()
	original, err := LoadOrCreate(dir)
	require.NoError(t, err)

	relocated, err := Relocate()
	require.NoError(t, err)
	require.NotEqual(t, original.Name, relocated.Name)
}
