package xorname

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceAndCloserTo(t *testing.T) {
	var a, b, target XorName
	a[0] = 0b0000_0001
	b[0] = 0b0000_0010
	target[0] = 0
	require.True(t, CloserTo(target, a, b))
	require.False(t, CloserTo(target, b, a))
}

func TestFromContentDeterministic(t *testing.T) {
	c := []byte("hello world")
	require.Equal(t, FromContent(c), FromContent(c))
	require.NotEqual(t, FromContent(c), FromContent([]byte("hello worlx")))
}

func TestFromBytesWrongLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrWrongLength)
}

func TestPrefixMatchesAndSplit(t *testing.T) {
	root := RootPrefix()
	require.True(t, root.Matches(XorName{0xff}))

	var name XorName
	name[0] = 0b1000_0000
	p := NewPrefix(name, 1)
	require.True(t, p.Matches(name))

	var other XorName
	other[0] = 0b0000_0000
	require.False(t, p.Matches(other))

	zero, one := root.PushBit()
	require.Equal(t, "0", zero.String())
	require.Equal(t, "1", one.String())
	require.True(t, zero.IsCompatibleSiblingOf(one))
	require.True(t, zero.IsExtensionOf(root))
}

func TestPrefixEqualAndSibling(t *testing.T) {
	var n XorName
	n[0] = 0b1100_0000
	p := NewPrefix(n, 2)
	require.True(t, p.Equal(NewPrefix(n, 2)))
	sib := p.Sibling()
	require.False(t, sib.Equal(p))
	require.True(t, sib.IsCompatibleSiblingOf(p))
}
