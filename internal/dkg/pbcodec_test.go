// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dkg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

func TestEncodeDecodeContributionRoundTrips(t *testing.T) {
	sk, err := blssig.KeyGen([]byte("dkg-pbcodec-test-ikm-needs-32-byte!"))
	require.NoError(t, err)
	participant, err := xorname.Random()
	require.NoError(t, err)
	prefixName, err := xorname.Random()
	require.NoError(t, err)

	c := Contribution{
		Key:         SessionKey{Prefix: xorname.NewPrefix(prefixName, 5), Generation: 3, SessionID: 42},
		Participant: participant,
		Share:       sk.Public(),
	}

	decoded, err := DecodeContribution(EncodeContribution(c))
	require.NoError(t, err)
	require.Equal(t, c.Key.Generation, decoded.Key.Generation)
	require.Equal(t, c.Key.SessionID, decoded.Key.SessionID)
	require.Equal(t, c.Key.Prefix.String(), decoded.Key.Prefix.String())
	require.Equal(t, c.Participant, decoded.Participant)
	require.Equal(t, c.Share.Bytes(), decoded.Share.Bytes())
}
