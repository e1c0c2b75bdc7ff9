package dkg

import (
	"crypto/rand"
	"testing"
	"time"

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

func randShare(t *testing.T) blssig.PublicKey {
	t.Helper()
	ikm := make([]byte, 32)
	_, err := rand.Read(ikm)
	require.NoError(t, err)
	sk, err := blssig.KeyGen(ikm)
	require.NoError(t, err)
	return sk.Public()
}

func TestSessionCompletesOnAllContributions(t *testing.T) {
	c := NewCoordinator(90 * time.Second)
	key := SessionKey{Prefix: xorname.RootPrefix(), Generation: 1, SessionID: 1}

	participants := []xorname.XorName{randName(t), randName(t), randName(t)}
	now := time.Unix(0, 0)
	c.OpenSession(key, participants, now)

	var result *Result
	for i, p := range participants {
		share := randShare(t)
		res, err := c.ReceiveContribution(key, p, share)
		require.NoError(t, err)
		if i+1 < len(participants) {
			require.Nil(t, res)
		} else {
			result = res
		}
	}

	require.NotNil(t, result)
	require.Len(t, result.Shares, 3)
	require.Empty(t, result.Nonresponsive)
}

func TestReceiveContributionRejectsNonParticipant(t *testing.T) {
	c := NewCoordinator(90 * time.Second)
	key := SessionKey{Prefix: xorname.RootPrefix(), Generation: 1, SessionID: 1}
	participants := []xorname.XorName{randName(t)}
	c.OpenSession(key, participants, time.Unix(0, 0))

	outsider := randName(t)
	_, err := c.ReceiveContribution(key, outsider, randShare(t))
	require.Error(t, err)
}

func TestReceiveContributionRejectsUnknownSession(t *testing.T) {
	c := NewCoordinator(90 * time.Second)
	key := SessionKey{Prefix: xorname.RootPrefix(), Generation: 1, SessionID: 99}
	_, err := c.ReceiveContribution(key, randName(t), randShare(t))
	require.Error(t, err)
}

func TestCheckTimeoutsReportsMissingParticipants(t *testing.T) {
	c := NewCoordinator(time.Minute)
	key := SessionKey{Prefix: xorname.RootPrefix(), Generation: 1, SessionID: 1}

	responsive := randName(t)
	missingOne := randName(t)
	now := time.Unix(1000, 0)
	c.OpenSession(key, []xorname.XorName{responsive, missingOne}, now)

	_, err := c.ReceiveContribution(key, responsive, randShare(t))
	require.NoError(t, err)

	// Before the deadline nothing times out.
	require.Empty(t, c.CheckTimeouts(now.Add(30*time.Second)))

	reports := c.CheckTimeouts(now.Add(2 * time.Minute))
	require.Len(t, reports, 1)
	require.Equal(t, key, reports[0].Key)
	require.Equal(t, []xorname.XorName{missingOne}, reports[0].Nonresponsive)

	// A timed-out session no longer accepts late contributions.
	_, err = c.ReceiveContribution(key, missingOne, randShare(t))
	require.Error(t, err)
}

func TestCompletedSessionRejectsLateContribution(t *testing.T) {
	c := NewCoordinator(time.Minute)
	key := SessionKey{Prefix: xorname.RootPrefix(), Generation: 1, SessionID: 1}
	p1, p2 := randName(t), randName(t)
	now := time.Unix(0, 0)
	c.OpenSession(key, []xorname.XorName{p1, p2}, now)

	_, err := c.ReceiveContribution(key, p1, randShare(t))
	require.NoError(t, err)
	res, err := c.ReceiveContribution(key, p2, randShare(t))
	require.NoError(t, err)
	require.NotNil(t, res)

	_, err = c.ReceiveContribution(key, p1, randShare(t))
	require.Error(t, err)
}
