// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dkg coordinates Component E: distributed key generation rounds
// keyed by (prefix, generation, session_id) that turn a handover-agreed
// candidate elder set into a joint section BLS key. The round/session/
// timeout shape follows the drand DKG state machine and the kyber Pedersen
// DKG reference; the Pedersen VSS math itself is out of scope and consumed
// through blssig as an opaque collaborator, per spec.md's non-goals for BLS
// math.
package dkg

import (
	"fmt"
	"time"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// Status is the lifecycle state of one DKG session, mirroring the shape of
// drand's DBState.State but trimmed to what a single participant set and a
// single deadline need.
type Status int

const (
	Open Status = iota
	Complete
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "Complete"
	case TimedOut:
		return "TimedOut"
	default:
		return "Open"
	}
}

// SessionKey identifies one DKG round.
type SessionKey struct {
	Prefix     xorname.Prefix
	Generation uint64
	SessionID  uint64
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Prefix, k.Generation, k.SessionID)
}

// Result is the completed output of a session: one public key share per
// contributing participant and their aggregated joint public key, which
// becomes the section's new SectionPublicKey once endorsed into the chain.
type Result struct {
	Key            SessionKey
	JointPublicKey blssig.PublicKey
	Shares         map[xorname.XorName]blssig.PublicKey
	Nonresponsive  []xorname.XorName
}

// session tracks one in-flight DKG round.
type session struct {
	key          SessionKey
	participants map[xorname.XorName]struct{}
	shares       map[xorname.XorName]blssig.PublicKey
	deadline     time.Time
	status       Status
}

// Coordinator manages concurrently open DKG sessions. It is not safe for
// concurrent use without external locking, matching the rest of the node's
// single-writer component convention.
type Coordinator struct {
	sessions map[string]*session
	timeout  time.Duration
}

// NewCoordinator creates a Coordinator whose sessions abandon after timeout
// if they have not collected a contribution from every participant
// (dkg_timeout, default ~90s per spec.md §4.E).
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Coordinator{sessions: make(map[string]*session), timeout: timeout}
}

// OpenSession starts a fresh round for key over participants. now is passed
// in explicitly so deadlines are deterministic and testable.
func (c *Coordinator) OpenSession(key SessionKey, participants []xorname.XorName, now time.Time) {
	set := make(map[xorname.XorName]struct{}, len(participants))
	for _, p := range participants {
		set[p] = struct{}{}
	}
	c.sessions[key.String()] = &session{
		key:          key,
		participants: set,
		shares:       make(map[xorname.XorName]blssig.PublicKey),
		deadline:     now.Add(c.timeout),
		status:       Open,
	}
}

// ReceiveContribution records participant's key share for the round. It
// returns a non-nil Result once every participant has contributed, and
// marks the session Complete so further contributions are ignored.
func (c *Coordinator) ReceiveContribution(key SessionKey, participant xorname.XorName, share blssig.PublicKey) (*Result, error) {
	s, ok := c.sessions[key.String()]
	if !ok {
		return nil, fmt.Errorf("dkg: no open session %s", key)
	}
	if s.status != Open {
		return nil, fmt.Errorf("dkg: session %s is %s, not accepting contributions", key, s.status)
	}
	if _, isParticipant := s.participants[participant]; !isParticipant {
		return nil, fmt.Errorf("dkg: %s is not a participant of session %s", participant, key)
	}

	s.shares[participant] = share
	if len(s.shares) < len(s.participants) {
		return nil, nil
	}

	pks := make([]blssig.PublicKey, 0, len(s.shares))
	for _, pk := range s.shares {
		pks = append(pks, pk)
	}
	joint, err := blssig.AggregatePublicKeys(pks)
	if err != nil {
		return nil, fmt.Errorf("dkg: session %s: %w", key, err)
	}

	s.status = Complete
	return &Result{Key: key, JointPublicKey: joint, Shares: s.shares}, nil
}

// CheckTimeouts scans open sessions against now and returns one Result-free
// report per session that missed its deadline, listing the participants
// that never contributed so the caller can accrue a Dkg dysfunction issue
// against each and open a fresh session.
func (c *Coordinator) CheckTimeouts(now time.Time) []Result {
	var out []Result
	for k, s := range c.sessions {
		if s.status != Open || now.Before(s.deadline) {
			continue
		}
		var missing []xorname.XorName
		for p := range s.participants {
			if _, ok := s.shares[p]; !ok {
				missing = append(missing, p)
			}
		}
		s.status = TimedOut
		out = append(out, Result{Key: s.key, Nonresponsive: missing})
		delete(c.sessions, k)
	}
	return out
}

// Abandon removes a session outright, e.g. when a superseding handover round
// starts. Sessions reported by CheckTimeouts are already removed there.
func (c *Coordinator) Abandon(key SessionKey) {
	delete(c.sessions, key.String())
}
