// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dysfunction implements Component H: a per-peer issue log scored
// against the peer's population mean and standard deviation, surfacing
// faulty nodes to the Membership Engine without ever evicting a node
// itself. The per-peer failure-count-to-escalation shape follows
// networking/benchlist/manager.go; the per-type, per-population
// mean+stddev fault level follows the PeerDAS gossip scorer's decaying,
// statistics-driven peer scoring.
package dysfunction

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/safenode/internal/xorname"
)

// IssueType is one of the five observation kinds named in spec.md §3.
type IssueType int

const (
	Communication IssueType = iota
	RequestUnfulfilled
	Knowledge
	Dkg
	ElderVoting
)

func (t IssueType) String() string {
	switch t {
	case Communication:
		return "Communication"
	case RequestUnfulfilled:
		return "RequestUnfulfilled"
	case Knowledge:
		return "Knowledge"
	case Dkg:
		return "Dkg"
	case ElderVoting:
		return "ElderVoting"
	default:
		return "Unknown"
	}
}

// allTypes enumerates every IssueType for iteration during scoring.
var allTypes = []IssueType{Communication, RequestUnfulfilled, Knowledge, Dkg, ElderVoting}

// Weight is this type's fixed contribution to a peer's summed fault level.
// The exact values are implementation constants; the ORDERING is the
// invariant spec.md cares about (dkg ~ voting > request > comm ~
// knowledge), not the magnitude.
func (t IssueType) Weight() float64 {
	switch t {
	case Communication:
		return 1
	case RequestUnfulfilled:
		return 3
	case Knowledge:
		return 1
	case Dkg:
		return 5
	case ElderVoting:
		return 5
	default:
		return 0
	}
}

// DefaultTTL returns this type's default retention window, per spec.md
// §4.H. RequestUnfulfilled is additionally removed early, as soon as the
// operation it blocked on completes, via Tracker.RequestFulfilled.
func (t IssueType) DefaultTTL() time.Duration {
	switch t {
	case Communication:
		return 10 * time.Minute
	case Knowledge:
		return 30 * time.Minute
	case Dkg:
		return 90 * time.Second
	case ElderVoting:
		return 24 * time.Hour // approximates "~1 generation": generations have no fixed wall-clock length
	case RequestUnfulfilled:
		return 2 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// Group separates the two populations scored independently: elders are
// only ever compared against other elders, adults against other adults.
type Group int

const (
	GroupAdult Group = iota
	GroupElder
)

func (g Group) String() string {
	if g == GroupElder {
		return "Elder"
	}
	return "Adult"
}

// issue is one recorded observation against a peer.
type issue struct {
	typ  IssueType
	opID string // set only for RequestUnfulfilled
	at   time.Time
}

type peerLog struct {
	group  Group
	issues []issue
}

// FaultReport is one entry of a Tick's output: a peer whose summed,
// weighted fault level exceeds the configured threshold.
type FaultReport struct {
	Peer  xorname.XorName
	Group Group
	Score float64
}

// Tracker records per-peer issues and, on each tick, scores every
// population (elders vs. adults, scored separately) against its own mean
// and standard deviation per spec.md §4.H.
type Tracker struct {
	mu        sync.Mutex
	peers     map[xorname.XorName]*peerLog
	threshold float64
	ttl       map[IssueType]time.Duration
}

// NewTracker creates a Tracker with the default per-type TTLs and the given
// threshold (1 if threshold <= 0). Tick reports a peer only when its summed
// score is strictly greater than the threshold.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = 1
	}
	ttl := make(map[IssueType]time.Duration, len(allTypes))
	for _, t := range allTypes {
		ttl[t] = t.DefaultTTL()
	}
	return &Tracker{
		peers:     make(map[xorname.XorName]*peerLog),
		threshold: threshold,
		ttl:       ttl,
	}
}

// SetTTL overrides the retention window for typ, for operators tuning the
// defaults or tests exercising TTL expiry deterministically.
func (t *Tracker) SetTTL(typ IssueType, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttl[typ] = ttl
}

// TrackPeer registers peer in group. Per spec.md §4.H's contract,
// inserting a new peer must not itself count as an issue: this only
// creates an empty log if one is not already present, and is a no-op if
// peer is already tracked (its existing issue history and group survive
// a redundant TrackPeer call made e.g. after a benign reconnect).
func (t *Tracker) TrackPeer(peer xorname.XorName, group Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[peer]; ok {
		return
	}
	t.peers[peer] = &peerLog{group: group}
}

// Untrack drops all history for peer, e.g. once it has left the section.
func (t *Tracker) Untrack(peer xorname.XorName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}

// RecordIssue appends one observation against peer. opID is only
// meaningful (and should be non-empty) for RequestUnfulfilled.
func (t *Tracker) RecordIssue(peer xorname.XorName, typ IssueType, opID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	log, ok := t.peers[peer]
	if !ok {
		log = &peerLog{group: GroupAdult}
		t.peers[peer] = log
	}
	log.issues = append(log.issues, issue{typ: typ, opID: opID, at: now})
}

// RequestFulfilled removes the RequestUnfulfilled issue carrying opID from
// every peer's log, per spec.md §4.H's contract that resolving an
// operation removes the corresponding pending-request issue from all
// peers, not just the one that eventually served it.
func (t *Tracker) RequestFulfilled(opID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, log := range t.peers {
		kept := log.issues[:0]
		for _, iss := range log.issues {
			if iss.typ == RequestUnfulfilled && iss.opID == opID {
				continue
			}
			kept = append(kept, iss)
		}
		log.issues = kept
	}
}

// prune drops expired entries from every peer's log in place. Must be
// called with t.mu held.
func (t *Tracker) prune(now time.Time) {
	for _, log := range t.peers {
		kept := log.issues[:0]
		for _, iss := range log.issues {
			if now.Sub(iss.at) <= t.ttl[iss.typ] {
				kept = append(kept, iss)
			}
		}
		log.issues = kept
	}
}

// countsByType counts live (non-expired) issues of typ per peer, restricted
// to peers in group. Must be called with t.mu held and after prune.
func (t *Tracker) countsByType(group Group, typ IssueType) map[xorname.XorName]int {
	counts := make(map[xorname.XorName]int)
	for peer, log := range t.peers {
		if log.group != group {
			continue
		}
		n := 0
		for _, iss := range log.issues {
			if iss.typ == typ {
				n++
			}
		}
		counts[peer] = n
	}
	return counts
}

// meanStdDev computes the population mean and standard deviation of counts.
// A population of size <= 1 has std_dev 0 and count == mean for its sole
// member, so FaultLevel is always 0, per spec.md §8's boundary invariant.
func meanStdDev(counts map[xorname.XorName]int) (mean, stddev float64) {
	n := len(counts)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean = sum / float64(n)

	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

// FaultLevel is max(0, count - (mean + std_dev)), per spec.md §4.H step 3.
func FaultLevel(count int, mean, stddev float64) float64 {
	level := float64(count) - (mean + stddev)
	if level < 0 {
		return 0
	}
	return level
}

// Tick scores both populations independently against now, pruning expired
// issues first, and returns every peer whose summed weighted fault level
// exceeds the configured threshold, sorted highest-score first. Per
// spec.md §4.H, no eviction happens here: the caller (wired to the
// Membership Engine) decides whether to propose Offline(...) for a
// reported peer.
func (t *Tracker) Tick(now time.Time) []FaultReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)

	scores := make(map[xorname.XorName]float64)
	groups := make(map[xorname.XorName]Group)
	for peer, log := range t.peers {
		groups[peer] = log.group
	}

	for _, group := range []Group{GroupAdult, GroupElder} {
		for _, typ := range allTypes {
			counts := t.countsByType(group, typ)
			mean, stddev := meanStdDev(counts)
			for peer, c := range counts {
				scores[peer] += FaultLevel(c, mean, stddev) * typ.Weight()
			}
		}
	}

	var out []FaultReport
	for peer, score := range scores {
		if score > t.threshold {
			out = append(out, FaultReport{Peer: peer, Group: groups[peer], Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return xorname.Less(out[i].Peer, out[j].Peer)
	})
	return out
}

// IssueCount returns the number of live issues of typ recorded against
// peer, for metrics and tests. It does not prune.
func (t *Tracker) IssueCount(peer xorname.XorName, typ IssueType, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	log, ok := t.peers[peer]
	if !ok {
		return 0
	}
	n := 0
	for _, iss := range log.issues {
		if iss.typ == typ && now.Sub(iss.at) <= t.ttl[typ] {
			n++
		}
	}
	return n
}
