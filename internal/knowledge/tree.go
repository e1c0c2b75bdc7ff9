package knowledge

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/luxfi/safenode/internal/xorname"
)

// UpdateResult reports the outcome of applying a SAP update.
type UpdateResult int

const (
	Rejected UpdateResult = iota
	AlreadyKnown
	Updated
)

func (r UpdateResult) String() string {
	switch r {
	case AlreadyKnown:
		return "AlreadyKnown"
	case Updated:
		return "Updated"
	default:
		return "Rejected"
	}
}

// snapshot is the immutable data a Tree handle points to. Writers build a
// new snapshot and atomically publish it; readers that already hold a
// handle keep seeing the old one until they re-fetch.
type snapshot struct {
	saps  map[string]SAP // keyed by prefix string; invariant: prefixes are pairwise non-overlapping and jointly cover the address space
	chain *SectionChain
}

// Tree is NetworkKnowledge: the local view of prefix -> SAP plus the
// SectionChain. Single writer (AE/handover code paths), many readers.
type Tree struct {
	mu   sync.Mutex // serializes writers only; readers take curMu just to load the snapshot pointer
	cur  *snapshot
	curMu sync.RWMutex
}

// NewTree creates a Tree seeded with the genesis SAP (self-signed, prefix
// is the root prefix).
func NewTree(genesis SAP) (*Tree, error) {
	if genesis.Prefix.BitCount() != 0 {
		return nil, fmt.Errorf("knowledge: genesis SAP must use the root prefix")
	}
	if err := genesis.VerifySelfConsistent(genesis.SectionPublicKey); err != nil {
		return nil, fmt.Errorf("knowledge: invalid genesis SAP: %w", err)
	}
	chain := NewSectionChain(genesis.SectionPublicKey)
	t := &Tree{}
	t.cur = &snapshot{
		saps:  map[string]SAP{genesis.Prefix.String(): genesis},
		chain: chain,
	}
	return t, nil
}

func (t *Tree) snapshotHandle() *snapshot {
	t.curMu.RLock()
	defer t.curMu.RUnlock()
	return t.cur
}

func (t *Tree) publish(s *snapshot) {
	t.curMu.Lock()
	t.cur = s
	t.curMu.Unlock()
}

// SectionFor returns the unique SAP whose prefix covers name.
func (t *Tree) SectionFor(name xorname.XorName) (SAP, error) {
	snap := t.snapshotHandle()
	var best *SAP
	for _, sap := range snap.saps {
		if sap.Prefix.Matches(name) {
			if best != nil {
				return SAP{}, fmt.Errorf("knowledge: overlapping prefixes both match name %s", name)
			}
			s := sap
			best = &s
		}
	}
	if best == nil {
		return SAP{}, fmt.Errorf("knowledge: no known section covers name %s", name)
	}
	return *best, nil
}

// KnownSAP returns the SAP currently stored for prefix, if any.
func (t *Tree) KnownSAP(prefix xorname.Prefix) (SAP, bool) {
	snap := t.snapshotHandle()
	sap, ok := snap.saps[prefix.String()]
	return sap, ok
}

// Update applies a candidate SAP plus its proof chain, per the acceptance
// rule: the proof chain must link newSAP.SectionPublicKey back to a key
// already in the local chain, AND newSAP.Generation must be >= the known
// SAP's generation for that prefix (or the prefix must be unknown, i.e. a
// split child). On acceptance, chain edges are merged and the prefix's SAP
// is replaced; if newSAP's prefix is a strict extension of a known prefix
// (a split), the parent entry is replaced by the two children as they
// arrive.
func (t *Tree) Update(newSAP SAP, proofChain []Edge) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.snapshotHandle()

	// Find the chain anchor: either the SAP's own key is already known
	// (AlreadyKnown fast path) or the proof chain must extend from a known
	// key to it.
	if snap.chain.Has(newSAP.SectionPublicKey) {
		if existing, ok := snap.saps[newSAP.Prefix.String()]; ok && existing.Generation >= newSAP.Generation {
			return AlreadyKnown, nil
		}
	} else {
		if len(proofChain) == 0 {
			return Rejected, fmt.Errorf("knowledge: unknown section key with no proof chain")
		}
		anchor := proofChain[0].ParentKey
		if !snap.chain.Has(anchor) {
			return Rejected, fmt.Errorf("knowledge: proof chain does not anchor to known chain")
		}
		if err := VerifyProofChain(proofChain, anchor); err != nil {
			return Rejected, fmt.Errorf("knowledge: %w", err)
		}
		// last edge's child must be the SAP's key
		last := proofChain[len(proofChain)-1]
		if !bytes.Equal(last.ChildKey.Bytes(), newSAP.SectionPublicKey.Bytes()) {
			return Rejected, fmt.Errorf("knowledge: proof chain does not terminate at the SAP's section key")
		}
	}

	// Generation check against any known ancestor/overlapping prefix.
	existing, exists := snap.saps[newSAP.Prefix.String()]
	splitParent, isSplit := findSplitParent(snap.saps, newSAP.Prefix)
	_, hasSibling := snap.saps[newSAP.Prefix.Sibling().String()]
	switch {
	case exists:
		if newSAP.Generation < existing.Generation {
			return Rejected, fmt.Errorf("knowledge: stale generation %d < known %d", newSAP.Generation, existing.Generation)
		}
	case isSplit:
		if newSAP.Generation < splitParent.Generation {
			return Rejected, fmt.Errorf("knowledge: split child generation older than parent")
		}
	case hasSibling && newSAP.Prefix.BitCount() > 0:
		// Second half of a split: the first child to arrive already
		// replaced the parent entry.
	default:
		return Rejected, fmt.Errorf("knowledge: SAP prefix %s unrelated to any known prefix", newSAP.Prefix)
	}

	// Build the next snapshot.
	nextChain := &SectionChain{
		genesis: snap.chain.genesis,
		edges:   cloneEdges(snap.chain.edges),
		known:   cloneKnown(snap.chain.known),
	}
	if len(proofChain) > 0 {
		if err := nextChain.Merge(proofChain); err != nil {
			return Rejected, fmt.Errorf("knowledge: %w", err)
		}
	}

	nextSAPs := make(map[string]SAP, len(snap.saps)+1)
	for k, v := range snap.saps {
		nextSAPs[k] = v
	}
	if isSplit {
		delete(nextSAPs, splitParent.Prefix.String())
	}
	nextSAPs[newSAP.Prefix.String()] = newSAP

	t.publish(&snapshot{saps: nextSAPs, chain: nextChain})
	return Updated, nil
}

func findSplitParent(saps map[string]SAP, child xorname.Prefix) (SAP, bool) {
	for _, sap := range saps {
		if child.IsExtensionOf(sap.Prefix) {
			return sap, true
		}
	}
	return SAP{}, false
}

// AllSAPs returns every currently known SAP, for gossip batching and
// debugging.
func (t *Tree) AllSAPs() []SAP {
	snap := t.snapshotHandle()
	out := make([]SAP, 0, len(snap.saps))
	for _, s := range snap.saps {
		out = append(out, s)
	}
	return out
}

// Chain exposes a read-only snapshot of the SectionChain for proof-chain
// construction by the AE layer.
func (t *Tree) Chain() *SectionChain {
	return t.snapshotHandle().chain
}
