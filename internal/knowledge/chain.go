package knowledge

import (
	"bytes"
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
)

// keyID is a comparable handle for a public key, used as a chain node index.
type keyID [48]byte // compressed BLS12-381 G2 public key length

func keyIDOf(pk blssig.PublicKey) keyID {
	var id keyID
	copy(id[:], pk.Bytes())
	return id
}

// Edge is one link of the SectionChain: parentKey signed childKey into
// existence, endorsing a handover.
type Edge struct {
	ParentKey blssig.PublicKey
	ChildKey  blssig.PublicKey
	Sig       blssig.Signature
}

func (e Edge) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(e.ParentKey.Bytes())
	buf.Write(e.ChildKey.Bytes())
	return buf.Bytes()
}

// Verify checks the edge's signature under its stated parent key.
func (e Edge) Verify() bool {
	return blssig.Verify(e.ParentKey, e.signingBytes(), e.Sig)
}

// SectionChain is an append-only DAG of parent -> child key edges that must
// form a tree rooted at the genesis key. Every stored SAP's section public
// key must be a node in this chain.
type SectionChain struct {
	genesis keyID
	edges   map[keyID]Edge // keyed by child
	known   map[keyID]blssig.PublicKey
}

// NewSectionChain creates a chain rooted at genesisKey.
func NewSectionChain(genesisKey blssig.PublicKey) *SectionChain {
	id := keyIDOf(genesisKey)
	return &SectionChain{
		genesis: id,
		edges:   make(map[keyID]Edge),
		known:   map[keyID]blssig.PublicKey{id: genesisKey},
	}
}

// GenesisKey returns the chain's root key.
func (c *SectionChain) GenesisKey() blssig.PublicKey {
	return c.known[c.genesis]
}

// Has reports whether key is already a node in the chain.
func (c *SectionChain) Has(key blssig.PublicKey) bool {
	_, ok := c.known[keyIDOf(key)]
	return ok
}

// InsertEdge adds a verified edge to the chain. The parent must already be
// known; the edge's own signature must verify under the parent key. Returns
// an error rather than silently ignoring a bad edge — the caller must
// reject the whole proof chain on any single bad edge (no partial merges).
func (c *SectionChain) InsertEdge(e Edge) error {
	parentID := keyIDOf(e.ParentKey)
	if _, ok := c.known[parentID]; !ok {
		return fmt.Errorf("knowledge: edge parent key not yet known to chain")
	}
	if !e.Verify() {
		return fmt.Errorf("knowledge: edge signature invalid under parent key")
	}
	childID := keyIDOf(e.ChildKey)
	c.edges[childID] = e
	c.known[childID] = e.ChildKey
	return nil
}

// VerifyProofChain verifies a standalone slice of edges links some
// candidate key back to trustedKey, WITHOUT mutating the receiver. It
// requires the edges be orderable into an unbroken path from trustedKey:
// the first edge's parent must equal trustedKey, and each subsequent edge's
// parent must equal the previous edge's child. Any invalid signature anywhere rejects the entire chain.
func VerifyProofChain(edges []Edge, trustedKey blssig.PublicKey) error {
	if len(edges) == 0 {
		return fmt.Errorf("knowledge: empty proof chain")
	}
	cur := trustedKey
	for i, e := range edges {
		if !bytes.Equal(e.ParentKey.Bytes(), cur.Bytes()) {
			return fmt.Errorf("knowledge: proof chain edge %d does not chain from the previous key", i)
		}
		if !e.Verify() {
			return fmt.Errorf("knowledge: proof chain edge %d has an invalid signature", i)
		}
		cur = e.ChildKey
	}
	return nil
}

// Merge applies a verified proof chain's edges into the chain. Every edge
// must already verify (callers should call VerifyProofChain first); Merge
// itself re-verifies each edge whose child key is not yet in the chain
// (edges to known keys are skipped) and aborts on first failure, applying
// nothing from a partially-invalid chain.
func (c *SectionChain) Merge(edges []Edge) error {
	// Dry-run: walk the whole chain first so a failure partway through
	// never leaves the receiver half-updated.
	tmp := &SectionChain{
		genesis: c.genesis,
		edges:   cloneEdges(c.edges),
		known:   cloneKnown(c.known),
	}
	for _, e := range edges {
		if tmp.Has(e.ChildKey) {
			continue // AlreadyKnown
		}
		if err := tmp.InsertEdge(e); err != nil {
			return err
		}
	}
	c.edges = tmp.edges
	c.known = tmp.known
	return nil
}

// PathTo returns the edge sequence from the chain's genesis to key, used to
// build an AE-Retry proof chain. The length of the returned slice is the
// "distance in chain" used in boundary tests.
func (c *SectionChain) PathTo(key blssig.PublicKey) ([]Edge, error) {
	target := keyIDOf(key)
	if _, ok := c.known[target]; !ok {
		return nil, fmt.Errorf("knowledge: key not present in chain")
	}
	var path []Edge
	cur := target
	for cur != c.genesis {
		e, ok := c.edges[cur]
		if !ok {
			return nil, fmt.Errorf("knowledge: chain is malformed: no edge leads to a non-genesis node")
		}
		path = append([]Edge{e}, path...)
		cur = keyIDOf(e.ParentKey)
	}
	return path, nil
}

func cloneEdges(m map[keyID]Edge) map[keyID]Edge {
	out := make(map[keyID]Edge, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneKnown(m map[keyID]blssig.PublicKey) map[keyID]blssig.PublicKey {
	out := make(map[keyID]blssig.PublicKey, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
