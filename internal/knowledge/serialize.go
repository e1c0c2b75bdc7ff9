package knowledge

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// formatVersion is bumped whenever the on-disk encoding changes shape. The
// original prefix_map config-file layout is gone; this is a plain versioned
// dump, per the node's design notes on persisted SectionTree format.
const formatVersion = 1

type wireElder struct {
	Name           string `json:"name"`
	Addr           string `json:"addr"`
	PublicKeyShare []byte `json:"public_key_share"`
}

type wireSAP struct {
	Prefix           string      `json:"prefix"`
	Elders           []wireElder `json:"elders"`
	SectionPublicKey []byte      `json:"section_public_key"`
	Generation       uint64      `json:"generation"`
	Sig              []byte      `json:"sig"`
}

type wireEdge struct {
	ParentKey []byte `json:"parent_key"`
	ChildKey  []byte `json:"child_key"`
	Sig       []byte `json:"sig"`
}

type wireTree struct {
	Version     int        `json:"version"`
	GenesisKey  []byte     `json:"genesis_key"`
	SAPs        []wireSAP  `json:"saps"`
	ChainEdges  []wireEdge `json:"chain_edges"`
}

// Serialize encodes the tree's current snapshot into the self-describing,
// versioned format persisted as network_contacts.
func (t *Tree) Serialize() ([]byte, error) {
	snap := t.snapshotHandle()

	out := wireTree{
		Version:    formatVersion,
		GenesisKey: snap.chain.GenesisKey().Bytes(),
	}
	for _, sap := range snap.saps {
		ws := wireSAP{
			Prefix:           sap.Prefix.String(),
			SectionPublicKey: sap.SectionPublicKey.Bytes(),
			Generation:       sap.Generation,
			Sig:              sap.Sig.Bytes(),
		}
		for _, e := range sap.Elders {
			ws.Elders = append(ws.Elders, wireElder{
				Name:           e.Name.String(),
				Addr:           e.Addr,
				PublicKeyShare: e.PublicKeyShare.Bytes(),
			})
		}
		out.SAPs = append(out.SAPs, ws)
	}
	for _, e := range snap.chain.edges {
		out.ChainEdges = append(out.ChainEdges, wireEdge{
			ParentKey: e.ParentKey.Bytes(),
			ChildKey:  e.ChildKey.Bytes(),
			Sig:       e.Sig.Bytes(),
		})
	}
	return json.Marshal(out)
}

// Deserialize reconstructs a Tree from bytes produced by Serialize. Callers
// must still trust the result only after independently verifying it (e.g.
// against a known genesis key) if it was read from an untrusted source;
// loading our own persisted state is trusted by construction.
func Deserialize(data []byte) (*Tree, error) {
	var in wireTree
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("knowledge: deserialize: %w", err)
	}
	if in.Version != formatVersion {
		return nil, fmt.Errorf("knowledge: unsupported network_contacts format version %d", in.Version)
	}

	genesisKey, err := blssig.PublicKeyFromBytes(in.GenesisKey)
	if err != nil {
		return nil, fmt.Errorf("knowledge: deserialize genesis key: %w", err)
	}
	chain := NewSectionChain(genesisKey)

	saps := make(map[string]SAP, len(in.SAPs))
	for _, ws := range in.SAPs {
		sap, err := decodeSAP(ws)
		if err != nil {
			return nil, err
		}
		saps[sap.Prefix.String()] = sap
	}

	// Edges must be merged in an order where each parent is already known;
	// retry until no edge can be applied to avoid depending on map order.
	pending := in.ChainEdges
	for len(pending) > 0 {
		progressed := false
		var next []wireEdge
		for _, we := range pending {
			e, err := decodeEdge(we)
			if err != nil {
				return nil, err
			}
			if chain.Has(e.ParentKey) {
				if err := chain.InsertEdge(e); err != nil {
					return nil, fmt.Errorf("knowledge: deserialize chain edge: %w", err)
				}
				progressed = true
				continue
			}
			next = append(next, we)
		}
		if !progressed {
			return nil, fmt.Errorf("knowledge: deserialize: disconnected chain edges")
		}
		pending = next
	}

	return &Tree{cur: &snapshot{saps: saps, chain: chain}}, nil
}

func decodeSAP(ws wireSAP) (SAP, error) {
	prefix, err := decodePrefix(ws.Prefix)
	if err != nil {
		return SAP{}, err
	}
	pk, err := blssig.PublicKeyFromBytes(ws.SectionPublicKey)
	if err != nil {
		return SAP{}, fmt.Errorf("knowledge: decode SAP key: %w", err)
	}
	sig, err := blssig.SignatureFromBytes(ws.Sig)
	if err != nil {
		return SAP{}, fmt.Errorf("knowledge: decode SAP sig: %w", err)
	}
	sap := SAP{Prefix: prefix, SectionPublicKey: pk, Generation: ws.Generation, Sig: sig}
	for _, we := range ws.Elders {
		nameBytes, err := hex.DecodeString(we.Name)
		if err != nil {
			return SAP{}, fmt.Errorf("knowledge: decode elder name: %w", err)
		}
		name, err := xorname.FromBytes(nameBytes)
		if err != nil {
			return SAP{}, fmt.Errorf("knowledge: decode elder name: %w", err)
		}
		sharePK, err := blssig.PublicKeyFromBytes(we.PublicKeyShare)
		if err != nil {
			return SAP{}, fmt.Errorf("knowledge: decode elder key share: %w", err)
		}
		sap.Elders = append(sap.Elders, ElderInfo{Name: name, Addr: we.Addr, PublicKeyShare: sharePK})
	}
	return sap, nil
}

func decodeEdge(we wireEdge) (Edge, error) {
	parent, err := blssig.PublicKeyFromBytes(we.ParentKey)
	if err != nil {
		return Edge{}, fmt.Errorf("knowledge: decode edge parent: %w", err)
	}
	child, err := blssig.PublicKeyFromBytes(we.ChildKey)
	if err != nil {
		return Edge{}, fmt.Errorf("knowledge: decode edge child: %w", err)
	}
	sig, err := blssig.SignatureFromBytes(we.Sig)
	if err != nil {
		return Edge{}, fmt.Errorf("knowledge: decode edge sig: %w", err)
	}
	return Edge{ParentKey: parent, ChildKey: child, Sig: sig}, nil
}

func decodePrefix(s string) (xorname.Prefix, error) {
	var name xorname.XorName
	for i := 0; i < len(s); i++ {
		bit := uint8(0)
		if s[i] == '1' {
			bit = 1
		} else if s[i] != '0' {
			return xorname.Prefix{}, fmt.Errorf("knowledge: invalid prefix string %q", s)
		}
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		if bit == 1 {
			name[byteIdx] |= 1 << bitIdx
		}
	}
	return xorname.NewPrefix(name, len(s)), nil
}
