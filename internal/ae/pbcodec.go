// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ae

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/xorname"
)

// Wire field numbers for the hand-rolled AE response encoding. There is no
// generated .pb.go for this message: protowire's low-level append/consume
// API is used directly, since an AE-Retry/AE-Redirect payload is simple
// enough not to need a schema compiler, while still giving the response a
// stable, self-delimiting, forward-compatible wire shape.
const (
	fieldVariant    = 1
	fieldProofChain = 2
	fieldSAP        = 3

	fieldEdgeParentKey = 1
	fieldEdgeChildKey  = 2
	fieldEdgeSig       = 3

	fieldSAPPrefix     = 1
	fieldSAPElders     = 2
	fieldSAPSectionKey = 3
	fieldSAPGeneration = 4
	fieldSAPSig        = 5

	fieldElderName = 1
	fieldElderAddr = 2
	fieldElderKey  = 3
)

// EncodeResponse serializes resp as a length-delimited protobuf-wire
// message suitable for placing directly into an Envelope's Payload.
func EncodeResponse(resp Response) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVariant, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(resp.Variant))
	for _, e := range resp.ProofChain {
		b = protowire.AppendTag(b, fieldProofChain, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEdge(e))
	}
	b = protowire.AppendTag(b, fieldSAP, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeSAP(resp.SAP))
	return b
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Response{}, fmt.Errorf("ae: decode response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldVariant:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Response{}, fmt.Errorf("ae: decode variant: %w", protowire.ParseError(m))
			}
			resp.Variant = Variant(v)
			data = data[m:]
		case fieldProofChain:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return Response{}, fmt.Errorf("ae: decode proof chain entry")
			}
			edge, err := decodeEdge(raw)
			if err != nil {
				return Response{}, err
			}
			resp.ProofChain = append(resp.ProofChain, edge)
			data = data[m:]
		case fieldSAP:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return Response{}, fmt.Errorf("ae: decode sap")
			}
			sap, err := decodeSAP(raw)
			if err != nil {
				return Response{}, err
			}
			resp.SAP = sap
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Response{}, fmt.Errorf("ae: decode response: unknown field %d", num)
			}
			data = data[m:]
		}
	}
	return resp, nil
}

func consumeBytesField(data []byte, typ protowire.Type) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, -1
	}
	return protowire.ConsumeBytes(data)
}

func encodeEdge(e knowledge.Edge) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEdgeParentKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ParentKey.Bytes())
	b = protowire.AppendTag(b, fieldEdgeChildKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ChildKey.Bytes())
	b = protowire.AppendTag(b, fieldEdgeSig, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Sig.Bytes())
	return b
}

func decodeEdge(data []byte) (knowledge.Edge, error) {
	var parentBytes, childBytes, sigBytes []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return knowledge.Edge{}, fmt.Errorf("ae: decode edge: %w", protowire.ParseError(n))
		}
		data = data[n:]
		raw, m := consumeBytesField(data, typ)
		if m < 0 {
			return knowledge.Edge{}, fmt.Errorf("ae: decode edge field %d", num)
		}
		switch num {
		case fieldEdgeParentKey:
			parentBytes = raw
		case fieldEdgeChildKey:
			childBytes = raw
		case fieldEdgeSig:
			sigBytes = raw
		}
		data = data[m:]
	}

	parent, err := blssig.PublicKeyFromBytes(parentBytes)
	if err != nil {
		return knowledge.Edge{}, fmt.Errorf("ae: decode edge parent key: %w", err)
	}
	child, err := blssig.PublicKeyFromBytes(childBytes)
	if err != nil {
		return knowledge.Edge{}, fmt.Errorf("ae: decode edge child key: %w", err)
	}
	sig, err := blssig.SignatureFromBytes(sigBytes)
	if err != nil {
		return knowledge.Edge{}, fmt.Errorf("ae: decode edge sig: %w", err)
	}
	return knowledge.Edge{ParentKey: parent, ChildKey: child, Sig: sig}, nil
}

func encodeSAP(sap knowledge.SAP) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSAPPrefix, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(sap.Prefix.String()))
	for _, elder := range sap.Elders {
		b = protowire.AppendTag(b, fieldSAPElders, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeElder(elder))
	}
	b = protowire.AppendTag(b, fieldSAPSectionKey, protowire.BytesType)
	b = protowire.AppendBytes(b, sap.SectionPublicKey.Bytes())
	b = protowire.AppendTag(b, fieldSAPGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, sap.Generation)
	b = protowire.AppendTag(b, fieldSAPSig, protowire.BytesType)
	b = protowire.AppendBytes(b, sap.Sig.Bytes())
	return b
}

func decodeSAP(data []byte) (knowledge.SAP, error) {
	var sap knowledge.SAP
	var prefixBits string
	var keyBytes, sigBytes []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return knowledge.SAP{}, fmt.Errorf("ae: decode sap: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSAPGeneration:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap generation")
			}
			sap.Generation = v
			data = data[m:]
		case fieldSAPPrefix:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap prefix")
			}
			prefixBits = string(raw)
			data = data[m:]
		case fieldSAPElders:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap elder")
			}
			elder, err := decodeElder(raw)
			if err != nil {
				return knowledge.SAP{}, err
			}
			sap.Elders = append(sap.Elders, elder)
			data = data[m:]
		case fieldSAPSectionKey:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap section key")
			}
			keyBytes = raw
			data = data[m:]
		case fieldSAPSig:
			raw, m := consumeBytesField(data, typ)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap sig")
			}
			sigBytes = raw
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return knowledge.SAP{}, fmt.Errorf("ae: decode sap: unknown field %d", num)
			}
			data = data[m:]
		}
	}

	prefix, err := decodePrefixBits(prefixBits)
	if err != nil {
		return knowledge.SAP{}, err
	}
	sap.Prefix = prefix

	sap.SectionPublicKey, err = blssig.PublicKeyFromBytes(keyBytes)
	if err != nil {
		return knowledge.SAP{}, fmt.Errorf("ae: decode sap section key: %w", err)
	}
	sap.Sig, err = blssig.SignatureFromBytes(sigBytes)
	if err != nil {
		return knowledge.SAP{}, fmt.Errorf("ae: decode sap sig: %w", err)
	}
	return sap, nil
}

func encodeElder(e knowledge.ElderInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldElderName, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Name[:])
	b = protowire.AppendTag(b, fieldElderAddr, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(e.Addr))
	b = protowire.AppendTag(b, fieldElderKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.PublicKeyShare.Bytes())
	return b
}

func decodeElder(data []byte) (knowledge.ElderInfo, error) {
	var nameBytes, keyBytes []byte
	var addr string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return knowledge.ElderInfo{}, fmt.Errorf("ae: decode elder: %w", protowire.ParseError(n))
		}
		data = data[n:]
		raw, m := consumeBytesField(data, typ)
		if m < 0 {
			return knowledge.ElderInfo{}, fmt.Errorf("ae: decode elder field %d", num)
		}
		switch num {
		case fieldElderName:
			nameBytes = raw
		case fieldElderAddr:
			addr = string(raw)
		case fieldElderKey:
			keyBytes = raw
		}
		data = data[m:]
	}

	name, err := xorname.FromBytes(nameBytes)
	if err != nil {
		return knowledge.ElderInfo{}, fmt.Errorf("ae: decode elder name: %w", err)
	}
	pk, err := blssig.PublicKeyFromBytes(keyBytes)
	if err != nil {
		return knowledge.ElderInfo{}, fmt.Errorf("ae: decode elder key share: %w", err)
	}
	return knowledge.ElderInfo{Name: name, Addr: addr, PublicKeyShare: pk}, nil
}

// decodePrefixBits reconstructs a Prefix from its '0'/'1' string rendering,
// the same scheme internal/knowledge uses for its own persisted format.
func decodePrefixBits(s string) (xorname.Prefix, error) {
	var name xorname.XorName
	for i := 0; i < len(s); i++ {
		var bit uint8
		switch s[i] {
		case '1':
			bit = 1
		case '0':
			bit = 0
		default:
			return xorname.Prefix{}, fmt.Errorf("ae: invalid prefix bit string %q", s)
		}
		if bit == 1 {
			name[i/8] |= 1 << uint(7-i%8)
		}
	}
	return xorname.NewPrefix(name, len(s)), nil
}
