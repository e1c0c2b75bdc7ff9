// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dkg

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/xorname"
)

// Contribution is the wire message one participant sends the session
// coordinator carrying its key share for a round.
type Contribution struct {
	Key         SessionKey
	Participant xorname.XorName
	Share       blssig.PublicKey
}

// Wire field numbers for the hand-rolled contribution encoding (see
// internal/ae/pbcodec.go for why protowire's low-level API is used here
// instead of a generated .pb.go).
const (
	fieldKeyPrefix     = 1
	fieldKeyGeneration = 2
	fieldKeySessionID  = 3
	fieldParticipant   = 4
	fieldShare         = 5
)

// EncodeContribution serializes c for transport.
func EncodeContribution(c Contribution) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyPrefix, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(c.Key.Prefix.String()))
	b = protowire.AppendTag(b, fieldKeyGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Key.Generation)
	b = protowire.AppendTag(b, fieldKeySessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Key.SessionID)
	b = protowire.AppendTag(b, fieldParticipant, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Participant[:])
	b = protowire.AppendTag(b, fieldShare, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Share.Bytes())
	return b
}

// DecodeContribution reverses EncodeContribution.
func DecodeContribution(data []byte) (Contribution, error) {
	var c Contribution
	var prefixBits string
	var participantBytes, shareBytes []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Contribution{}, fmt.Errorf("dkg: decode contribution: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldKeyGeneration:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode generation")
			}
			c.Key.Generation = v
			data = data[m:]
		case fieldKeySessionID:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode session id")
			}
			c.Key.SessionID = v
			data = data[m:]
		case fieldKeyPrefix:
			if typ != protowire.BytesType {
				return Contribution{}, fmt.Errorf("dkg: decode prefix: wrong wire type")
			}
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode prefix")
			}
			prefixBits = string(raw)
			data = data[m:]
		case fieldParticipant:
			if typ != protowire.BytesType {
				return Contribution{}, fmt.Errorf("dkg: decode participant: wrong wire type")
			}
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode participant")
			}
			participantBytes = raw
			data = data[m:]
		case fieldShare:
			if typ != protowire.BytesType {
				return Contribution{}, fmt.Errorf("dkg: decode share: wrong wire type")
			}
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode share")
			}
			shareBytes = raw
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Contribution{}, fmt.Errorf("dkg: decode contribution: unknown field %d", num)
			}
			data = data[m:]
		}
	}

	prefix, err := decodePrefixBits(prefixBits)
	if err != nil {
		return Contribution{}, err
	}
	c.Key.Prefix = prefix

	c.Participant, err = xorname.FromBytes(participantBytes)
	if err != nil {
		return Contribution{}, fmt.Errorf("dkg: decode participant: %w", err)
	}
	c.Share, err = blssig.PublicKeyFromBytes(shareBytes)
	if err != nil {
		return Contribution{}, fmt.Errorf("dkg: decode share: %w", err)
	}
	return c, nil
}

// decodePrefixBits reconstructs a Prefix from its '0'/'1' string rendering.
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
			return xorname.Prefix{}, fmt.Errorf("dkg: invalid prefix bit string %q", s)
		}
		if bit == 1 {
			name[i/8] |= 1 << uint(7-i%8)
		}
	}
	return xorname.NewPrefix(name, len(s)), nil
}
