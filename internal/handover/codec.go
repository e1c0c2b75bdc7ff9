// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handover

import (
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// EncodeVote serializes v for transport with internal/wire's
// length-prefixed byte codec.
func EncodeVote(v Vote) []byte {
	b := wire.AppendUint64(nil, v.Generation)
	b = wire.AppendString(b, v.Prefix.String())
	b = wire.AppendBytes(b, v.Digest[:])
	b = wire.AppendBytes(b, v.Signer[:])
	b = wire.AppendBytes(b, v.ShareSig.Bytes())
	return b
}

// DecodeVote reverses EncodeVote.
func DecodeVote(data []byte) (Vote, error) {
	var v Vote
	var err error

	v.Generation, data, err = wire.ConsumeUint64(data)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote generation: %w", err)
	}

	prefixBits, data, err := wire.ConsumeString(data)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote prefix: %w", err)
	}
	v.Prefix, err = xorname.ParsePrefix(prefixBits)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote prefix: %w", err)
	}

	digestBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote digest: %w", err)
	}
	if len(digestBytes) != len(v.Digest) {
		return Vote{}, fmt.Errorf("handover: decode vote digest: wrong length %d", len(digestBytes))
	}
	copy(v.Digest[:], digestBytes)

	signerBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote signer: %w", err)
	}
	v.Signer, err = xorname.FromBytes(signerBytes)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote signer: %w", err)
	}

	sigBytes, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote share sig: %w", err)
	}
	v.ShareSig, err = blssig.SignatureFromBytes(sigBytes)
	if err != nil {
		return Vote{}, fmt.Errorf("handover: decode vote share sig: %w", err)
	}
	return v, nil
}
