// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package query

import (
	"fmt"

	"github.com/luxfi/safenode/internal/blssig"
	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// ReadRequest is the client-to-Elder payload starting a read; OpID itself
// is derived from the envelope's MsgID and Target, not carried redundantly.
type ReadRequest struct {
	Target xorname.XorName
}

func EncodeReadRequest(r ReadRequest) []byte {
	return wire.AppendBytes(nil, r.Target[:])
}

func DecodeReadRequest(data []byte) (ReadRequest, error) {
	raw, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return ReadRequest{}, fmt.Errorf("query: decode read request: %w", err)
	}
	target, err := xorname.FromBytes(raw)
	if err != nil {
		return ReadRequest{}, fmt.Errorf("query: decode read request target: %w", err)
	}
	return ReadRequest{Target: target}, nil
}

// ReadReply is the Adult-to-Elder payload answering a read.
type ReadReply struct {
	OpID  OpID
	Found bool
	Data  []byte
}

func EncodeReadReply(r ReadReply) []byte {
	b := wire.AppendBytes(nil, r.OpID[:])
	var found byte
	if r.Found {
		found = 1
	}
	b = append(b, found)
	b = wire.AppendBytes(b, r.Data)
	return b
}

func DecodeReadReply(data []byte) (ReadReply, error) {
	var r ReadReply
	opIDBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return ReadReply{}, fmt.Errorf("query: decode read reply op id: %w", err)
	}
	if len(opIDBytes) != len(r.OpID) {
		return ReadReply{}, fmt.Errorf("query: decode read reply op id: wrong length %d", len(opIDBytes))
	}
	copy(r.OpID[:], opIDBytes)
	if len(data) < 1 {
		return ReadReply{}, fmt.Errorf("query: decode read reply: truncated")
	}
	r.Found = data[0] == 1
	data = data[1:]
	r.Data, _, err = wire.ConsumeBytes(data)
	if err != nil {
		return ReadReply{}, fmt.Errorf("query: decode read reply data: %w", err)
	}
	return r, nil
}

// WriteShare is one Elder's BLS signature share over a write command,
// relayed among Elders for aggregation.
type WriteShare struct {
	OpID    OpID
	Address xorname.XorName
	Data    []byte
	Signer  xorname.XorName
	Share   blssig.Signature
}

func EncodeWriteShare(w WriteShare) []byte {
	b := wire.AppendBytes(nil, w.OpID[:])
	b = wire.AppendBytes(b, w.Address[:])
	b = wire.AppendBytes(b, w.Data)
	b = wire.AppendBytes(b, w.Signer[:])
	b = wire.AppendBytes(b, w.Share.Bytes())
	return b
}

func DecodeWriteShare(data []byte) (WriteShare, error) {
	var w WriteShare
	opIDBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share op id: %w", err)
	}
	if len(opIDBytes) != len(w.OpID) {
		return WriteShare{}, fmt.Errorf("query: decode write share op id: wrong length %d", len(opIDBytes))
	}
	copy(w.OpID[:], opIDBytes)

	addrBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share address: %w", err)
	}
	w.Address, err = xorname.FromBytes(addrBytes)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share address: %w", err)
	}

	w.Data, data, err = wire.ConsumeBytes(data)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share data: %w", err)
	}

	signerBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share signer: %w", err)
	}
	w.Signer, err = xorname.FromBytes(signerBytes)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share signer: %w", err)
	}

	shareBytes, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share signature: %w", err)
	}
	w.Share, err = blssig.SignatureFromBytes(shareBytes)
	if err != nil {
		return WriteShare{}, fmt.Errorf("query: decode write share signature: %w", err)
	}
	return w, nil
}

// WriteCommand is the Elder-to-Adult store command carrying the data and
// the elders' aggregated signature over the write, relayed once
// Pipeline.ReceiveElderShare reaches threshold.
type WriteCommand struct {
	OpID         OpID
	Address      xorname.XorName
	Data         []byte
	AggregateSig blssig.Signature
}

func EncodeWriteCommand(c WriteCommand) []byte {
	b := wire.AppendBytes(nil, c.OpID[:])
	b = wire.AppendBytes(b, c.Address[:])
	b = wire.AppendBytes(b, c.Data)
	b = wire.AppendBytes(b, c.AggregateSig.Bytes())
	return b
}

func DecodeWriteCommand(data []byte) (WriteCommand, error) {
	var c WriteCommand
	opIDBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command op id: %w", err)
	}
	if len(opIDBytes) != len(c.OpID) {
		return WriteCommand{}, fmt.Errorf("query: decode write command op id: wrong length %d", len(opIDBytes))
	}
	copy(c.OpID[:], opIDBytes)

	addrBytes, data, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command address: %w", err)
	}
	c.Address, err = xorname.FromBytes(addrBytes)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command address: %w", err)
	}

	c.Data, data, err = wire.ConsumeBytes(data)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command data: %w", err)
	}

	sigBytes, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command signature: %w", err)
	}
	c.AggregateSig, err = blssig.SignatureFromBytes(sigBytes)
	if err != nil {
		return WriteCommand{}, fmt.Errorf("query: decode write command signature: %w", err)
	}
	return c, nil
}

// WriteAck is one Adult's acknowledgement of a relayed write.
type WriteAck struct {
	OpID OpID
}

func EncodeWriteAck(a WriteAck) []byte {
	return wire.AppendBytes(nil, a.OpID[:])
}

func DecodeWriteAck(data []byte) (WriteAck, error) {
	raw, _, err := wire.ConsumeBytes(data)
	if err != nil {
		return WriteAck{}, fmt.Errorf("query: decode write ack: %w", err)
	}
	var a WriteAck
	if len(raw) != len(a.OpID) {
		return WriteAck{}, fmt.Errorf("query: decode write ack: wrong length %d", len(raw))
	}
	copy(a.OpID[:], raw)
	return a, nil
}
