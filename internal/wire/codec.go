// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"fmt"
)

// AppendUint64 appends v as 8 big-endian bytes, the length-prefix width
// every variable-length field below uses. This is the "lighter internal
// codec" the DATA MODEL notes reserve for everything other than DKG round
// messages and the AE proof chain, which use protobuf instead.
func AppendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// ConsumeUint64 reads 8 big-endian bytes off the front of b.
func ConsumeUint64(b []byte) (v uint64, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("wire: short uint64 field")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

// AppendBytes appends a length-prefixed byte string.
func AppendBytes(b []byte, v []byte) []byte {
	b = AppendUint64(b, uint64(len(v)))
	return append(b, v...)
}

// ConsumeBytes reads a length-prefixed byte string off the front of b.
func ConsumeBytes(b []byte) (v []byte, rest []byte, err error) {
	n, rest, err := ConsumeUint64(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("wire: short bytes field: want %d, have %d", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}

// AppendString appends a length-prefixed string.
func AppendString(b []byte, s string) []byte {
	return AppendBytes(b, []byte(s))
}

// ConsumeString reads a length-prefixed string off the front of b.
func ConsumeString(b []byte) (s string, rest []byte, err error) {
	raw, rest, err := ConsumeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}
