// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package xorname implements the 256-bit XOR-space addressing scheme shared
// by node identities and data addresses: distance is bitwise XOR, and a
// section's address is a variable-length bit prefix over that space.
package xorname

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Len is the length in bytes of an XorName (256 bits).
const Len = 32

// ErrWrongLength is returned when decoding bytes that aren't Len long.
var ErrWrongLength = errors.New("xorname: wrong length")

// XorName is a 256-bit identifier for both nodes and data.
type XorName [Len]byte

// FromContent derives a content-addressed XorName by hashing bytes.
func FromContent(content []byte) XorName {
	sum := blake2b.Sum256(content)
	return XorName(sum)
}

// Random returns a cryptographically random XorName, used for node identity
// generation and relocation.
func Random() (XorName, error) {
	var n XorName
	if _, err := rand.Read(n[:]); err != nil {
		return XorName{}, fmt.Errorf("xorname: random: %w", err)
	}
	return n, nil
}

// FromBytes decodes a name from a byte slice, requiring exact length.
func FromBytes(b []byte) (XorName, error) {
	if len(b) != Len {
		return XorName{}, ErrWrongLength
	}
	var n XorName
	copy(n[:], b)
	return n, nil
}

// String renders the name as lowercase hex.
func (n XorName) String() string {
	return hex.EncodeToString(n[:])
}

// Bit returns the value of bit i (0 = most significant) of the name.
func (n XorName) Bit(i int) uint8 {
	byteIdx := i / 8
	bitIdx := uint(7 - i%8)
	return (n[byteIdx] >> bitIdx) & 1
}

// Distance computes the bitwise XOR distance between two names.
func Distance(a, b XorName) XorName {
	var d XorName
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a is strictly less than b, comparing bytes
// most-significant first. Applied to two Distance results it gives a total
// order usable for "closest to X" selection.
func Less(a, b XorName) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CloserTo reports whether candidate a is strictly closer to target than
// candidate b.
func CloserTo(target, a, b XorName) bool {
	da := Distance(target, a)
	db := Distance(target, b)
	return Less(da, db)
}
