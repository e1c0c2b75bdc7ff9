// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity manages the node's persistent Ed25519 keypair, stored at
// root_dir/keys/node_keypair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/luxfi/safenode/internal/errs"
	"github.com/luxfi/safenode/internal/xorname"
)

// Identity is a node's long-lived cryptographic identity. Name is derived
// from the public key and is stable across restarts (it changes only on
// relocation, which regenerates Identity entirely).
type Identity struct {
	Name       xorname.XorName
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

const keyFileName = "node_keypair"

// LoadOrCreate loads the identity persisted at rootDir/keys/node_keypair,
// or generates and persists a fresh one if absent.
func LoadOrCreate(rootDir string) (Identity, error) {
	keyDir := filepath.Join(rootDir, "keys")
	path := filepath.Join(keyDir, keyFileName)

	if data, err := os.ReadFile(path); err == nil {
		return decode(data)
	} else if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("identity: read keypair: %w", err)
	}

	id, err := generate()
	if err != nil {
		return Identity{}, err
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return Identity{}, fmt.Errorf("identity: create key dir: %w", err)
	}
	if err := os.WriteFile(path, encode(id), 0o600); err != nil {
		return Identity{}, fmt.Errorf("identity: persist keypair: %w", err)
	}
	return id, nil
}

func generate() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return Identity{
		Name:       xorname.FromContent(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

func encode(id Identity) []byte {
	return id.PrivateKey // ed25519.PrivateKey already embeds the seed + public key
}

func decode(data []byte) (Identity, error) {
	if len(data) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("identity: %w: bad keypair file size", errs.ErrCorruptState)
	}
	priv := ed25519.PrivateKey(data)
	pub := priv.Public().(ed25519.PublicKey)
	return Identity{
		Name:       xorname.FromContent(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// Relocate produces a fresh identity for a relocation event: a new random
// name and keypair, per the node's relocation semantics (age increments,
// name regenerates).
func Relocate() (Identity, error) {
	return generate()
}

// Sign signs a message with the node's private key.
func (id Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.PrivateKey, msg)
}

// Verify checks a signature against a given public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}
