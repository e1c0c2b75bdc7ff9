// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ae implements the Anti-Entropy layer: the AE-Retry/AE-Redirect
// responses a receiver sends when an inbound envelope fails the freshness
// check, the cooperative AE-Probe, and the sender-side contract that an
// AE-Retry must be applied before the message is resent, bounded by
// ae_retry_max attempts.
package ae

import (
	"fmt"

	"github.com/luxfi/safenode/internal/knowledge"
	"github.com/luxfi/safenode/internal/wire"
	"github.com/luxfi/safenode/internal/xorname"
)

// Variant distinguishes the two AE response shapes.
type Variant int

const (
	VariantRetry Variant = iota
	VariantRedirect
)

// Response is the payload returned to a sender whose envelope failed the
// freshness check.
type Response struct {
	Variant    Variant
	ProofChain []knowledge.Edge
	SAP        knowledge.SAP
}

// BuildResponse inspects an inbound envelope's destination against the
// receiver's NetworkKnowledge and returns the appropriate AE response, or
// ok=false if the envelope was in fact fresh (no AE needed).
func BuildResponse(tree *knowledge.Tree, dst wire.Dst, receiverPrefix xorname.Prefix) (Response, bool, error) {
	inPrefix := receiverPrefix.Matches(dst.Name)
	receiverSAP, ok := tree.KnownSAP(receiverPrefix)
	if !ok {
		return Response{}, false, fmt.Errorf("ae: receiver's own prefix %s has no known SAP", receiverPrefix)
	}

	switch wire.CheckFreshness(dst, receiverSAP.SectionPublicKey, inPrefix) {
	case wire.Fresh:
		return Response{}, false, nil
	case wire.WrongSection:
		destSAP, err := tree.SectionFor(dst.Name)
		if err != nil {
			return Response{}, false, fmt.Errorf("ae: %w", err)
		}
		chain, err := tree.Chain().PathTo(destSAP.SectionPublicKey)
		if err != nil {
			return Response{}, false, fmt.Errorf("ae: build redirect proof chain: %w", err)
		}
		return Response{Variant: VariantRedirect, ProofChain: chain, SAP: destSAP}, true, nil
	default: // StaleSectionKey
		chain, err := tree.Chain().PathTo(receiverSAP.SectionPublicKey)
		if err != nil {
			return Response{}, false, fmt.Errorf("ae: build retry proof chain: %w", err)
		}
		// Only the portion of the chain from the sender's stale key
		// onward is useful, but sending the full chain from genesis is
		// always valid (and simpler): the sender's Update call will find
		// its own key already known partway through and merge the rest.
		return Response{Variant: VariantRetry, ProofChain: chain, SAP: receiverSAP}, true, nil
	}
}

// Apply merges an AE response's proof chain and SAP into the sender's own
// NetworkKnowledge, per the contract that a sender receiving AE-Retry or
// AE-Redirect MUST update its knowledge before retrying.
func Apply(tree *knowledge.Tree, resp Response) error {
	result, err := tree.Update(resp.SAP, resp.ProofChain)
	if err != nil {
		return fmt.Errorf("ae: apply response: %w", err)
	}
	if result == knowledge.Rejected {
		return fmt.Errorf("ae: response rejected by local knowledge (should not happen for a well-formed AE reply)")
	}
	return nil
}
