package thresh

import (
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"

	"github.com/chorus-fed/conductor/conderrors"
)

// KeyContext bundles the threshold material a consensus instance needs: the
// local share, the group key, and the commitment vector for verifying peer
// shares. Captured once per epoch snapshot and passed by handle.
type KeyContext struct {
	Share       SecretShare
	GroupKey    GroupPublicKey
	Commitments []bls12381.G2Affine
}

// NewKeyContext builds a context from a dealing's output.
func NewKeyContext(share SecretShare, groupKey GroupPublicKey, commitments []bls12381.G2Affine) *KeyContext {
	return &KeyContext{Share: share, GroupKey: groupKey, Commitments: commitments}
}

// ContextFromDealing is the test/genesis convenience: key material for one
// participant straight from a dealer.
func ContextFromDealing(d *Dealing, participant int) *KeyContext {
	return &KeyContext{
		Share:       d.Shares[participant],
		GroupKey:    d.GroupKey(),
		Commitments: d.Commitments,
	}
}

// VerifyPeerShare checks a signature share from the peer holding the given
// share index. Without a commitment vector, shares cannot be attributed and
// are rejected.
func (kc *KeyContext) VerifyPeerShare(domain string, message []byte, share SigShare) error {
	if len(kc.Commitments) == 0 || share.Index == 0 {
		return conderrors.ErrSInvalidShare
	}
	vk := VerificationKey(kc.Commitments, share.Index)
	return VerifySigShare(vk, domain, message, share)
}
