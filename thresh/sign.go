package thresh

import (
	"math/big"
	"sort"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"

	"github.com/chorus-fed/conductor/conderrors"
)

// Domain separation tags for hash-to-curve. Each signing purpose gets its own
// domain so that a share produced for one context can never be replayed in
// another.
const (
	DomainQC   = "conductor-qc"
	DomainCoin = "conductor-coin"
	DomainDay  = "conductor-day"
	DomainTPKE = "conductor-tpke"
)

func dst(domain string) []byte {
	return []byte("CONDUCTOR_BLS12381G1_XMD:SHA-256_SSWU_RO_" + domain)
}

// SigShare is one validator's contribution to an aggregate signature.
type SigShare struct {
	Index uint32
	Point [SignatureLen]byte
}

// Signature is an aggregated (interpolated) group signature, compressed G1.
type Signature [SignatureLen]byte

// SignShare signs message under the validator's secret share.
func SignShare(share *SecretShare, domain string, message []byte) (SigShare, error) {
	h, err := bls12381.HashToG1(message, dst(domain))
	if err != nil {
		return SigShare{}, err
	}
	var bi big.Int
	share.scalar.BigInt(&bi)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, &bi)
	return SigShare{Index: share.Index, Point: sig.Bytes()}, nil
}

// VerifySigShare checks a signature share against the verification key
// g2^{s_i} derived from the dealing commitments.
func VerifySigShare(vk bls12381.G2Affine, domain string, message []byte, share SigShare) error {
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(share.Point[:]); err != nil {
		return conderrors.ErrSInvalidShare
	}
	h, err := bls12381.HashToG1(message, dst(domain))
	if err != nil {
		return err
	}
	// e(sig, -g2) * e(H(m), vk) == 1
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig, h},
		[]bls12381.G2Affine{g2GenNeg, vk},
	)
	if err != nil || !ok {
		return conderrors.ErrSInvalidShare
	}
	return nil
}

// Aggregate interpolates an aggregate signature from at least t distinct
// shares. The result depends only on the multiset of shares supplied: shares
// are deduplicated by index, ordered, and the lowest t indices are used, so
// arrival order never changes the output bytes.
func Aggregate(shares []SigShare, t int) (Signature, error) {
	byIndex := make(map[uint32]SigShare, len(shares))
	for _, s := range shares {
		byIndex[s.Index] = s
	}
	if len(byIndex) < t {
		return Signature{}, conderrors.ErrSInsufficientShares
	}

	indices := make([]uint32, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	indices = indices[:t]

	lambdas := lagrangeAt0(indices)

	var acc bls12381.G1Jac
	for i, idx := range indices {
		var pt bls12381.G1Affine
		share := byIndex[idx]
		if _, err := pt.SetBytes(share.Point[:]); err != nil {
			return Signature{}, conderrors.ErrSInvalidShare
		}
		var bi big.Int
		lambdas[i].BigInt(&bi)
		var term bls12381.G1Jac
		term.FromAffine(&pt)
		term.ScalarMultiplication(&term, &bi)
		acc.AddAssign(&term)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return Signature(out.Bytes()), nil
}

// VerifyAggregate checks an aggregate signature under the group public key.
func VerifyAggregate(pk *GroupPublicKey, domain string, message []byte, sig Signature) error {
	var sigPt bls12381.G1Affine
	if _, err := sigPt.SetBytes(sig[:]); err != nil {
		return conderrors.ErrSAggregateInvalid
	}
	h, err := bls12381.HashToG1(message, dst(domain))
	if err != nil {
		return err
	}
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sigPt, h},
		[]bls12381.G2Affine{g2GenNeg, pk.point},
	)
	if err != nil || !ok {
		return conderrors.ErrSAggregateInvalid
	}
	return nil
}
