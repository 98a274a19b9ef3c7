// Package thresh implements the threshold cryptography used for quorum
// certificates, the common coin, and batch confidentiality: BLS signatures
// over BLS12-381 with Shamir-shared group keys, Feldman-verifiable dealings,
// and a pairing-based threshold encryption scheme.
package thresh

import (
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"golang.org/x/crypto/blake2b"

	"github.com/chorus-fed/conductor/conderrors"
)

const (
	// SignatureLen is the compressed G1 point size.
	SignatureLen = 48
	// PublicKeyLen is the compressed G2 point size.
	PublicKeyLen = 96
)

var (
	g2Gen    bls12381.G2Affine
	g2GenNeg bls12381.G2Affine
)

func init() {
	_, _, _, g2Gen = bls12381.Generators()
	g2GenNeg.Neg(&g2Gen)
}

// SecretShare is one validator's share of the group secret. Index is the
// 1-based evaluation point of the sharing polynomial.
type SecretShare struct {
	Index  uint32
	scalar fr.Element
}

// NewSecretShare builds a share from raw scalar bytes (big-endian, reduced
// mod r). Used when loading key material from disk.
func NewSecretShare(index uint32, scalar []byte) SecretShare {
	var s SecretShare
	s.Index = index
	s.scalar.SetBytes(scalar)
	return s
}

// ScalarBytes returns the share scalar in big-endian form for persistence.
func (s *SecretShare) ScalarBytes() []byte {
	b := s.scalar.Bytes()
	return b[:]
}

// GroupPublicKey is the aggregate public key g2^s of the shared secret.
type GroupPublicKey struct {
	point bls12381.G2Affine
}

// Bytes returns the compressed form of the group key.
func (pk *GroupPublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// SetBytes decompresses a group key.
func (pk *GroupPublicKey) SetBytes(data []byte) error {
	if _, err := pk.point.SetBytes(data); err != nil {
		return conderrors.ErrSInvalidShare
	}
	return nil
}

// Dealing is one dealer's contribution to a (re)sharing: a share per
// participant plus the Feldman commitment vector to the polynomial
// coefficients.
type Dealing struct {
	Shares      []SecretShare
	Commitments []bls12381.G2Affine
}

// GroupKey returns the dealer's contribution to the group public key, the
// commitment to the constant coefficient.
func (d *Dealing) GroupKey() GroupPublicKey {
	return GroupPublicKey{point: d.Commitments[0]}
}

// Deal produces an n-participant t-threshold sharing of a fresh secret
// derived deterministically from seed. The same seed yields the same
// dealing on any machine.
func Deal(n, t int, seed []byte) (*Dealing, error) {
	if t < 1 || t > n {
		return nil, conderrors.ErrSBadDealing
	}

	// Polynomial coefficients a_0..a_{t-1} from the seed chain.
	coeffs := make([]fr.Element, t)
	material := seed
	for j := 0; j < t; j++ {
		material = common256(material, uint32(j))
		coeffs[j].SetBytes(material)
	}

	d := &Dealing{
		Shares:      make([]SecretShare, n),
		Commitments: make([]bls12381.G2Affine, t),
	}
	for j := 0; j < t; j++ {
		var bi big.Int
		coeffs[j].BigInt(&bi)
		d.Commitments[j].ScalarMultiplicationBase(&bi)
	}
	for i := 0; i < n; i++ {
		idx := uint32(i + 1)
		d.Shares[i] = SecretShare{Index: idx, scalar: evalPoly(coeffs, idx)}
	}
	return d, nil
}

func common256(seed []byte, counter uint32) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("conductor-deal"))
	h.Write(seed)
	var c [4]byte
	c[0] = byte(counter)
	c[1] = byte(counter >> 8)
	c[2] = byte(counter >> 16)
	c[3] = byte(counter >> 24)
	h.Write(c[:])
	return h.Sum(nil)
}

func evalPoly(coeffs []fr.Element, x uint32) fr.Element {
	var xe, acc fr.Element
	xe.SetUint64(uint64(x))
	// Horner
	acc.Set(&coeffs[len(coeffs)-1])
	for j := len(coeffs) - 2; j >= 0; j-- {
		acc.Mul(&acc, &xe)
		acc.Add(&acc, &coeffs[j])
	}
	return acc
}

// VerifyShare checks a dealt share against the dealing's commitment vector:
// g2^{s_i} must equal the committed polynomial evaluated in the exponent.
func VerifyShare(share SecretShare, commitments []bls12381.G2Affine) error {
	if len(commitments) == 0 || share.Index == 0 {
		return conderrors.ErrSInvalidShare
	}
	expect := evalCommitments(commitments, share.Index)

	var bi big.Int
	share.scalar.BigInt(&bi)
	var got bls12381.G2Affine
	got.ScalarMultiplicationBase(&bi)
	if !got.Equal(&expect) {
		return conderrors.ErrSInvalidShare
	}
	return nil
}

// VerificationKey returns g2^{s_i} for the given index, derived from the
// commitment vector. Used to verify signature shares without the secret.
func VerificationKey(commitments []bls12381.G2Affine, index uint32) bls12381.G2Affine {
	return evalCommitments(commitments, index)
}

func evalCommitments(commitments []bls12381.G2Affine, index uint32) bls12381.G2Affine {
	var acc bls12381.G2Jac
	acc.FromAffine(&commitments[len(commitments)-1])

	var xe fr.Element
	xe.SetUint64(uint64(index))
	var xbi big.Int
	xe.BigInt(&xbi)

	for j := len(commitments) - 2; j >= 0; j-- {
		acc.ScalarMultiplication(&acc, &xbi)
		var term bls12381.G2Jac
		term.FromAffine(&commitments[j])
		acc.AddAssign(&term)
	}
	var out bls12381.G2Affine
	out.FromJacobian(&acc)
	return out
}

// CombineDealings folds one verified share per dealer into the participant's
// final share, and the dealers' group-key contributions into the group key.
// This is the receiving half of the DKG. It checks only that every share
// carries the participant's index; shares are not checked against the
// dealers' commitments here (VerifyShare does that, before the call).
func CombineDealings(index uint32, dealt []SecretShare, groupKeys []GroupPublicKey) (SecretShare, GroupPublicKey, error) {
	if len(dealt) == 0 || len(dealt) != len(groupKeys) {
		return SecretShare{}, GroupPublicKey{}, conderrors.ErrSBadDealing
	}
	combined := SecretShare{Index: index}
	for _, s := range dealt {
		if s.Index != index {
			return SecretShare{}, GroupPublicKey{}, conderrors.ErrSBadDealing
		}
		combined.scalar.Add(&combined.scalar, &s.scalar)
	}

	var acc bls12381.G2Jac
	acc.FromAffine(&groupKeys[0].point)
	for _, gk := range groupKeys[1:] {
		var term bls12381.G2Jac
		term.FromAffine(&gk.point)
		acc.AddAssign(&term)
	}
	var pk GroupPublicKey
	pk.point.FromJacobian(&acc)
	return combined, pk, nil
}
