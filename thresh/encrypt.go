package thresh

import (
	"math/big"
	"sort"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"golang.org/x/crypto/blake2b"

	"github.com/chorus-fed/conductor/conderrors"
)

// Threshold encryption in the Baek-Zheng style: a proposal encrypted to the
// group key can only be opened once t validators contribute decryption
// shares, so no single validator learns a batch before agreement delivers it.
//
// Ciphertext: r random, U = g2^r, V = m XOR KDF(e(B, pk)^r), W = H(U||V)^r
// where B = HashToG1("conductor-tpke-base") is a fixed base point and W makes
// the ciphertext non-malleable (checked against e(H(U||V), U)).

// Ciphertext is a group-encrypted payload.
type Ciphertext struct {
	U [PublicKeyLen]byte
	V []byte
	W [SignatureLen]byte
}

// DecShare is one validator's decryption share: e(B, U)^{s_i} in GT.
type DecShare struct {
	Index uint32
	K     [bls12381.SizeOfGT]byte
}

func tpkeBase() (bls12381.G1Affine, error) {
	return bls12381.HashToG1([]byte("conductor-tpke-base"), dst(DomainTPKE))
}

func ciphertextBinding(u [PublicKeyLen]byte, v []byte) (bls12381.G1Affine, error) {
	msg := make([]byte, 0, len(u)+len(v))
	msg = append(msg, u[:]...)
	msg = append(msg, v...)
	return bls12381.HashToG1(msg, dst(DomainTPKE+"-bind"))
}

func keystream(k []byte, n int) []byte {
	out := make([]byte, 0, n)
	var counter uint32
	for len(out) < n {
		h, _ := blake2b.New256(nil)
		h.Write([]byte("conductor-tpke-kdf"))
		h.Write(k)
		var c [4]byte
		c[0] = byte(counter)
		c[1] = byte(counter >> 8)
		c[2] = byte(counter >> 16)
		c[3] = byte(counter >> 24)
		h.Write(c[:])
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:n]
}

func xorBytes(data, stream []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ stream[i]
	}
	return out
}

// EncryptToGroup encrypts plaintext so that any t decryption shares open it.
func EncryptToGroup(pk *GroupPublicKey, plaintext []byte) (*Ciphertext, error) {
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return nil, err
	}
	var rbi big.Int
	r.BigInt(&rbi)

	var u bls12381.G2Affine
	u.ScalarMultiplicationBase(&rbi)

	base, err := tpkeBase()
	if err != nil {
		return nil, err
	}
	k, err := bls12381.Pair([]bls12381.G1Affine{base}, []bls12381.G2Affine{pk.point})
	if err != nil {
		return nil, err
	}
	var kr bls12381.GT
	kr.Exp(k, &rbi)
	kb := kr.Bytes()

	ct := &Ciphertext{U: u.Bytes()}
	ct.V = xorBytes(plaintext, keystream(kb[:], len(plaintext)))

	bind, err := ciphertextBinding(ct.U, ct.V)
	if err != nil {
		return nil, err
	}
	var w bls12381.G1Affine
	w.ScalarMultiplication(&bind, &rbi)
	ct.W = w.Bytes()
	return ct, nil
}

// VerifyCiphertext checks the non-malleability binding of a ciphertext.
func VerifyCiphertext(ct *Ciphertext) error {
	var u bls12381.G2Affine
	if _, err := u.SetBytes(ct.U[:]); err != nil {
		return conderrors.ErrSInvalidCiphertext
	}
	var w bls12381.G1Affine
	if _, err := w.SetBytes(ct.W[:]); err != nil {
		return conderrors.ErrSInvalidCiphertext
	}
	bind, err := ciphertextBinding(ct.U, ct.V)
	if err != nil {
		return err
	}
	// e(bind, U) * e(W, -g2) == 1  <=>  e(W, g2) == e(bind, U)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{bind, w},
		[]bls12381.G2Affine{u, g2GenNeg},
	)
	if err != nil || !ok {
		return conderrors.ErrSInvalidCiphertext
	}
	return nil
}

// DecryptShare contributes one share toward opening the ciphertext. The
// ciphertext binding is verified first so shares are never produced for
// mauled ciphertexts.
func DecryptShare(share *SecretShare, ct *Ciphertext) (DecShare, error) {
	if err := VerifyCiphertext(ct); err != nil {
		return DecShare{}, err
	}
	var u bls12381.G2Affine
	if _, err := u.SetBytes(ct.U[:]); err != nil {
		return DecShare{}, conderrors.ErrSInvalidCiphertext
	}
	base, err := tpkeBase()
	if err != nil {
		return DecShare{}, err
	}
	k, err := bls12381.Pair([]bls12381.G1Affine{base}, []bls12381.G2Affine{u})
	if err != nil {
		return DecShare{}, err
	}
	var bi big.Int
	share.scalar.BigInt(&bi)
	var ki bls12381.GT
	ki.Exp(k, &bi)
	return DecShare{Index: share.Index, K: ki.Bytes()}, nil
}

// CombineDecryption opens a ciphertext from at least t decryption shares.
func CombineDecryption(ct *Ciphertext, shares []DecShare, t int) ([]byte, error) {
	if err := VerifyCiphertext(ct); err != nil {
		return nil, err
	}
	byIndex := make(map[uint32]DecShare, len(shares))
	for _, s := range shares {
		byIndex[s.Index] = s
	}
	if len(byIndex) < t {
		return nil, conderrors.ErrSInsufficientShares
	}
	indices := make([]uint32, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	indices = indices[:t]

	lambdas := lagrangeAt0(indices)

	var acc bls12381.GT
	acc.SetOne()
	for i, idx := range indices {
		var ki bls12381.GT
		s := byIndex[idx]
		if err := ki.SetBytes(s.K[:]); err != nil {
			return nil, conderrors.ErrSInvalidShare
		}
		var bi big.Int
		lambdas[i].BigInt(&bi)
		var term bls12381.GT
		term.Exp(ki, &bi)
		acc.Mul(&acc, &term)
	}
	kb := acc.Bytes()
	return xorBytes(ct.V, keystream(kb[:], len(ct.V))), nil
}
