package thresh

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// lagrangeAt0 computes the Lagrange basis coefficients at x=0 for the given
// distinct evaluation points. Indices must be non-zero and unique.
func lagrangeAt0(indices []uint32) []fr.Element {
	coeffs := make([]fr.Element, len(indices))
	for i, xi := range indices {
		var num, den fr.Element
		num.SetOne()
		den.SetOne()
		var xie fr.Element
		xie.SetUint64(uint64(xi))
		for j, xj := range indices {
			if i == j {
				continue
			}
			var xje fr.Element
			xje.SetUint64(uint64(xj))
			num.Mul(&num, &xje)
			var diff fr.Element
			diff.Sub(&xje, &xie)
			den.Mul(&den, &diff)
		}
		den.Inverse(&den)
		coeffs[i].Mul(&num, &den)
	}
	return coeffs
}
