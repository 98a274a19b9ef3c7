package thresh

import (
	"golang.org/x/crypto/blake2b"

	"github.com/chorus-fed/conductor/common"
)

// CoinMessage is the deterministic preimage signed to produce a coin for a
// given agreement instance and round.
func CoinMessage(epoch uint64, proposerIndex uint16, round uint32) []byte {
	msg := make([]byte, 0, 4+8+2+4)
	msg = append(msg, []byte("coin")...)
	msg = append(msg, common.Uint64ToBytes(epoch)...)
	msg = append(msg, common.Uint16ToBytes(proposerIndex)...)
	msg = append(msg, common.Uint32ToBytes(round)...)
	return msg
}

// CoinShare produces this validator's coin share for the instance/round.
func CoinShare(share *SecretShare, epoch uint64, proposerIndex uint16, round uint32) (SigShare, error) {
	return SignShare(share, DomainCoin, CoinMessage(epoch, proposerIndex, round))
}

// CoinValue maps an aggregated coin signature to the shared bit. The
// signature is unpredictable to any f colluders short of the threshold, and
// identical across honest validators once revealed.
func CoinValue(sig Signature) bool {
	h := blake2b.Sum256(sig[:])
	return h[0]&1 == 1
}
