// Package types defines the records, wire messages, and configuration shared
// across the consensus core. All identifiers are 256-bit hashes of the
// indicated preimage; no wall-clock value appears in any type defined here.
package types

import (
	"sort"

	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
)

type (
	// ValidatorId is the hash of a validator's long-lived public key.
	ValidatorId = common.Hash
	// EventFingerprint is the hash of an external event payload. Payloads
	// are never dereferenced inside the core.
	EventFingerprint = common.Hash
)

// BatchNonceSize is the byte length of an EventBatch nonce.
const BatchNonceSize = 16

// EventBatch is a proposer's bounded set of event fingerprints for one epoch.
type EventBatch struct {
	Proposer   ValidatorId
	Epoch      uint64
	Events     []EventFingerprint
	BatchNonce [BatchNonceSize]byte
}

// Digest returns the canonical digest of the batch.
func (b *EventBatch) Digest() common.Hash {
	return common.Blake2Hash(codec.MustEncode(b))
}

// DayProof is a candidate proof that a day's sequential work was performed.
type DayProof struct {
	DayNumber         uint64
	Seed              common.Hash
	Difficulty        uint64
	Output            common.Hash
	Proposer          ValidatorId
	ProposerSignature [64]byte
}

// SigningDigest is the digest covered by the proposer signature: everything
// except the signature itself.
func (p *DayProof) SigningDigest() common.Hash {
	unsigned := *p
	unsigned.ProposerSignature = [64]byte{}
	return common.Blake2Hash(codec.MustEncode(&unsigned))
}

// OutputDigest is the proposer-independent commitment covered by the quorum
// certificate: validators computing the same chain sign the same digest.
func (p *DayProof) OutputDigest() common.Hash {
	unsigned := DayProof{
		DayNumber:  p.DayNumber,
		Seed:       p.Seed,
		Difficulty: p.Difficulty,
		Output:     p.Output,
	}
	return common.Blake2Hash(codec.MustEncode(&unsigned))
}

// CanonicalDayProof is a DayProof upgraded with a quorum certificate.
type CanonicalDayProof struct {
	Proof DayProof
	QC    QuorumCertificate
}

// QuorumCertificate proves that at least 2f+1 validators endorsed a digest.
// The signer bitmap is ordered by validator index in the day's active set.
type QuorumCertificate struct {
	MessageDigest      common.Hash
	AggregateSignature [48]byte
	SignerBitmap       []byte
}

// NewSignerBitmap returns an all-zero bitmap sized for n validators.
func NewSignerBitmap(n int) []byte {
	return make([]byte, (n+7)/8)
}

// SetSigner marks a validator index in the bitmap.
func (qc *QuorumCertificate) SetSigner(index int) {
	qc.SignerBitmap[index/8] |= 1 << (index % 8)
}

// HasSigner reports whether a validator index signed.
func (qc *QuorumCertificate) HasSigner(index int) bool {
	if index/8 >= len(qc.SignerBitmap) {
		return false
	}
	return qc.SignerBitmap[index/8]&(1<<(index%8)) != 0
}

// Popcount returns the number of signers in the bitmap.
func (qc *QuorumCertificate) Popcount() int {
	count := 0
	for _, b := range qc.SignerBitmap {
		for b != 0 {
			count += int(b & 1)
			b >>= 1
		}
	}
	return count
}

// Block is the finalized, immutable record of one epoch.
type Block struct {
	Epoch       uint64
	Events      []EventFingerprint
	MerkleRoot  common.Hash
	ProposerSet []ValidatorId
	QC          QuorumCertificate
}

// Digest is the block digest covered by the quorum certificate.
func (b *Block) Digest() common.Hash {
	unsigned := Block{
		Epoch:       b.Epoch,
		Events:      b.Events,
		MerkleRoot:  b.MerkleRoot,
		ProposerSet: b.ProposerSet,
	}
	return common.Blake2Hash(codec.MustEncode(&unsigned))
}

// SortUniqueEvents returns the canonical ordering of an event set:
// lexicographic by fingerprint bytes, duplicates removed. Identical inputs
// yield identical outputs on every honest validator.
func SortUniqueEvents(events []EventFingerprint) []EventFingerprint {
	out := make([]EventFingerprint, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	dedup := out[:0]
	for i, e := range out {
		if i == 0 || out[i-1] != e {
			dedup = append(dedup, e)
		}
	}
	return dedup
}

// EventsMerkleRoot computes the merkle root over the canonical event order.
func EventsMerkleRoot(events []EventFingerprint) common.Hash {
	if len(events) == 0 {
		return common.Hash{}
	}
	leaves := make([][]byte, len(events))
	for i, e := range events {
		leaves[i] = e.Bytes()
	}
	return merkleFold(leaves)
}

func merkleFold(level [][]byte) common.Hash {
	if len(level) == 1 {
		return common.Blake2Hash(level[0])
	}
	var next [][]byte
	for i := 0; i < len(level); i += 2 {
		combined := append([]byte{}, level[i]...)
		if i+1 < len(level) {
			combined = append(combined, level[i+1]...)
		} else {
			combined = append(combined, level[i]...)
		}
		next = append(next, common.ComputeHash(combined))
	}
	return merkleFold(next)
}
