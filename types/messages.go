package types

import (
	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
)

// Peer message kinds. Every cross-node message is wrapped in an Envelope
// carrying one of these discriminators.
const (
	KindRBCPropose uint8 = iota + 1
	KindRBCEcho
	KindRBCReady
	KindBBABVal
	KindBBAAux
	KindCoinShare
	KindDayProof
	KindEvidence
	KindCompletionTime
	KindFragmentRequest
	KindFragmentResponse
	KindDecShare
	KindBlockShare
	KindBallot
	KindMembership
)

// KindString names a message kind for log lines.
func KindString(kind uint8) string {
	switch kind {
	case KindRBCPropose:
		return "RBC_PROPOSE"
	case KindRBCEcho:
		return "RBC_ECHO"
	case KindRBCReady:
		return "RBC_READY"
	case KindBBABVal:
		return "BBA_BVAL"
	case KindBBAAux:
		return "BBA_AUX"
	case KindCoinShare:
		return "COIN_SHARE"
	case KindDayProof:
		return "DAY_PROOF"
	case KindEvidence:
		return "EVIDENCE"
	case KindCompletionTime:
		return "COMPLETION_TIME"
	case KindFragmentRequest:
		return "FRAGMENT_REQUEST"
	case KindFragmentResponse:
		return "FRAGMENT_RESPONSE"
	case KindDecShare:
		return "DEC_SHARE"
	case KindBlockShare:
		return "BLOCK_SHARE"
	case KindBallot:
		return "BALLOT"
	case KindMembership:
		return "MEMBERSHIP"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the authenticated wrapper around every peer message. Scope is
// the epoch or day the payload belongs to. The digest is recomputed by the
// receiver; the signature covers it.
type Envelope struct {
	Sender    ValidatorId
	Scope     uint64
	Kind      uint8
	Payload   []byte
	Signature [64]byte
}

// Digest returns the canonical digest of the envelope minus its signature.
func (e *Envelope) Digest() common.Hash {
	unsigned := Envelope{Sender: e.Sender, Scope: e.Scope, Kind: e.Kind, Payload: e.Payload}
	return common.Blake2Hash(codec.MustEncode(&unsigned))
}

// SigShareMsg carries one threshold signature share on the wire.
type SigShareMsg struct {
	Index uint32
	Point [48]byte
}

// RBCPropose carries one validator's fragment of a proposed batch, bound to
// the batch digest by a merkle justification.
type RBCPropose struct {
	Epoch         uint64
	ProposerIndex uint32
	BatchDigest   common.Hash
	MerkleRoot    common.Hash
	FragmentIndex uint32
	Fragment      []byte
	Justification [][]byte
}

// RBCEcho relays a received fragment to all validators.
type RBCEcho struct {
	Epoch         uint64
	ProposerIndex uint32
	BatchDigest   common.Hash
	MerkleRoot    common.Hash
	FragmentIndex uint32
	Fragment      []byte
	Justification [][]byte
}

// RBCReady signals that enough matching echoes were observed.
type RBCReady struct {
	Epoch         uint64
	ProposerIndex uint32
	BatchDigest   common.Hash
}

// BBABVal is a round estimate broadcast.
type BBABVal struct {
	Epoch         uint64
	ProposerIndex uint32
	Round         uint32
	Value         bool
}

// BBAAux is an auxiliary broadcast restricted to bin-values.
type BBAAux struct {
	Epoch         uint64
	ProposerIndex uint32
	Round         uint32
	Value         bool
}

// CoinShareMsg is one validator's contribution to the round coin.
type CoinShareMsg struct {
	Epoch         uint64
	ProposerIndex uint32
	Round         uint32
	Share         SigShareMsg
}

// DayProofMsg broadcasts a candidate day proof together with the sender's
// threshold share over the proof's signing digest.
type DayProofMsg struct {
	Proof DayProof
	Share SigShareMsg
}

// CompletionTimeMsg gossips how long a validator's VDF run took, in
// milliseconds. A duration, never a point in time; feeds the median-based
// difficulty adjustment only.
type CompletionTimeMsg struct {
	DayNumber  uint64
	DurationMs uint64
}

// FragmentRequest asks a peer for a missing fragment (unicast repair path).
type FragmentRequest struct {
	Epoch         uint64
	ProposerIndex uint32
	FragmentIndex uint32
}

// DecShareMsg carries a threshold decryption share for an accepted slot's
// ciphertext payload.
type DecShareMsg struct {
	Epoch         uint64
	ProposerIndex uint32
	Index         uint32
	K             []byte
}

// BlockShareMsg carries one validator's threshold share over the assembled
// block digest.
type BlockShareMsg struct {
	Epoch       uint64
	BlockDigest common.Hash
	Share       SigShareMsg
}

// BallotMsg gossips a ballot body so peers can resolve its fingerprint when
// it commits.
type BallotMsg struct {
	Ballot BallotEvent
}

// MembershipMsg gossips a membership-change body so peers can resolve its
// fingerprint when it commits.
type MembershipMsg struct {
	Change MembershipChangeEvent
}
