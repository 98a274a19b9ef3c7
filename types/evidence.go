package types

import (
	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
)

// Evidence reason codes. Each evidence record is self-contained: the payload
// embeds the offending signed messages so any third party can re-verify.
const (
	ReasonVDFTooFast uint8 = iota + 1
	ReasonVDFInvalid
	ReasonSignatureInvalid
	ReasonEquivocation
	ReasonReplay
)

// ReasonString names a reason code.
func ReasonString(reason uint8) string {
	switch reason {
	case ReasonVDFTooFast:
		return "VDF_TOO_FAST"
	case ReasonVDFInvalid:
		return "VDF_INVALID"
	case ReasonSignatureInvalid:
		return "SIGNATURE_INVALID"
	case ReasonEquivocation:
		return "EQUIVOCATION"
	case ReasonReplay:
		return "REPLAY"
	default:
		return "UNKNOWN"
	}
}

// Evidence is a cryptographically self-contained record of misbehavior.
// Scope is the epoch or day the offense occurred in.
type Evidence struct {
	Reason  uint8
	Accused ValidatorId
	Scope   uint64
	Payload []byte
}

// Digest returns the canonical digest of the record.
func (e *Evidence) Digest() common.Hash {
	return common.Blake2Hash(codec.MustEncode(e))
}

// EquivocationPayload embeds the two conflicting signed envelopes.
type EquivocationPayload struct {
	First  Envelope
	Second Envelope
}

// TooFastPayload records the measured inter-arrival gap for a peer's proof,
// in milliseconds. A duration relative to the previous day's proof, never a
// point in time.
type TooFastPayload struct {
	DayNumber       uint64
	MeasuredDeltaMs uint64
}

// BlacklistEntry excludes a validator from the active set starting at its
// effective day. Entries carry the QC of the ballot that committed them.
type BlacklistEntry struct {
	ValidatorId    ValidatorId
	Reason         uint8
	EvidenceDigest common.Hash
	EffectiveDay   uint64
	QC             QuorumCertificate
}

// BallotEvent is the special event type that carries a blacklist (or
// unblacklist) vote through the normal consensus pipeline. Its fingerprint
// is the canonical digest of the ballot body.
type BallotEvent struct {
	Target         ValidatorId
	Reason         uint8
	EvidenceDigest common.Hash
	EffectiveDay   uint64
	Unblacklist    bool
}

// Fingerprint returns the event fingerprint under which the ballot enters
// consensus.
func (b *BallotEvent) Fingerprint() EventFingerprint {
	return common.Blake2Hash(codec.MustEncode(b))
}

// MembershipChange proposes adding or removing a validator at a future day.
const (
	MembershipAdd uint8 = iota + 1
	MembershipRemove
)

// MembershipChangeEvent alters the validator set at EffectiveDay, which must
// be at least two days ahead so the key reshare can complete.
type MembershipChangeEvent struct {
	ChangeType   uint8
	ValidatorKey [32]byte
	ShareIndex   uint32
	EffectiveDay uint64
}

// Fingerprint returns the event fingerprint under which the change enters
// consensus.
func (m *MembershipChangeEvent) Fingerprint() EventFingerprint {
	return common.Blake2Hash(codec.MustEncode(m))
}
