package conderrors

import (
	"errors"
	"strings"
)

// Validation (V) Errors
var (
	ErrVMalformedMessage   = errors.New("V1|MalformedMessage: Peer message failed canonical decoding.")
	ErrVInvalidSignature   = errors.New("V2|InvalidSignature: Envelope or share signature verification failed.")
	ErrVUnknownValidator   = errors.New("V3|UnknownValidator: Sender is not in the active validator set.")
	ErrVInvalidMerkleProof = errors.New("V4|InvalidMerkleProof: Fragment does not bind to the batch merkle root.")
	ErrVBatchTooLarge      = errors.New("V5|BatchTooLarge: Event batch exceeds the configured size bound.")
	ErrVBlacklisted        = errors.New("V6|Blacklisted: Sender appears in an active blacklist entry.")
	ErrVReplay             = errors.New("V7|Replay: Message digest already present in the seen cache.")
)

// Threshold crypto (S) Errors
var (
	ErrSInsufficientShares = errors.New("S1|InsufficientShares: Fewer than threshold distinct shares supplied.")
	ErrSInvalidShare       = errors.New("S2|InvalidShare: Share is malformed or fails verification against the commitment vector.")
	ErrSInvalidCiphertext  = errors.New("S3|InvalidCiphertext: Ciphertext integrity check failed.")
	ErrSAggregateInvalid   = errors.New("S4|AggregateInvalid: Aggregate signature does not verify under the group key.")
	ErrSBadDealing         = errors.New("S5|BadDealing: DKG dealing fails Feldman verification.")
)

// Consensus (C) Errors
var (
	ErrCConsensusTimeout    = errors.New("C1|ConsensusTimeout: Epoch did not finalize within the timeout.")
	ErrCInsufficientQuorum  = errors.New("C2|InsufficientQuorum: Fewer than 2f+1 participants reachable.")
	ErrCAlreadyCommitted    = errors.New("C3|AlreadyCommitted: A block for this epoch has already been persisted.")
	ErrCEpochOutOfOrder     = errors.New("C4|EpochOutOfOrder: Commit attempted before the previous epoch was persisted.")
	ErrCConflictingDayProof = errors.New("C5|ConflictingDayProof: Divergent VDF outputs signed for the same day.")
	ErrCInstanceClosed      = errors.New("C6|InstanceClosed: Message arrived for a cancelled consensus instance.")
)

// Storage (D) Errors
var (
	ErrDConflict   = errors.New("D1|Conflict: Secondary write attempted for an existing primary key.")
	ErrDNotFound   = errors.New("D2|NotFound: No record under the requested key.")
	ErrDCorruption = errors.New("D3|Corruption: Stored record failed canonical decoding.")
)

// VDF (F) Errors
var (
	ErrFCancelled     = errors.New("F1|Cancelled: VDF computation abandoned at a progress boundary.")
	ErrFBadDifficulty = errors.New("F2|BadDifficulty: Difficulty must be positive.")
	ErrFOutputInvalid = errors.New("F3|OutputInvalid: Proof output does not match the recomputed chain.")
)

// Boundary (B) Errors
var (
	ErrBUnauthenticated  = errors.New("B1|Unauthenticated: Caller identity could not be established.")
	ErrBPermissionDenied = errors.New("B2|PermissionDenied: Caller is not authorized for this operation.")
	ErrBRejected         = errors.New("B3|Rejected: Submission failed validation at the adapter boundary.")
)

// ErrorCode extracts the short code before the '|' separator, or "" for
// foreign errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	idx := strings.Index(msg, "|")
	if idx <= 0 || idx > 4 {
		return ""
	}
	return msg[:idx]
}

// IsTerminal reports whether the error should not be retried.
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrVMalformedMessage),
		errors.Is(err, ErrVInvalidSignature),
		errors.Is(err, ErrVUnknownValidator),
		errors.Is(err, ErrVInvalidMerkleProof),
		errors.Is(err, ErrVBatchTooLarge),
		errors.Is(err, ErrVBlacklisted),
		errors.Is(err, ErrBUnauthenticated),
		errors.Is(err, ErrBPermissionDenied),
		errors.Is(err, ErrCAlreadyCommitted):
		return true
	}
	return false
}
