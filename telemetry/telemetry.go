// Package telemetry exposes prometheus metrics and a websocket event feed
// for observing a conductor node.
package telemetry

// Event type discriminators.
//
// All telemetry event discriminators are consolidated here for easy reference.
const (
	// Day events (10-13)
	Telemetry_Day_Computing   = 10
	Telemetry_Day_Proof_Found = 11
	Telemetry_Day_Finalized   = 12
	Telemetry_Day_Conflict    = 13

	// Epoch events (20-25)
	Telemetry_Epoch_Started   = 20
	Telemetry_RBC_Delivered   = 21
	Telemetry_BBA_Decided     = 22
	Telemetry_Subset_Selected = 23
	Telemetry_Epoch_Committed = 24
	Telemetry_Epoch_Timeout   = 25

	// Detection events (30-33)
	Telemetry_Evidence_Emitted    = 30
	Telemetry_Ballot_Proposed     = 31
	Telemetry_Blacklist_Effective = 32
	Telemetry_Unblacklisted       = 33

	// Networking events (40-42)
	Telemetry_Peer_Rejected = 40
	Telemetry_Breaker_Open  = 41
	Telemetry_Breaker_Close = 42
)

var discriminatorToString = map[int]string{
	Telemetry_Day_Computing:   "DAY_COMPUTING",
	Telemetry_Day_Proof_Found: "DAY_PROOF_FOUND",
	Telemetry_Day_Finalized:   "DAY_FINALIZED",
	Telemetry_Day_Conflict:    "DAY_CONFLICT",

	Telemetry_Epoch_Started:   "EPOCH_STARTED",
	Telemetry_RBC_Delivered:   "RBC_DELIVERED",
	Telemetry_BBA_Decided:     "BBA_DECIDED",
	Telemetry_Subset_Selected: "SUBSET_SELECTED",
	Telemetry_Epoch_Committed: "EPOCH_COMMITTED",
	Telemetry_Epoch_Timeout:   "EPOCH_TIMEOUT",

	Telemetry_Evidence_Emitted:    "EVIDENCE_EMITTED",
	Telemetry_Ballot_Proposed:     "BALLOT_PROPOSED",
	Telemetry_Blacklist_Effective: "BLACKLIST_EFFECTIVE",
	Telemetry_Unblacklisted:       "UNBLACKLISTED",

	Telemetry_Peer_Rejected: "PEER_REJECTED",
	Telemetry_Breaker_Open:  "BREAKER_OPEN",
	Telemetry_Breaker_Close: "BREAKER_CLOSE",
}

// EventName returns the string form of a discriminator.
func EventName(code int) string {
	if s, ok := discriminatorToString[code]; ok {
		return s
	}
	return "UNKNOWN"
}

// Event is one structured telemetry record pushed to feed subscribers.
// Scope is the epoch or day the event belongs to; detail is free-form.
type Event struct {
	Code   int    `json:"code"`
	Name   string `json:"name"`
	Sender string `json:"sender_id"`
	Scope  uint64 `json:"scope"`
	Detail string `json:"detail,omitempty"`
}
