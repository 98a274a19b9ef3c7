package types

import (
	"sort"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/ed25519"
)

// Validator is one member of the active set.
type Validator struct {
	Id         ValidatorId
	Ed25519Key [32]byte
	ShareIndex uint32 // 1-based threshold share index
}

// ValidatorIdFromKey derives the validator identifier from the long-lived
// public key.
func ValidatorIdFromKey(key []byte) ValidatorId {
	return common.Blake2Hash(key)
}

// NewValidator builds a Validator from an ed25519 public key and its
// threshold share index.
func NewValidator(key ed25519.PublicKey, shareIndex uint32) Validator {
	var v Validator
	copy(v.Ed25519Key[:], key)
	v.Id = ValidatorIdFromKey(key)
	v.ShareIndex = shareIndex
	return v
}

// ValidatorSet is the active set effective at a given day. Membership is
// frozen per epoch: consensus instances capture a snapshot at epoch start
// and never re-read it mid-agreement. Validators are ordered by id hash
// ascending; a validator's position in this order is its signer-bitmap index.
type ValidatorSet struct {
	Day        uint64
	Validators []Validator
}

// NewValidatorSet orders the members canonically and returns the set.
func NewValidatorSet(day uint64, members []Validator) *ValidatorSet {
	vs := &ValidatorSet{Day: day, Validators: append([]Validator{}, members...)}
	sort.Slice(vs.Validators, func(i, j int) bool {
		return vs.Validators[i].Id.Compare(vs.Validators[j].Id) < 0
	})
	return vs
}

// Len returns the set size n.
func (vs *ValidatorSet) Len() int {
	return len(vs.Validators)
}

// F returns the fault tolerance, the largest f with f < n/3.
func (vs *ValidatorSet) F() int {
	return (vs.Len() - 1) / 3
}

// Threshold returns the quorum size 2f+1.
func (vs *ValidatorSet) Threshold() int {
	return 2*vs.F() + 1
}

// IndexOf returns a validator's bitmap index, or -1 if absent.
func (vs *ValidatorSet) IndexOf(id ValidatorId) int {
	for i, v := range vs.Validators {
		if v.Id == id {
			return i
		}
	}
	return -1
}

// ByIndex returns the validator at a bitmap index.
func (vs *ValidatorSet) ByIndex(index int) (Validator, bool) {
	if index < 0 || index >= vs.Len() {
		return Validator{}, false
	}
	return vs.Validators[index], true
}

// Contains reports membership.
func (vs *ValidatorSet) Contains(id ValidatorId) bool {
	return vs.IndexOf(id) >= 0
}

// Without returns a new set with the given validators removed, effective at
// the given day. Used when a blacklist entry becomes effective.
func (vs *ValidatorSet) Without(day uint64, excluded map[ValidatorId]bool) *ValidatorSet {
	kept := make([]Validator, 0, vs.Len())
	for _, v := range vs.Validators {
		if !excluded[v.Id] {
			kept = append(kept, v)
		}
	}
	return NewValidatorSet(day, kept)
}

// With returns a new set with the given validator added, effective at day.
func (vs *ValidatorSet) With(day uint64, member Validator) *ValidatorSet {
	return NewValidatorSet(day, append(append([]Validator{}, vs.Validators...), member))
}
