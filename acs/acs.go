// Package acs implements the asynchronous common subset: the composition of
// n reliable-broadcast instances with n binary-agreement instances that
// yields, per epoch, a set of at least n-f accepted proposer slots.
package acs

import (
	"sort"

	"github.com/chorus-fed/conductor/log"
)

// Input is an instruction to feed a value into a BBA instance.
type Input struct {
	ProposerIndex uint32
	Value         bool
}

// ACS tracks the composition state for one epoch. Single writer: the epoch
// orchestrator.
type ACS struct {
	epoch uint64
	n, f  int

	delivered  map[uint32][]byte
	decided    map[uint32]bool
	inputGiven map[uint32]bool
	onesSeen   int
	zeroFlood  bool
}

// New creates the composition state for one epoch.
func New(epoch uint64, n, f int) *ACS {
	return &ACS{
		epoch:      epoch,
		n:          n,
		f:          f,
		delivered:  make(map[uint32][]byte),
		decided:    make(map[uint32]bool),
		inputGiven: make(map[uint32]bool),
	}
}

// NoteDeliver records an RBC delivery and returns the BBA inputs it unlocks:
// input 1 to the matching instance if it has no input yet.
func (a *ACS) NoteDeliver(proposerIndex uint32, payload []byte) []Input {
	if _, ok := a.delivered[proposerIndex]; ok {
		return nil
	}
	a.delivered[proposerIndex] = payload
	if a.inputGiven[proposerIndex] {
		return nil
	}
	a.inputGiven[proposerIndex] = true
	return []Input{{ProposerIndex: proposerIndex, Value: true}}
}

// NoteDecide records a BBA decision. Once n-f instances have decided 1,
// every instance still without input receives input 0.
func (a *ACS) NoteDecide(proposerIndex uint32, value bool) []Input {
	if _, ok := a.decided[proposerIndex]; ok {
		return nil
	}
	a.decided[proposerIndex] = value
	if value {
		a.onesSeen++
	}

	var inputs []Input
	if a.onesSeen >= a.n-a.f && !a.zeroFlood {
		a.zeroFlood = true
		for i := 0; i < a.n; i++ {
			idx := uint32(i)
			if !a.inputGiven[idx] {
				a.inputGiven[idx] = true
				inputs = append(inputs, Input{ProposerIndex: idx, Value: false})
			}
		}
		log.Debug(log.ACSMonitoring, "zero flood",
			"epoch", a.epoch, "ones", a.onesSeen, "inputs", len(inputs))
	}
	return inputs
}

// Payload returns the delivered payload for a proposer slot.
func (a *ACS) Payload(proposerIndex uint32) ([]byte, bool) {
	p, ok := a.delivered[proposerIndex]
	return p, ok
}

// Output returns the accepted subset, ordered by proposer index, once every
// BBA has decided and the broadcast of every accepted slot has delivered.
func (a *ACS) Output() ([]uint32, bool) {
	if len(a.decided) < a.n {
		return nil, false
	}
	var subset []uint32
	for i := 0; i < a.n; i++ {
		idx := uint32(i)
		if a.decided[idx] {
			if _, ok := a.delivered[idx]; !ok {
				// accepted but not yet reconstructed: wait for repair
				return nil, false
			}
			subset = append(subset, idx)
		}
	}
	sort.Slice(subset, func(i, j int) bool { return subset[i] < subset[j] })
	return subset, true
}
