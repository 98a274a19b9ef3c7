// Package bba implements asynchronous binary Byzantine agreement with a
// common coin. One instance decides whether one proposer's broadcast is
// included in the epoch. Rounds follow the bin-values construction: a value
// needs f+1 BVAL endorsements to be echoed and 2f+1 to enter bin-values;
// AUX votes restricted to bin-values gate the coin reveal.
package bba

import (
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/types"
)

// Result collects the outputs of one processing step.
type Result struct {
	BVals    []types.BBABVal
	Aux      *types.BBAAux
	NeedCoin *uint32 // round whose coin should be revealed
	Decided  *bool   // set exactly once, when the instance first decides
}

func (r *Result) merge(other Result) {
	r.BVals = append(r.BVals, other.BVals...)
	if other.Aux != nil {
		r.Aux = other.Aux
	}
	if other.NeedCoin != nil {
		r.NeedCoin = other.NeedCoin
	}
	if other.Decided != nil {
		r.Decided = other.Decided
	}
}

type roundState struct {
	bvalSent  [2]bool
	bvalRecv  [2]map[uint32]bool
	binValues [2]bool
	auxSent   bool
	auxRecv   map[uint32]bool // sender -> aux value
	coinAsked bool
	coinSeen  bool
}

func newRoundState() *roundState {
	return &roundState{
		bvalRecv: [2]map[uint32]bool{make(map[uint32]bool), make(map[uint32]bool)},
		auxRecv:  make(map[uint32]bool),
	}
}

// Instance is the per-(epoch, proposer) agreement state. Single writer.
type Instance struct {
	epoch         uint64
	proposerIndex uint32
	n, f          int

	round    uint32
	estimate bool
	started  bool

	decided      bool
	decidedValue bool
	halted       bool

	rounds map[uint32]*roundState
}

// NewInstance creates the agreement state for one proposer slot.
func NewInstance(epoch uint64, proposerIndex uint32, n, f int) *Instance {
	return &Instance{
		epoch:         epoch,
		proposerIndex: proposerIndex,
		n:             n,
		f:             f,
		rounds:        make(map[uint32]*roundState),
	}
}

// Decided reports the decision, if reached.
func (in *Instance) Decided() (bool, bool) {
	return in.decidedValue, in.decided
}

// Halted reports whether the instance has fully terminated (decided and run
// its safety round).
func (in *Instance) Halted() bool {
	return in.halted
}

// InputGiven reports whether SetInput has run.
func (in *Instance) InputGiven() bool {
	return in.started
}

func (in *Instance) state(round uint32) *roundState {
	rs := in.rounds[round]
	if rs == nil {
		rs = newRoundState()
		in.rounds[round] = rs
	}
	return rs
}

func bit(v bool) int {
	if v {
		return 1
	}
	return 0
}

// SetInput starts the instance with an initial estimate. Idempotent: only
// the first input counts.
func (in *Instance) SetInput(v bool) Result {
	var res Result
	if in.started || in.halted {
		return res
	}
	in.started = true
	in.estimate = v
	res.merge(in.broadcastBVal(in.round, v))
	return res
}

// broadcastBVal emits our BVAL for (round, v) once, and records our own vote
// locally. Peers never loop our broadcasts back to us.
func (in *Instance) broadcastBVal(round uint32, v bool) Result {
	var res Result
	rs := in.state(round)
	if rs.bvalSent[bit(v)] {
		return res
	}
	rs.bvalSent[bit(v)] = true
	res.BVals = append(res.BVals, types.BBABVal{
		Epoch:         in.epoch,
		ProposerIndex: in.proposerIndex,
		Round:         round,
		Value:         v,
	})
	res.merge(in.recordBVal(round, in.selfSentinel(), v))
	return res
}

// HandleBVal processes a round estimate from a peer.
func (in *Instance) HandleBVal(sender uint32, msg *types.BBABVal) Result {
	if in.halted || msg.Epoch != in.epoch || msg.ProposerIndex != in.proposerIndex {
		return Result{}
	}
	return in.recordBVal(msg.Round, sender, msg.Value)
}

func (in *Instance) recordBVal(round uint32, sender uint32, value bool) Result {
	var res Result
	rs := in.state(round)
	recv := rs.bvalRecv[bit(value)]
	if recv[sender] {
		return res
	}
	recv[sender] = true

	// f+1 endorsements: echo the value ourselves
	if len(recv) >= in.f+1 {
		res.merge(in.broadcastBVal(round, value))
	}
	// 2f+1 endorsements: the value enters bin-values
	if len(recv) >= 2*in.f+1 && !rs.binValues[bit(value)] {
		rs.binValues[bit(value)] = true
		if !rs.auxSent {
			rs.auxSent = true
			res.Aux = &types.BBAAux{
				Epoch:         in.epoch,
				ProposerIndex: in.proposerIndex,
				Round:         round,
				Value:         value,
			}
			// our own aux counts toward the n-f threshold
			res.merge(in.recordAux(round, in.selfSentinel(), value))
		} else {
			res.merge(in.maybeRequestCoin(round))
		}
	}
	return res
}

// selfSentinel is the sender slot used for our own BVAL and aux votes. Peer indices
// are < n, so n is never a real sender.
func (in *Instance) selfSentinel() uint32 {
	return uint32(in.n)
}

// HandleAux processes an auxiliary vote from a peer.
func (in *Instance) HandleAux(sender uint32, msg *types.BBAAux) Result {
	if in.halted || msg.Epoch != in.epoch || msg.ProposerIndex != in.proposerIndex {
		return Result{}
	}
	return in.recordAux(msg.Round, sender, msg.Value)
}

func (in *Instance) recordAux(round uint32, sender uint32, value bool) Result {
	var res Result
	rs := in.state(round)
	if _, ok := rs.auxRecv[sender]; ok {
		return res
	}
	rs.auxRecv[sender] = value
	res.merge(in.maybeRequestCoin(round))
	return res
}

// maybeRequestCoin asks for the round coin once n-f aux votes carry values
// inside bin-values.
func (in *Instance) maybeRequestCoin(round uint32) Result {
	var res Result
	if round != in.round || !in.started {
		return res
	}
	rs := in.state(round)
	if rs.coinAsked || rs.coinSeen {
		return res
	}
	supported := 0
	for _, v := range rs.auxRecv {
		if rs.binValues[bit(v)] {
			supported++
		}
	}
	if supported >= in.n-in.f {
		rs.coinAsked = true
		r := round
		res.NeedCoin = &r
	}
	return res
}

// InjectCoin reveals the common coin for a round and advances the instance.
// The decision rule follows the bin-values state: a singleton bin matching
// the coin decides; a singleton mismatching adopts the bin value; a full bin
// adopts the coin.
func (in *Instance) InjectCoin(round uint32, coin bool) Result {
	var res Result
	if in.halted || round != in.round {
		return res
	}
	rs := in.state(round)
	if rs.coinSeen || !rs.coinAsked {
		return res
	}
	rs.coinSeen = true

	zero, one := rs.binValues[0], rs.binValues[1]
	switch {
	case zero && one:
		in.estimate = coin
	case zero || one:
		v := one // the singleton bin value
		in.estimate = v
		if v == coin {
			if in.decided {
				// safety round after the decision completed: halt
				in.halted = true
				return res
			}
			in.decided = true
			in.decidedValue = v
			d := v
			res.Decided = &d
			log.Debug(log.BBAMonitoring, "decided",
				"epoch", in.epoch, "proposer", in.proposerIndex, "round", round, "value", v)
		}
	default:
		// no bin-values yet; cannot happen after coinAsked
		return res
	}

	in.round++
	res.merge(in.broadcastBVal(in.round, in.estimate))
	// aux votes for the new round may have arrived early
	res.merge(in.maybeRequestCoin(in.round))
	return res
}
