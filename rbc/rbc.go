// Package rbc implements erasure-coded reliable broadcast: one instance per
// (epoch, proposer). Every honest validator delivers the same batch for a
// digest, or none does. Fragments are bound to the batch digest by merkle
// justifications so a proposer cannot equivocate between fragment sets.
package rbc

import (
	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/erasurecoding"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/merkle"
	"github.com/chorus-fed/conductor/types"
)

// Result collects the outputs of one message-processing step. All fields may
// be zero; Delivered is non-nil exactly once per instance.
type Result struct {
	Echo      *types.RBCEcho
	Ready     *types.RBCReady
	Delivered []byte
	Evidence  []types.Evidence
}

type proposeRecord struct {
	batchDigest common.Hash
	merkleRoot  common.Hash
	envelope    types.Envelope
}

// Instance is the per-(epoch, proposer) broadcast state. Not safe for
// concurrent use: each instance has a single writer task, per the
// concurrency model.
type Instance struct {
	epoch         uint64
	proposerIndex uint32
	localIndex    uint32
	params        erasurecoding.Params

	firstPropose *proposeRecord

	// fragments keyed by digest, then by fragment index (== sender index)
	fragments map[common.Hash]map[uint32][]byte
	justs     map[common.Hash]map[uint32][][]byte
	echoers   map[common.Hash]map[uint32]bool
	readys    map[common.Hash]map[uint32]bool
	roots     map[common.Hash]common.Hash

	echoSent  bool
	readySent bool
	delivered bool
}

// NewInstance creates the broadcast state for one proposer slot.
func NewInstance(epoch uint64, proposerIndex, localIndex uint32, n, f int) (*Instance, error) {
	params, err := erasurecoding.NewParams(n, f)
	if err != nil {
		return nil, err
	}
	return &Instance{
		epoch:         epoch,
		proposerIndex: proposerIndex,
		localIndex:    localIndex,
		params:        params,
		fragments:     make(map[common.Hash]map[uint32][]byte),
		justs:         make(map[common.Hash]map[uint32][][]byte),
		echoers:       make(map[common.Hash]map[uint32]bool),
		readys:        make(map[common.Hash]map[uint32]bool),
		roots:         make(map[common.Hash]common.Hash),
	}, nil
}

// Delivered reports whether the instance has delivered.
func (in *Instance) Delivered() bool {
	return in.delivered
}

// MakeProposals fragments a serialized batch into one Propose per validator.
// Fragment i goes to validator index i.
func MakeProposals(epoch uint64, proposerIndex uint32, n, f int, payload []byte) ([]types.RBCPropose, error) {
	params, err := erasurecoding.NewParams(n, f)
	if err != nil {
		return nil, err
	}
	shards, err := erasurecoding.Encode(params, payload)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.NewFragmentTree(shards)
	if err != nil {
		return nil, err
	}

	digest := common.Blake2Hash(payload)
	root := tree.Root()
	proposals := make([]types.RBCPropose, n)
	for i := 0; i < n; i++ {
		justification, err := tree.Justify(i)
		if err != nil {
			return nil, err
		}
		proposals[i] = types.RBCPropose{
			Epoch:         epoch,
			ProposerIndex: proposerIndex,
			BatchDigest:   digest,
			MerkleRoot:    root,
			FragmentIndex: uint32(i),
			Fragment:      shards[i],
			Justification: justification,
		}
	}
	return proposals, nil
}

// HandlePropose processes the proposer's direct fragment delivery. A valid
// propose triggers the Echo multicast of the local fragment.
func (in *Instance) HandlePropose(senderIndex uint32, env types.Envelope, msg *types.RBCPropose) (Result, error) {
	var res Result
	if in.delivered {
		return res, nil
	}
	if senderIndex != in.proposerIndex || msg.ProposerIndex != in.proposerIndex || msg.Epoch != in.epoch {
		return res, conderrors.ErrVMalformedMessage
	}
	if msg.FragmentIndex != in.localIndex {
		return res, conderrors.ErrVMalformedMessage
	}
	if !merkle.VerifyJustification(msg.MerkleRoot, msg.Fragment, int(msg.FragmentIndex), msg.Justification) {
		res.Evidence = append(res.Evidence, in.invalidFragmentEvidence(env))
		return res, conderrors.ErrVInvalidMerkleProof
	}

	if in.firstPropose != nil {
		if in.firstPropose.batchDigest != msg.BatchDigest || in.firstPropose.merkleRoot != msg.MerkleRoot {
			res.Evidence = append(res.Evidence, in.equivocationEvidence(in.firstPropose.envelope, env))
			return res, nil
		}
	} else {
		in.firstPropose = &proposeRecord{
			batchDigest: msg.BatchDigest,
			merkleRoot:  msg.MerkleRoot,
			envelope:    env,
		}
	}

	in.recordFragment(msg.BatchDigest, msg.MerkleRoot, msg.FragmentIndex, msg.Fragment, msg.Justification)

	if !in.echoSent {
		in.echoSent = true
		res.Echo = &types.RBCEcho{
			Epoch:         msg.Epoch,
			ProposerIndex: msg.ProposerIndex,
			BatchDigest:   msg.BatchDigest,
			MerkleRoot:    msg.MerkleRoot,
			FragmentIndex: msg.FragmentIndex,
			Fragment:      msg.Fragment,
			Justification: msg.Justification,
		}
	}
	log.Trace(log.RBCMonitoring, "propose accepted",
		"epoch", in.epoch, "proposer", in.proposerIndex, "digest", msg.BatchDigest.Str())
	return res, nil
}

// HandleEcho processes a relayed fragment. Duplicate echoes from the same
// sender count once; a fragment mismatching its merkle root is dropped with
// evidence.
func (in *Instance) HandleEcho(senderIndex uint32, env types.Envelope, msg *types.RBCEcho) (Result, error) {
	var res Result
	if in.delivered {
		return res, nil
	}
	if msg.Epoch != in.epoch || msg.ProposerIndex != in.proposerIndex {
		return res, conderrors.ErrVMalformedMessage
	}
	// an echo carries the sender's own fragment
	if msg.FragmentIndex != senderIndex {
		return res, conderrors.ErrVMalformedMessage
	}
	if !merkle.VerifyJustification(msg.MerkleRoot, msg.Fragment, int(msg.FragmentIndex), msg.Justification) {
		res.Evidence = append(res.Evidence, in.invalidFragmentEvidence(env))
		return res, conderrors.ErrVInvalidMerkleProof
	}

	echoers := in.echoers[msg.BatchDigest]
	if echoers == nil {
		echoers = make(map[uint32]bool)
		in.echoers[msg.BatchDigest] = echoers
	}
	if echoers[senderIndex] {
		return res, nil // duplicate
	}
	echoers[senderIndex] = true
	in.recordFragment(msg.BatchDigest, msg.MerkleRoot, msg.FragmentIndex, msg.Fragment, msg.Justification)

	if len(echoers) >= in.quorum() && !in.readySent {
		in.readySent = true
		res.Ready = &types.RBCReady{Epoch: in.epoch, ProposerIndex: in.proposerIndex, BatchDigest: msg.BatchDigest}
	}
	res.Delivered = in.maybeDeliver(msg.BatchDigest)
	return res, nil
}

// HandleReady processes a ready vote. f+1 readys amplify our own ready;
// 2f+1 readys plus k validated fragments deliver.
func (in *Instance) HandleReady(senderIndex uint32, msg *types.RBCReady) (Result, error) {
	var res Result
	if in.delivered {
		return res, nil
	}
	if msg.Epoch != in.epoch || msg.ProposerIndex != in.proposerIndex {
		return res, conderrors.ErrVMalformedMessage
	}

	readys := in.readys[msg.BatchDigest]
	if readys == nil {
		readys = make(map[uint32]bool)
		in.readys[msg.BatchDigest] = readys
	}
	if readys[senderIndex] {
		return res, nil
	}
	readys[senderIndex] = true

	if len(readys) >= in.params.F+1 && !in.readySent {
		in.readySent = true
		res.Ready = &types.RBCReady{Epoch: in.epoch, ProposerIndex: in.proposerIndex, BatchDigest: msg.BatchDigest}
	}
	res.Delivered = in.maybeDeliver(msg.BatchDigest)
	return res, nil
}

// MissingFragments lists fragment indices not yet held for the digest with
// the most support, for the unicast repair path.
func (in *Instance) MissingFragments() []uint32 {
	digest, ok := in.bestDigest()
	if !ok {
		return nil
	}
	held := in.fragments[digest]
	missing := make([]uint32, 0, in.params.N)
	for i := 0; i < in.params.N; i++ {
		if _, ok := held[uint32(i)]; !ok {
			missing = append(missing, uint32(i))
		}
	}
	return missing
}

// Fragment returns a held fragment with its binding for the repair path.
func (in *Instance) Fragment(index uint32) (*types.RBCEcho, bool) {
	digest, ok := in.bestDigest()
	if !ok {
		return nil, false
	}
	frag, ok := in.fragments[digest][index]
	if !ok {
		return nil, false
	}
	return &types.RBCEcho{
		Epoch:         in.epoch,
		ProposerIndex: in.proposerIndex,
		BatchDigest:   digest,
		MerkleRoot:    in.roots[digest],
		FragmentIndex: index,
		Fragment:      frag,
		Justification: in.justs[digest][index],
	}, true
}

func (in *Instance) bestDigest() (common.Hash, bool) {
	var best common.Hash
	bestCount := -1
	for digest, readys := range in.readys {
		if len(readys) > bestCount {
			best, bestCount = digest, len(readys)
		}
	}
	if bestCount < 0 {
		for digest := range in.fragments {
			return digest, true
		}
		return common.Hash{}, false
	}
	return best, true
}

func (in *Instance) quorum() int {
	return 2*in.params.F + 1
}

func (in *Instance) recordFragment(digest, root common.Hash, index uint32, fragment []byte, justification [][]byte) {
	frags := in.fragments[digest]
	if frags == nil {
		frags = make(map[uint32][]byte)
		in.fragments[digest] = frags
		in.justs[digest] = make(map[uint32][][]byte)
		in.roots[digest] = root
	}
	if _, ok := frags[index]; !ok {
		frags[index] = append([]byte{}, fragment...)
		in.justs[digest][index] = justification
	}
}

// HandleRepair processes a unicast fragment-repair response. Unlike an
// echo, the fragment index is unrelated to the responder's own index.
func (in *Instance) HandleRepair(msg *types.RBCEcho) (Result, error) {
	var res Result
	if in.delivered {
		return res, nil
	}
	if msg.Epoch != in.epoch || msg.ProposerIndex != in.proposerIndex {
		return res, conderrors.ErrVMalformedMessage
	}
	if !merkle.VerifyJustification(msg.MerkleRoot, msg.Fragment, int(msg.FragmentIndex), msg.Justification) {
		return res, conderrors.ErrVInvalidMerkleProof
	}
	in.recordFragment(msg.BatchDigest, msg.MerkleRoot, msg.FragmentIndex, msg.Fragment, msg.Justification)
	res.Delivered = in.maybeDeliver(msg.BatchDigest)
	return res, nil
}

// maybeDeliver reconstructs and delivers once 2f+1 readys and k validated
// fragments exist for the same digest. Delivery happens exactly once.
func (in *Instance) maybeDeliver(digest common.Hash) []byte {
	if in.delivered {
		return nil
	}
	if len(in.readys[digest]) < in.quorum() {
		return nil
	}
	frags := in.fragments[digest]
	if len(frags) < in.params.K {
		return nil
	}

	shards := make([][]byte, in.params.N)
	for idx, frag := range frags {
		if int(idx) < in.params.N {
			shards[idx] = frag
		}
	}
	payload, err := erasurecoding.Decode(in.params, shards)
	if err != nil {
		log.Warn(log.RBCMonitoring, "reconstruction failed",
			"epoch", in.epoch, "proposer", in.proposerIndex, "err", err)
		return nil
	}
	if common.Blake2Hash(payload) != digest {
		log.Warn(log.RBCMonitoring, "reconstructed payload does not match digest",
			"epoch", in.epoch, "proposer", in.proposerIndex)
		return nil
	}
	in.delivered = true
	log.Debug(log.RBCMonitoring, "delivered",
		"epoch", in.epoch, "proposer", in.proposerIndex, "bytes", len(payload))
	return payload
}

func (in *Instance) equivocationEvidence(first, second types.Envelope) types.Evidence {
	payload := codec.MustEncode(&types.EquivocationPayload{First: first, Second: second})
	return types.Evidence{
		Reason:  types.ReasonEquivocation,
		Accused: first.Sender,
		Scope:   in.epoch,
		Payload: payload,
	}
}

func (in *Instance) invalidFragmentEvidence(env types.Envelope) types.Evidence {
	return types.Evidence{
		Reason:  types.ReasonSignatureInvalid,
		Accused: env.Sender,
		Scope:   in.epoch,
		Payload: codec.MustEncode(&env),
	}
}
