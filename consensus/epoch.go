// Package consensus drives a single epoch to commit: n reliable broadcasts
// feed n binary agreements composed into a common subset; accepted proposals
// are threshold-decrypted, canonically ordered, and sealed under a quorum
// certificate. The orchestrator is a deterministic single-writer state
// machine; the node layer pumps messages into it and carries its outputs to
// the transport.
package consensus

import (
	"fmt"

	"github.com/chorus-fed/conductor/acs"
	"github.com/chorus-fed/conductor/bba"
	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/rbc"
	"github.com/chorus-fed/conductor/thresh"
	"github.com/chorus-fed/conductor/types"
)

// State is the coarse epoch lifecycle, used for recovery and introspection.
type State uint8

const (
	StateAwaitBatches State = iota
	StateAgreementRunning
	StateCommitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitBatches:
		return "AWAIT_BATCHES"
	case StateAgreementRunning:
		return "AGREEMENT_RUNNING"
	case StateCommitting:
		return "COMMITTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Outbound is a message to broadcast to every peer.
type Outbound struct {
	Kind uint8
	Msg  interface{}
}

// Directed is a message for one specific validator index.
type Directed struct {
	Target uint32
	Kind   uint8
	Msg    interface{}
}

// Output collects everything one processing step produced.
type Output struct {
	Broadcast []Outbound
	Directed  []Directed
	Evidence  []types.Evidence
	// Block is set exactly once, when the quorum certificate assembles.
	Block *types.Block
}

func (o *Output) merge(other Output) {
	o.Broadcast = append(o.Broadcast, other.Broadcast...)
	o.Directed = append(o.Directed, other.Directed...)
	o.Evidence = append(o.Evidence, other.Evidence...)
	if other.Block != nil {
		o.Block = other.Block
	}
}

type coinKey struct {
	slot  uint32
	round uint32
}

// Epoch orchestrates one consensus instance. Single writer.
type Epoch struct {
	epoch      uint64
	vs         *types.ValidatorSet
	localIndex uint32
	keys       *thresh.KeyContext
	cfg        types.Config

	state State

	rbcs []*rbc.Instance
	bbas []*bba.Instance
	sub  *acs.ACS

	coinShares map[coinKey]map[uint32]thresh.SigShare
	coinAsked  map[coinKey]bool
	coinDone   map[coinKey]bool

	subset      []uint32
	ciphertexts map[uint32]*thresh.Ciphertext
	decShares   map[uint32]map[uint32]thresh.DecShare
	batches     map[uint32]*types.EventBatch

	block       *types.Block
	blockShares map[common.Hash]map[uint32]thresh.SigShare
	qcBuilt     bool
}

// NewEpoch builds the orchestrator for one epoch over a validator-set
// snapshot. The snapshot and key context are immutable for the epoch's
// lifetime.
func NewEpoch(epoch uint64, vs *types.ValidatorSet, localIndex uint32, keys *thresh.KeyContext, cfg types.Config) (*Epoch, error) {
	n, f := vs.Len(), vs.F()
	e := &Epoch{
		epoch:       epoch,
		vs:          vs,
		localIndex:  localIndex,
		keys:        keys,
		cfg:         cfg,
		rbcs:        make([]*rbc.Instance, n),
		bbas:        make([]*bba.Instance, n),
		sub:         acs.New(epoch, n, f),
		coinShares:  make(map[coinKey]map[uint32]thresh.SigShare),
		coinAsked:   make(map[coinKey]bool),
		coinDone:    make(map[coinKey]bool),
		ciphertexts: make(map[uint32]*thresh.Ciphertext),
		decShares:   make(map[uint32]map[uint32]thresh.DecShare),
		batches:     make(map[uint32]*types.EventBatch),
		blockShares: make(map[common.Hash]map[uint32]thresh.SigShare),
	}
	for i := 0; i < n; i++ {
		inst, err := rbc.NewInstance(epoch, uint32(i), localIndex, n, f)
		if err != nil {
			return nil, err
		}
		e.rbcs[i] = inst
		e.bbas[i] = bba.NewInstance(epoch, uint32(i), n, f)
	}
	return e, nil
}

// State returns the coarse lifecycle state.
func (e *Epoch) State() State {
	return e.state
}

// Threshold returns the quorum size 2f+1.
func (e *Epoch) Threshold() int {
	return e.vs.Threshold()
}

// DeliveredPayloads exposes delivered broadcast payloads so a retry after an
// epoch timeout can reuse them.
func (e *Epoch) DeliveredPayloads() map[uint32][]byte {
	out := make(map[uint32][]byte)
	for i := range e.rbcs {
		if payload, ok := e.sub.Payload(uint32(i)); ok {
			out[uint32(i)] = payload
		}
	}
	return out
}

// SeedDelivered replays previously delivered payloads into a fresh epoch
// instance after a timeout retry.
func (e *Epoch) SeedDelivered(payloads map[uint32][]byte) Output {
	var out Output
	for slot, payload := range payloads {
		out.merge(e.onDeliver(slot, payload))
	}
	return out
}

// Start encrypts the local batch to the group key, fragments it, and begins
// the epoch. The returned directed messages carry each validator its
// propose fragment; the local fragment is processed inline.
func (e *Epoch) Start(batch *types.EventBatch) (Output, error) {
	var out Output
	if e.state != StateAwaitBatches {
		return out, conderrors.ErrCInstanceClosed
	}
	e.state = StateAgreementRunning

	plaintext, err := codec.Encode(batch)
	if err != nil {
		return out, err
	}
	ct, err := thresh.EncryptToGroup(&e.keys.GroupKey, plaintext)
	if err != nil {
		return out, err
	}
	payload, err := codec.Encode(ct)
	if err != nil {
		return out, err
	}

	proposals, err := rbc.MakeProposals(e.epoch, e.localIndex, e.vs.Len(), e.vs.F(), payload)
	if err != nil {
		return out, err
	}
	for i := range proposals {
		if uint32(i) == e.localIndex {
			res, err := e.rbcs[e.localIndex].HandlePropose(e.localIndex, e.localEnvelope(), &proposals[i])
			if err != nil {
				return out, err
			}
			out.merge(e.processRBCResult(e.localIndex, res))
			continue
		}
		out.Directed = append(out.Directed, Directed{Target: uint32(i), Kind: types.KindRBCPropose, Msg: &proposals[i]})
	}
	log.Debug(log.EpochMonitoring, "epoch started",
		"epoch", e.epoch, "events", len(batch.Events))
	return out, nil
}

func (e *Epoch) localEnvelope() types.Envelope {
	v, _ := e.vs.ByIndex(int(e.localIndex))
	return types.Envelope{Sender: v.Id, Scope: e.epoch}
}

func (e *Epoch) slotValid(slot uint32) bool {
	return int(slot) < e.vs.Len()
}

// HandleRBCPropose processes a propose fragment addressed to us.
func (e *Epoch) HandleRBCPropose(sender uint32, env types.Envelope, msg *types.RBCPropose) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	res, err := e.rbcs[msg.ProposerIndex].HandlePropose(sender, env, msg)
	out.Evidence = append(out.Evidence, res.Evidence...)
	if err != nil {
		return out, err
	}
	out.merge(e.processRBCResult(msg.ProposerIndex, res))
	return out, nil
}

// HandleRBCEcho processes a relayed fragment.
func (e *Epoch) HandleRBCEcho(sender uint32, env types.Envelope, msg *types.RBCEcho) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	res, err := e.rbcs[msg.ProposerIndex].HandleEcho(sender, env, msg)
	out.Evidence = append(out.Evidence, res.Evidence...)
	if err != nil {
		return out, err
	}
	out.merge(e.processRBCResult(msg.ProposerIndex, res))
	return out, nil
}

// HandleRBCReady processes a ready vote.
func (e *Epoch) HandleRBCReady(sender uint32, msg *types.RBCReady) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	res, err := e.rbcs[msg.ProposerIndex].HandleReady(sender, msg)
	if err != nil {
		return out, err
	}
	out.merge(e.processRBCResult(msg.ProposerIndex, res))
	return out, nil
}

// HandleFragmentRequest serves the unicast repair path from our held
// fragments.
func (e *Epoch) HandleFragmentRequest(sender uint32, msg *types.FragmentRequest) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	frag, ok := e.rbcs[msg.ProposerIndex].Fragment(msg.FragmentIndex)
	if !ok {
		return out, nil
	}
	out.Directed = append(out.Directed, Directed{
		Target: sender,
		Kind:   types.KindFragmentResponse,
		Msg:    frag,
	})
	return out, nil
}

// HandleFragmentResponse feeds a repaired fragment into the broadcast
// instance.
func (e *Epoch) HandleFragmentResponse(msg *types.RBCEcho) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	res, err := e.rbcs[msg.ProposerIndex].HandleRepair(msg)
	if err != nil {
		return out, err
	}
	out.merge(e.processRBCResult(msg.ProposerIndex, res))
	return out, nil
}

func (e *Epoch) processRBCResult(slot uint32, res rbc.Result) Output {
	var out Output
	if res.Echo != nil {
		out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindRBCEcho, Msg: res.Echo})
	}
	if res.Ready != nil {
		out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindRBCReady, Msg: res.Ready})
	}
	if res.Delivered != nil {
		out.merge(e.onDeliver(slot, res.Delivered))
	}
	return out
}

func (e *Epoch) onDeliver(slot uint32, payload []byte) Output {
	var out Output
	log.Debug(log.EpochMonitoring, "rbc delivered", "epoch", e.epoch, "slot", slot)
	for _, input := range e.sub.NoteDeliver(slot, payload) {
		out.merge(e.processBBAResult(input.ProposerIndex, e.bbas[input.ProposerIndex].SetInput(input.Value)))
	}
	out.merge(e.maybeOpenSubset())
	return out
}

// HandleBVal processes a peer's round estimate.
func (e *Epoch) HandleBVal(sender uint32, msg *types.BBABVal) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	out.merge(e.processBBAResult(msg.ProposerIndex, e.bbas[msg.ProposerIndex].HandleBVal(sender, msg)))
	return out, nil
}

// HandleAux processes a peer's auxiliary vote.
func (e *Epoch) HandleAux(sender uint32, msg *types.BBAAux) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	out.merge(e.processBBAResult(msg.ProposerIndex, e.bbas[msg.ProposerIndex].HandleAux(sender, msg)))
	return out, nil
}

func (e *Epoch) processBBAResult(slot uint32, res bba.Result) Output {
	var out Output
	for i := range res.BVals {
		out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindBBABVal, Msg: &res.BVals[i]})
	}
	if res.Aux != nil {
		out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindBBAAux, Msg: res.Aux})
	}
	if res.NeedCoin != nil {
		out.merge(e.requestCoin(slot, *res.NeedCoin))
	}
	if res.Decided != nil {
		log.Debug(log.EpochMonitoring, "bba decided", "epoch", e.epoch, "slot", slot, "value", *res.Decided)
		for _, input := range e.sub.NoteDecide(slot, *res.Decided) {
			out.merge(e.processBBAResult(input.ProposerIndex, e.bbas[input.ProposerIndex].SetInput(input.Value)))
		}
		out.merge(e.maybeOpenSubset())
	}
	return out
}

// requestCoin emits our coin share for (slot, round) and tries aggregation
// with whatever peer shares already arrived.
func (e *Epoch) requestCoin(slot, round uint32) Output {
	var out Output
	key := coinKey{slot: slot, round: round}
	if e.coinAsked[key] {
		return out
	}
	e.coinAsked[key] = true

	share, err := thresh.CoinShare(&e.keys.Share, e.epoch, uint16(slot), round)
	if err != nil {
		log.Error(log.EpochMonitoring, "coin share failed", "epoch", e.epoch, "err", err)
		return out
	}
	e.recordCoinShare(key, share)
	out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindCoinShare, Msg: &types.CoinShareMsg{
		Epoch:         e.epoch,
		ProposerIndex: slot,
		Round:         round,
		Share:         types.SigShareMsg{Index: share.Index, Point: share.Point},
	}})
	out.merge(e.tryCoin(key))
	return out
}

// HandleCoinShare verifies and stores a peer's coin share.
func (e *Epoch) HandleCoinShare(sender uint32, msg *types.CoinShareMsg) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) {
		return out, conderrors.ErrVMalformedMessage
	}
	share := thresh.SigShare{Index: msg.Share.Index, Point: msg.Share.Point}
	coinMsg := thresh.CoinMessage(e.epoch, uint16(msg.ProposerIndex), msg.Round)
	if err := e.keys.VerifyPeerShare(thresh.DomainCoin, coinMsg, share); err != nil {
		return out, err
	}
	key := coinKey{slot: msg.ProposerIndex, round: msg.Round}
	e.recordCoinShare(key, share)
	out.merge(e.tryCoin(key))
	return out, nil
}

func (e *Epoch) recordCoinShare(key coinKey, share thresh.SigShare) {
	shares := e.coinShares[key]
	if shares == nil {
		shares = make(map[uint32]thresh.SigShare)
		e.coinShares[key] = shares
	}
	shares[share.Index] = share
}

func (e *Epoch) tryCoin(key coinKey) Output {
	var out Output
	if e.coinDone[key] || !e.coinAsked[key] {
		return out
	}
	shares := e.coinShares[key]
	if len(shares) < e.Threshold() {
		return out
	}
	all := make([]thresh.SigShare, 0, len(shares))
	for _, s := range shares {
		all = append(all, s)
	}
	sig, err := thresh.Aggregate(all, e.Threshold())
	if err != nil {
		return out
	}
	e.coinDone[key] = true
	value := thresh.CoinValue(sig)
	out.merge(e.processBBAResult(key.slot, e.bbas[key.slot].InjectCoin(key.round, value)))
	return out
}

// maybeOpenSubset fires once the common subset is decided: the ciphertexts
// of accepted slots are verified and our decryption shares broadcast.
func (e *Epoch) maybeOpenSubset() Output {
	var out Output
	if e.subset != nil || e.state >= StateCommitting {
		return out
	}
	subset, ok := e.sub.Output()
	if !ok {
		return out
	}
	e.subset = subset
	e.state = StateCommitting
	log.Info(log.EpochMonitoring, "subset selected", "epoch", e.epoch, "size", len(subset))

	for _, slot := range subset {
		payload, _ := e.sub.Payload(slot)
		var ct thresh.Ciphertext
		if err := codec.Decode(payload, &ct); err != nil {
			// agreement delivered garbage for this slot: every honest node
			// sees the same bytes and skips it identically
			log.Warn(log.EpochMonitoring, "undecodable ciphertext", "epoch", e.epoch, "slot", slot)
			out.Evidence = append(out.Evidence, e.slotEvidence(slot))
			continue
		}
		if err := thresh.VerifyCiphertext(&ct); err != nil {
			log.Warn(log.EpochMonitoring, "invalid ciphertext", "epoch", e.epoch, "slot", slot)
			out.Evidence = append(out.Evidence, e.slotEvidence(slot))
			continue
		}
		e.ciphertexts[slot] = &ct

		ds, err := thresh.DecryptShare(&e.keys.Share, &ct)
		if err != nil {
			continue
		}
		e.recordDecShare(slot, ds)
		out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindDecShare, Msg: &types.DecShareMsg{
			Epoch:         e.epoch,
			ProposerIndex: slot,
			Index:         ds.Index,
			K:             ds.K[:],
		}})
	}
	for _, slot := range subset {
		out.merge(e.tryDecrypt(slot))
	}
	// all slots may have been skipped
	out.merge(e.maybeAssemble())
	return out
}

// RepairRequests asks peers for fragments of slots the agreement accepted
// but our broadcast has not reconstructed. Driven by the node layer on its
// retry schedule.
func (e *Epoch) RepairRequests() []Directed {
	var requests []Directed
	for i, inst := range e.rbcs {
		slot := uint32(i)
		if inst.Delivered() {
			continue
		}
		if decided, ok := e.bbas[i].Decided(); !ok || !decided {
			continue
		}
		for _, missing := range inst.MissingFragments() {
			requests = append(requests, Directed{
				Target: missing, // validator holding that fragment index
				Kind:   types.KindFragmentRequest,
				Msg: &types.FragmentRequest{
					Epoch:         e.epoch,
					ProposerIndex: slot,
					FragmentIndex: missing,
				},
			})
		}
	}
	return requests
}

func (e *Epoch) slotEvidence(slot uint32) types.Evidence {
	v, _ := e.vs.ByIndex(int(slot))
	payload, _ := e.sub.Payload(slot)
	return types.Evidence{
		Reason:  types.ReasonSignatureInvalid,
		Accused: v.Id,
		Scope:   e.epoch,
		Payload: payload,
	}
}

// HandleDecShare stores a peer's decryption share and attempts combination.
func (e *Epoch) HandleDecShare(sender uint32, msg *types.DecShareMsg) (Output, error) {
	var out Output
	if !e.slotValid(msg.ProposerIndex) || len(msg.K) != len(thresh.DecShare{}.K) {
		return out, conderrors.ErrVMalformedMessage
	}
	ds := thresh.DecShare{Index: msg.Index}
	copy(ds.K[:], msg.K)
	e.recordDecShare(msg.ProposerIndex, ds)
	out.merge(e.tryDecrypt(msg.ProposerIndex))
	return out, nil
}

func (e *Epoch) recordDecShare(slot uint32, ds thresh.DecShare) {
	shares := e.decShares[slot]
	if shares == nil {
		shares = make(map[uint32]thresh.DecShare)
		e.decShares[slot] = shares
	}
	shares[ds.Index] = ds
}

// tryDecrypt combines decryption shares for an accepted slot and decodes
// the batch. Invalid shares surface as a decode failure; combination is
// retried as further shares arrive.
func (e *Epoch) tryDecrypt(slot uint32) Output {
	var out Output
	if e.subset == nil || e.batches[slot] != nil {
		return out
	}
	ct := e.ciphertexts[slot]
	if ct == nil {
		return out
	}
	shares := e.decShares[slot]
	if len(shares) < e.Threshold() {
		return out
	}
	all := make([]thresh.DecShare, 0, len(shares))
	for _, s := range shares {
		all = append(all, s)
	}
	plaintext, err := thresh.CombineDecryption(ct, all, e.Threshold())
	if err != nil {
		return out
	}
	var batch types.EventBatch
	if err := codec.Decode(plaintext, &batch); err != nil {
		log.Warn(log.EpochMonitoring, "batch decode failed", "epoch", e.epoch, "slot", slot, "err", err)
		return out
	}
	if batch.Epoch != e.epoch || len(batch.Events) > int(e.cfg.MaxBatchEvents) {
		log.Warn(log.EpochMonitoring, "batch rejected", "epoch", e.epoch, "slot", slot)
		out.Evidence = append(out.Evidence, e.slotEvidence(slot))
		e.ciphertexts[slot] = nil // slot contributes nothing
		out.merge(e.maybeAssemble())
		return out
	}
	e.batches[slot] = &batch
	out.merge(e.maybeAssemble())
	return out
}

// maybeAssemble builds the block once every accepted slot is decrypted or
// skipped, signs its digest, and broadcasts our share.
func (e *Epoch) maybeAssemble() Output {
	var out Output
	if e.subset == nil || e.block != nil {
		return out
	}
	var events []types.EventFingerprint
	var proposers []types.ValidatorId
	for _, slot := range e.subset {
		if e.ciphertexts[slot] == nil {
			continue // skipped slot
		}
		batch := e.batches[slot]
		if batch == nil {
			return out // still waiting on decryption shares
		}
		events = append(events, batch.Events...)
		v, _ := e.vs.ByIndex(int(slot))
		proposers = append(proposers, v.Id)
	}

	events = types.SortUniqueEvents(events)
	e.block = &types.Block{
		Epoch:       e.epoch,
		Events:      events,
		MerkleRoot:  types.EventsMerkleRoot(events),
		ProposerSet: proposers,
	}
	digest := e.block.Digest()
	log.Info(log.EpochMonitoring, "block assembled",
		"epoch", e.epoch, "events", len(events), "digest", digest.Str())

	share, err := thresh.SignShare(&e.keys.Share, thresh.DomainQC, digest.Bytes())
	if err != nil {
		log.Error(log.EpochMonitoring, "block share failed", "epoch", e.epoch, "err", err)
		return out
	}
	e.recordBlockShare(digest, thresh.SigShare{Index: share.Index, Point: share.Point})
	out.Broadcast = append(out.Broadcast, Outbound{Kind: types.KindBlockShare, Msg: &types.BlockShareMsg{
		Epoch:       e.epoch,
		BlockDigest: digest,
		Share:       types.SigShareMsg{Index: share.Index, Point: share.Point},
	}})
	out.merge(e.tryQC())
	return out
}

// HandleBlockShare verifies and stores a peer's share over the block digest.
func (e *Epoch) HandleBlockShare(sender uint32, msg *types.BlockShareMsg) (Output, error) {
	var out Output
	share := thresh.SigShare{Index: msg.Share.Index, Point: msg.Share.Point}
	if err := e.keys.VerifyPeerShare(thresh.DomainQC, msg.BlockDigest.Bytes(), share); err != nil {
		return out, err
	}
	e.recordBlockShare(msg.BlockDigest, share)
	out.merge(e.tryQC())
	return out, nil
}

func (e *Epoch) recordBlockShare(digest common.Hash, share thresh.SigShare) {
	shares := e.blockShares[digest]
	if shares == nil {
		shares = make(map[uint32]thresh.SigShare)
		e.blockShares[digest] = shares
	}
	shares[share.Index] = share
}

// tryQC aggregates the quorum certificate once 2f+1 shares cover our
// assembled block digest.
func (e *Epoch) tryQC() Output {
	var out Output
	if e.block == nil || e.qcBuilt {
		return out
	}
	digest := e.block.Digest()
	shares := e.blockShares[digest]
	if len(shares) < e.Threshold() {
		return out
	}
	all := make([]thresh.SigShare, 0, len(shares))
	for _, s := range shares {
		all = append(all, s)
	}
	sig, err := thresh.Aggregate(all, e.Threshold())
	if err != nil {
		return out
	}

	qc := types.QuorumCertificate{
		MessageDigest: digest,
		SignerBitmap:  types.NewSignerBitmap(e.vs.Len()),
	}
	copy(qc.AggregateSignature[:], sig[:])
	for _, idx := range aggregatedIndices(shares, e.Threshold()) {
		vIdx, err := e.validatorIndexForShare(idx)
		if err != nil {
			log.Warn(log.EpochMonitoring, "unknown share index in qc", "index", idx)
			continue
		}
		qc.SetSigner(vIdx)
	}

	e.qcBuilt = true
	e.block.QC = qc
	e.state = StateDone
	out.Block = e.block
	log.Info(log.EpochMonitoring, "qc assembled",
		"epoch", e.epoch, "signers", qc.Popcount())
	return out
}

// aggregatedIndices mirrors the deterministic subset Aggregate uses: the t
// lowest distinct share indices.
func aggregatedIndices(shares map[uint32]thresh.SigShare, t int) []uint32 {
	indices := make([]uint32, 0, len(shares))
	for idx := range shares {
		indices = append(indices, idx)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j-1] > indices[j]; j-- {
			indices[j-1], indices[j] = indices[j], indices[j-1]
		}
	}
	return indices[:t]
}

func (e *Epoch) validatorIndexForShare(shareIndex uint32) (int, error) {
	for i, v := range e.vs.Validators {
		if v.ShareIndex == shareIndex {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no validator holds share index %d", shareIndex)
}
