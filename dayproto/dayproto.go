// Package dayproto runs the day-advancement protocol: each validator
// computes the sequential day proof, exchanges signed candidates, and the
// day counter advances exactly once per quorum-certified proof. The
// protocol runs in parallel with the epoch orchestrator; its finalized day
// numbers open new epochs.
package dayproto

import (
	"context"
	"sort"
	"time"

	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/ed25519"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/thresh"
	"github.com/chorus-fed/conductor/types"
	"github.com/chorus-fed/conductor/vdf"
)

// RetentionDays is the minimum canonical-proof retention window.
const RetentionDays = 30

// Protocol tracks day candidates for the current and next day. Single
// writer: the node's day loop and gossip pump share one goroutine.
type Protocol struct {
	engine  *vdf.Engine
	clock   *vdf.AnomalyClock
	store   *storage.Store
	vs      *types.ValidatorSet
	keys    *thresh.KeyContext
	signKey ed25519.PrivateKey
	cfg     types.Config

	day        uint64 // last finalized day
	difficulty uint64

	localOutput map[uint64]common.Hash
	// day -> output -> threshold share index -> share
	shares map[uint64]map[common.Hash]map[uint32]thresh.SigShare
	// day -> proposer id -> candidate, for evidence assembly
	candidates map[uint64]map[types.ValidatorId]types.DayProof
	durations  map[uint64][]time.Duration
}

// NewProtocol restores protocol state from storage: the last canonical day
// is the starting point after a crash.
func NewProtocol(engine *vdf.Engine, clock *vdf.AnomalyClock, store *storage.Store,
	vs *types.ValidatorSet, keys *thresh.KeyContext, signKey ed25519.PrivateKey,
	cfg types.Config) (*Protocol, error) {

	p := &Protocol{
		engine:      engine,
		clock:       clock,
		store:       store,
		vs:          vs,
		keys:        keys,
		signKey:     signKey,
		cfg:         cfg,
		difficulty:  cfg.DifficultyInitial,
		localOutput: make(map[uint64]common.Hash),
		shares:      make(map[uint64]map[common.Hash]map[uint32]thresh.SigShare),
		candidates:  make(map[uint64]map[types.ValidatorId]types.DayProof),
		durations:   make(map[uint64][]time.Duration),
	}
	day, found, err := store.LastCanonicalDay()
	if err != nil {
		return nil, err
	}
	if found {
		p.day = day
	}
	return p, nil
}

// CurrentDay returns the last finalized day number.
func (p *Protocol) CurrentDay() uint64 {
	return p.day
}

// Difficulty returns the difficulty in force.
func (p *Protocol) Difficulty() uint64 {
	return p.difficulty
}

// BuildLocalProof computes the next day's proof. Strictly sequential; run
// on the blocking pool. The returned message carries the ed25519-signed
// proof plus our threshold share over its digest.
func (p *Protocol) BuildLocalProof(ctx context.Context) (*types.DayProofMsg, time.Duration, error) {
	day := p.day + 1
	began := p.clock.Now()

	seed, output, err := p.engine.ComputeDayProof(ctx, day, p.difficulty)
	if err != nil {
		return nil, 0, err
	}
	finished := p.clock.Now()
	p.clock.RecordLocalRun(day, began, finished)
	elapsed := finished - began

	localId, _ := p.vs.ByIndex(p.localIndex())
	proof := types.DayProof{
		DayNumber:  day,
		Seed:       seed,
		Difficulty: p.difficulty,
		Output:     output,
		Proposer:   localId.Id,
	}
	sig := ed25519.Sign(p.signKey, proof.SigningDigest().Bytes())
	copy(proof.ProposerSignature[:], sig)

	share, err := thresh.SignShare(&p.keys.Share, thresh.DomainDay, proof.OutputDigest().Bytes())
	if err != nil {
		return nil, 0, err
	}

	p.localOutput[day] = output
	p.recordShare(day, output, share)
	p.recordCandidate(day, proof)
	p.durations[day] = append(p.durations[day], elapsed)

	log.Info(log.DayMonitoring, "day proof computed",
		"day", day, "difficulty", p.difficulty, "output", output.Str())
	return &types.DayProofMsg{
		Proof: proof,
		Share: types.SigShareMsg{Index: share.Index, Point: share.Point},
	}, elapsed, nil
}

func (p *Protocol) localIndex() int {
	for i, v := range p.vs.Validators {
		if ed25519.PublicKey(v.Ed25519Key[:]).Equal(p.signKey.Public().(ed25519.PublicKey)) {
			return i
		}
	}
	return 0
}

func (p *Protocol) recordShare(day uint64, output common.Hash, share thresh.SigShare) {
	byOutput := p.shares[day]
	if byOutput == nil {
		byOutput = make(map[common.Hash]map[uint32]thresh.SigShare)
		p.shares[day] = byOutput
	}
	byIndex := byOutput[output]
	if byIndex == nil {
		byIndex = make(map[uint32]thresh.SigShare)
		byOutput[output] = byIndex
	}
	byIndex[share.Index] = share
}

func (p *Protocol) recordCandidate(day uint64, proof types.DayProof) {
	byId := p.candidates[day]
	if byId == nil {
		byId = make(map[types.ValidatorId]types.DayProof)
		p.candidates[day] = byId
	}
	byId[proof.Proposer] = proof
}

// HandleDayProof processes a peer's candidate. It returns the canonical
// proof when this message completes the quorum.
func (p *Protocol) HandleDayProof(sender types.Validator, msg *types.DayProofMsg) (*types.CanonicalDayProof, []types.Evidence, error) {
	var evidence []types.Evidence
	proof := msg.Proof
	day := proof.DayNumber

	if day <= p.day {
		return nil, nil, nil // stale
	}
	if proof.Proposer != sender.Id {
		return nil, nil, conderrors.ErrVMalformedMessage
	}
	if proof.Seed != p.engine.DeriveSeed(day) || proof.Difficulty != p.difficulty {
		return nil, nil, conderrors.ErrVMalformedMessage
	}
	if !ed25519.Verify(sender.Ed25519Key[:], proof.SigningDigest().Bytes(), proof.ProposerSignature[:]) {
		return nil, nil, conderrors.ErrVInvalidSignature
	}

	// timing anomaly: arrival faster than the calibration window allows
	if delta, ok := p.clock.RecordPeerArrival(day); ok {
		if p.clock.TooFast(delta, vdf.TargetDayDuration) {
			evidence = append(evidence, p.tooFastEvidence(sender.Id, day, delta))
		}
	}

	share := thresh.SigShare{Index: msg.Share.Index, Point: msg.Share.Point}
	if err := p.keys.VerifyPeerShare(thresh.DomainDay, proof.OutputDigest().Bytes(), share); err != nil {
		return nil, evidence, err
	}
	p.recordCandidate(day, proof)

	// the VDF is deterministic: a peer output diverging from our own
	// computation is byzantine
	if local, ok := p.localOutput[day]; ok && proof.Output != local {
		evidence = append(evidence, p.divergentEvidence(sender.Id, proof))
		return nil, evidence, conderrors.ErrCConflictingDayProof
	}

	p.recordShare(day, proof.Output, share)
	canonical, err := p.tryFinalize(day, proof.Output)
	return canonical, evidence, err
}

// tryFinalize assembles the QC once 2f+1 identical verified outputs exist.
// Only an output matching our own computation is finalized locally.
func (p *Protocol) tryFinalize(day uint64, output common.Hash) (*types.CanonicalDayProof, error) {
	local, ok := p.localOutput[day]
	if !ok || output != local {
		return nil, nil
	}
	byIndex := p.shares[day][output]
	threshold := p.vs.Threshold()
	if len(byIndex) < threshold {
		return nil, nil
	}

	all := make([]thresh.SigShare, 0, len(byIndex))
	for _, s := range byIndex {
		all = append(all, s)
	}
	sig, err := thresh.Aggregate(all, threshold)
	if err != nil {
		return nil, err
	}

	// our own candidate is the canonical body; outputs are identical
	localId, _ := p.vs.ByIndex(p.localIndex())
	proof, ok := p.candidates[day][localId.Id]
	if !ok {
		return nil, nil
	}

	qc := types.QuorumCertificate{
		MessageDigest: proof.OutputDigest(),
		SignerBitmap:  types.NewSignerBitmap(p.vs.Len()),
	}
	copy(qc.AggregateSignature[:], sig[:])
	indices := make([]uint32, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices[:threshold] {
		for vIdx, v := range p.vs.Validators {
			if v.ShareIndex == idx {
				qc.SetSigner(vIdx)
			}
		}
	}

	canonical := &types.CanonicalDayProof{Proof: proof, QC: qc}
	if err := p.store.PutCanonicalDayProof(canonical); err != nil && err != conderrors.ErrDConflict {
		return nil, err
	}
	p.day = day
	p.pruneOldState(day)
	log.Info(log.DayMonitoring, "day finalized", "day", day, "signers", qc.Popcount())

	if uint32(day)%p.cfg.AdjustmentIntervalDays == 0 {
		p.retune(day)
	}
	return canonical, nil
}

// ImportCanonical accepts a quorum-certified proof learned during
// historical sync. The QC is verified against the group key.
func (p *Protocol) ImportCanonical(canonical *types.CanonicalDayProof) error {
	proof := canonical.Proof
	if canonical.QC.Popcount() < p.vs.Threshold() {
		return conderrors.ErrCInsufficientQuorum
	}
	var sig thresh.Signature
	copy(sig[:], canonical.QC.AggregateSignature[:])
	if err := thresh.VerifyAggregate(&p.keys.GroupKey, thresh.DomainDay,
		proof.OutputDigest().Bytes(), sig); err != nil {
		return err
	}
	if err := p.store.PutCanonicalDayProof(canonical); err != nil && err != conderrors.ErrDConflict {
		return err
	}
	if proof.DayNumber > p.day {
		p.day = proof.DayNumber
	}
	log.Info(log.DayMonitoring, "canonical proof imported", "day", proof.DayNumber)
	return nil
}

// HandleCompletionTime records a peer's reported VDF duration for the
// median-based difficulty adjustment.
func (p *Protocol) HandleCompletionTime(msg *types.CompletionTimeMsg) {
	p.durations[msg.DayNumber] = append(p.durations[msg.DayNumber],
		time.Duration(msg.DurationMs)*time.Millisecond)
}

// retune recomputes difficulty from the median completion time across the
// last adjustment interval.
func (p *Protocol) retune(day uint64) {
	interval := uint64(p.cfg.AdjustmentIntervalDays)
	var observed []time.Duration
	for d := day - interval + 1; d <= day; d++ {
		observed = append(observed, p.durations[d]...)
	}
	p.difficulty = vdf.Retune(p.difficulty, observed, vdf.TargetDayDuration)
}

// pruneOldState drops in-memory candidate state and storage proofs outside
// the retention window.
func (p *Protocol) pruneOldState(day uint64) {
	for d := range p.shares {
		if d <= day {
			delete(p.shares, d)
			delete(p.candidates, d)
			delete(p.localOutput, d)
		}
	}
	for d := range p.durations {
		if d+uint64(p.cfg.AdjustmentIntervalDays) < day {
			delete(p.durations, d)
		}
	}
	if day > RetentionDays {
		if err := p.store.PruneDayProofs(day - RetentionDays); err != nil {
			log.Warn(log.DayMonitoring, "day proof prune failed", "err", err)
		}
	}
}

func (p *Protocol) tooFastEvidence(accused types.ValidatorId, day uint64, delta time.Duration) types.Evidence {
	payload := types.TooFastPayload{DayNumber: day, MeasuredDeltaMs: uint64(delta.Milliseconds())}
	return types.Evidence{
		Reason:  types.ReasonVDFTooFast,
		Accused: accused,
		Scope:   day,
		Payload: codec.MustEncode(&payload),
	}
}

func (p *Protocol) divergentEvidence(accused types.ValidatorId, proof types.DayProof) types.Evidence {
	return types.Evidence{
		Reason:  types.ReasonVDFInvalid,
		Accused: accused,
		Scope:   proof.DayNumber,
		Payload: codec.MustEncode(&proof),
	}
}
