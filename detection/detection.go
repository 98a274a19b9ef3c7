// Package detection collects byzantine evidence and drives blacklist
// ballots. Evidence records are self-contained; a ballot is an ordinary
// event committed through the consensus pipeline, taking effect two days
// after commit so the key reshare can complete.
package detection

import (
	"sync"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/types"
)

// EffectiveDayOffset is how many days after the current day a committed
// ballot takes effect.
const EffectiveDayOffset = 2

// tooFastEvidenceQuorum is how many independent too-fast observations are
// needed before a ballot is proposed. Timing evidence is circumstantial;
// deterministic evidence (equivocation, invalid proof or signature, replay)
// needs a single record.
const tooFastEvidenceQuorum = 3

// Pool accumulates evidence and tracks ballot state. Safe for concurrent
// use by the gossip handler and the orchestrator.
type Pool struct {
	mu sync.Mutex

	evidence  map[common.Hash]types.Evidence
	byAccused map[types.ValidatorId][]common.Hash
	proposed  map[types.ValidatorId]bool
	ballots   map[types.EventFingerprint]types.BallotEvent
}

// NewPool returns an empty evidence pool.
func NewPool() *Pool {
	return &Pool{
		evidence:  make(map[common.Hash]types.Evidence),
		byAccused: make(map[types.ValidatorId][]common.Hash),
		proposed:  make(map[types.ValidatorId]bool),
		ballots:   make(map[types.EventFingerprint]types.BallotEvent),
	}
}

// Add records an evidence record. Returns false for duplicates.
func (p *Pool) Add(ev types.Evidence) bool {
	digest := ev.Digest()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.evidence[digest]; ok {
		return false
	}
	p.evidence[digest] = ev
	p.byAccused[ev.Accused] = append(p.byAccused[ev.Accused], digest)
	log.Info(log.DetectMonitoring, "evidence recorded",
		"reason", types.ReasonString(ev.Reason), "accused", ev.Accused.Str(), "scope", ev.Scope)
	return true
}

// Evidence returns a record by digest.
func (p *Pool) Evidence(digest common.Hash) (types.Evidence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.evidence[digest]
	return ev, ok
}

// ReadyForBallot reports whether enough evidence exists against a validator
// and no ballot has been proposed yet.
func (p *Pool) ReadyForBallot(accused types.ValidatorId) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proposed[accused] {
		return false
	}
	tooFast := 0
	for _, digest := range p.byAccused[accused] {
		switch p.evidence[digest].Reason {
		case types.ReasonVDFTooFast:
			tooFast++
			if tooFast >= tooFastEvidenceQuorum {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// MakeBallot builds the blacklist ballot for a validator and registers its
// body so the fingerprint can be resolved at commit time. Returns false if a
// ballot was already proposed for the validator.
func (p *Pool) MakeBallot(accused types.ValidatorId, currentDay uint64) (types.BallotEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proposed[accused] {
		return types.BallotEvent{}, false
	}
	digests := p.byAccused[accused]
	if len(digests) == 0 {
		return types.BallotEvent{}, false
	}
	p.proposed[accused] = true

	lead := p.evidence[digests[0]]
	ballot := types.BallotEvent{
		Target:         accused,
		Reason:         lead.Reason,
		EvidenceDigest: digests[0],
		EffectiveDay:   currentDay + EffectiveDayOffset,
	}
	p.ballots[ballot.Fingerprint()] = ballot
	return ballot, true
}

// MakeUnblacklistBallot builds the reversal ballot.
func (p *Pool) MakeUnblacklistBallot(target types.ValidatorId, currentDay uint64) types.BallotEvent {
	ballot := types.BallotEvent{
		Target:       target,
		EffectiveDay: currentDay + EffectiveDayOffset,
		Unblacklist:  true,
	}
	p.mu.Lock()
	p.ballots[ballot.Fingerprint()] = ballot
	p.mu.Unlock()
	return ballot
}

// RegisterBallot stores a ballot body learned from a peer so its
// fingerprint resolves at commit time.
func (p *Pool) RegisterBallot(ballot types.BallotEvent) {
	p.mu.Lock()
	p.ballots[ballot.Fingerprint()] = ballot
	p.mu.Unlock()
}

// Ballot resolves a committed fingerprint to a known ballot body.
func (p *Pool) Ballot(fp types.EventFingerprint) (types.BallotEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.ballots[fp]
	return b, ok
}

// ApplyCommitted walks a committed block's events, persisting blacklist
// entries for every recognized ballot fingerprint and removing entries for
// unblacklist ballots. Returns the ballots applied.
func (p *Pool) ApplyCommitted(block *types.Block, store *storage.Store) ([]types.BallotEvent, error) {
	var applied []types.BallotEvent
	for _, fp := range block.Events {
		ballot, ok := p.Ballot(fp)
		if !ok {
			continue
		}
		if ballot.Unblacklist {
			if err := store.DeleteBlacklistEntry(ballot.Target); err != nil {
				return applied, err
			}
			log.Info(log.DetectMonitoring, "unblacklist committed", "target", ballot.Target.Str())
		} else {
			entry := &types.BlacklistEntry{
				ValidatorId:    ballot.Target,
				Reason:         ballot.Reason,
				EvidenceDigest: ballot.EvidenceDigest,
				EffectiveDay:   ballot.EffectiveDay,
				QC:             block.QC,
			}
			if err := store.PutBlacklistEntry(entry); err != nil {
				// a validator appears in at most one active entry
				log.Warn(log.DetectMonitoring, "blacklist entry already active",
					"target", ballot.Target.Str(), "err", err)
				continue
			}
			log.Info(log.DetectMonitoring, "blacklist committed",
				"target", ballot.Target.Str(), "effective_day", ballot.EffectiveDay)
		}
		applied = append(applied, ballot)
	}
	return applied, nil
}

// ActiveExclusions returns the validators excluded from the active set at
// the given day.
func ActiveExclusions(store *storage.Store, day uint64) (map[types.ValidatorId]bool, error) {
	entries, err := store.ListBlacklist()
	if err != nil {
		return nil, err
	}
	excluded := make(map[types.ValidatorId]bool)
	for _, e := range entries {
		if e.EffectiveDay <= day {
			excluded[e.ValidatorId] = true
		}
	}
	return excluded, nil
}
