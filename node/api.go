package node

import (
	"crypto/rand"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/types"
)

// Authenticator is the upward-facing trust boundary. Callers present an
// identity established by the transport's mutual authentication; the
// authenticator decides whether it may use the adapter surface.
type Authenticator interface {
	// Authorize returns nil, ErrBUnauthenticated, or ErrBPermissionDenied.
	Authorize(caller string) error
}

// StaticAuthenticator authorizes a fixed set of caller identities.
type StaticAuthenticator struct {
	allowed map[string]bool
}

// NewStaticAuthenticator builds an authenticator from the allowed callers.
func NewStaticAuthenticator(callers ...string) *StaticAuthenticator {
	allowed := make(map[string]bool, len(callers))
	for _, c := range callers {
		allowed[c] = true
	}
	return &StaticAuthenticator{allowed: allowed}
}

// Authorize implements Authenticator.
func (a *StaticAuthenticator) Authorize(caller string) error {
	if caller == "" {
		return conderrors.ErrBUnauthenticated
	}
	if !a.allowed[caller] {
		return conderrors.ErrBPermissionDenied
	}
	return nil
}

// Batch status states.
const (
	StatusPending uint8 = iota
	StatusCommitted
	StatusFailed
)

// BatchStatus is the consensus progress of one submitted batch.
type BatchStatus struct {
	State       uint8
	Epoch       uint64
	BlockDigest common.Hash
	Reason      string
}

// SubmitEventBatch accepts event fingerprints from the federation relay.
// Idempotent per idempotency key within the seen-cache TTL: a repeated key
// returns the original batch id without re-entering consensus.
func (n *Node) SubmitEventBatch(caller string, events []types.EventFingerprint, nonce [types.BatchNonceSize]byte, idempotencyKey string) (common.Hash, error) {
	if err := n.auth.Authorize(caller); err != nil {
		return common.Hash{}, err
	}
	if len(events) == 0 || len(events) > int(n.cfg.MaxBatchEvents) {
		return common.Hash{}, conderrors.ErrBRejected
	}
	if existing, ok := n.idem.Lookup(idempotencyKey); ok {
		log.Debug(log.APIMonitoring, "idempotent resubmission", "batch", existing.Str())
		return existing, nil
	}

	n.mu.Lock()
	batch := types.EventBatch{
		Proposer:   n.localId,
		Epoch:      n.day.CurrentDay() + 1,
		Events:     events,
		BatchNonce: nonce,
	}
	batchId := batch.Digest()
	n.pendingEvents = append(n.pendingEvents, events...)
	n.status[batchId] = &BatchStatus{State: StatusPending}
	n.batchEvents[batchId] = append([]types.EventFingerprint{}, events...)
	n.mu.Unlock()

	n.idem.Record(idempotencyKey, batchId)
	log.Info(log.APIMonitoring, "batch accepted", "batch", batchId.Str(), "events", len(events))
	return batchId, nil
}

// NewBatchNonce draws a random batch nonce for callers that do not supply
// their own.
func NewBatchNonce() [types.BatchNonceSize]byte {
	var nonce [types.BatchNonceSize]byte
	rand.Read(nonce[:])
	return nonce
}

// GetBlock returns the finalized block for an epoch.
func (n *Node) GetBlock(caller string, epoch uint64) (*types.Block, error) {
	if err := n.auth.Authorize(caller); err != nil {
		return nil, err
	}
	return n.store.GetBlock(epoch)
}

// GetDayProof returns the canonical proof for a day.
func (n *Node) GetDayProof(caller string, day uint64) (*types.CanonicalDayProof, error) {
	if err := n.auth.Authorize(caller); err != nil {
		return nil, err
	}
	return n.store.GetCanonicalDayProof(day)
}

// GetConsensusStatus reports the progress of a submitted batch.
func (n *Node) GetConsensusStatus(caller string, batchId common.Hash) (BatchStatus, error) {
	if err := n.auth.Authorize(caller); err != nil {
		return BatchStatus{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	status, ok := n.status[batchId]
	if !ok {
		return BatchStatus{}, conderrors.ErrDNotFound
	}
	return *status, nil
}

// ProposeMembershipChange submits a join or leave event through the normal
// pipeline. The effective day leaves room for the key reshare.
func (n *Node) ProposeMembershipChange(caller string, change types.MembershipChangeEvent) (types.EventFingerprint, error) {
	if err := n.auth.Authorize(caller); err != nil {
		return common.Hash{}, err
	}
	n.mu.Lock()
	minDay := n.day.CurrentDay() + 2
	if change.EffectiveDay < minDay {
		change.EffectiveDay = minDay
	}
	fp := change.Fingerprint()
	n.pendingEvents = append(n.pendingEvents, fp)
	n.registerMembership(change)
	n.mu.Unlock()

	// gossip the body so peers can resolve the fingerprint at commit
	n.broadcast(types.KindMembership, change.EffectiveDay, &types.MembershipMsg{Change: change})
	log.Info(log.APIMonitoring, "membership change proposed",
		"effective_day", change.EffectiveDay, "type", change.ChangeType)
	return fp, nil
}
