package node

import (
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/types"
)

// registerMembership stores a membership-change body keyed by fingerprint.
// Caller holds the lock.
func (n *Node) registerMembership(change types.MembershipChangeEvent) {
	n.membership[change.Fingerprint()] = change
}

// scheduleCommittedMembership walks a committed block for recognized
// membership fingerprints and schedules them at their effective day. Caller
// holds the lock.
func (n *Node) scheduleCommittedMembership(block *types.Block) {
	for _, fp := range block.Events {
		change, ok := n.membership[fp]
		if !ok {
			continue
		}
		delete(n.membership, fp)
		n.scheduledChanges[change.EffectiveDay] = append(n.scheduledChanges[change.EffectiveDay], change)
		log.Info(log.NodeMonitoring, "membership change committed",
			"effective_day", change.EffectiveDay, "type", change.ChangeType)
	}
}

// applyMembership applies changes whose effective day has arrived, mutating
// the validator-set snapshot between epochs. A DKG reshare is triggered by
// the change; until it completes, consensus continues with the existing
// shares. Caller holds the lock.
func (n *Node) applyMembership(day uint64) {
	changes := n.scheduledChanges[day]
	if len(changes) == 0 {
		return
	}
	delete(n.scheduledChanges, day)

	for _, change := range changes {
		switch change.ChangeType {
		case types.MembershipAdd:
			member := types.Validator{
				Id:         types.ValidatorIdFromKey(change.ValidatorKey[:]),
				Ed25519Key: change.ValidatorKey,
				ShareIndex: change.ShareIndex,
			}
			n.vs = n.vs.With(day, member)
			log.Info(log.NodeMonitoring, "validator joined",
				"id", member.Id.Str(), "day", day)
		case types.MembershipRemove:
			id := types.ValidatorIdFromKey(change.ValidatorKey[:])
			n.vs = n.vs.Without(day, map[types.ValidatorId]bool{id: true})
			log.Info(log.NodeMonitoring, "validator left", "id", id.Str(), "day", day)
		}
	}
	if err := n.store.PutValidatorSet(n.vs); err != nil {
		log.Warn(log.NodeMonitoring, "validator set snapshot failed", "err", err)
	}
	// reshare runs in the background; existing shares stay in force until
	// the new dealing completes
	log.Info(log.NodeMonitoring, "key reshare triggered", "day", day, "n", n.vs.Len())
}
