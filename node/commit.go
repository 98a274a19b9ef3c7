package node

import (
	"errors"

	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/telemetry"
	"github.com/chorus-fed/conductor/types"
)

// commitBlock persists an assembled block, enforcing total commit order by
// epoch: a block whose predecessor has not committed yet is buffered.
func (n *Node) commitBlock(block *types.Block) {
	n.mu.Lock()
	if n.hasCommitted && block.Epoch > n.lastCommitted+1 {
		n.blockBuffer[block.Epoch] = block
		n.mu.Unlock()
		log.Debug(log.EpochMonitoring, "block buffered for ordering",
			"epoch", block.Epoch, "last", n.lastCommitted)
		return
	}
	n.mu.Unlock()

	n.persistBlock(block)

	// drain any successors unblocked by this commit
	for {
		n.mu.Lock()
		next, ok := n.blockBuffer[n.lastCommitted+1]
		if ok {
			delete(n.blockBuffer, n.lastCommitted+1)
		}
		n.mu.Unlock()
		if !ok {
			return
		}
		n.persistBlock(next)
	}
}

func (n *Node) persistBlock(block *types.Block) {
	err := n.store.PutBlock(block)
	if err != nil && !errors.Is(err, conderrors.ErrCAlreadyCommitted) {
		log.Error(log.EpochMonitoring, "block persist failed", "epoch", block.Epoch, "err", err)
		return
	}
	alreadyCommitted := errors.Is(err, conderrors.ErrCAlreadyCommitted)
	if alreadyCommitted {
		// recovered locally by reading the existing record
		if stored, getErr := n.store.GetBlock(block.Epoch); getErr == nil {
			block = stored
		}
	}

	n.mu.Lock()
	if !n.hasCommitted || block.Epoch > n.lastCommitted {
		n.lastCommitted = block.Epoch
		n.hasCommitted = true
	}
	n.markBatchesCommitted(block)
	n.scheduleCommittedMembership(block)
	n.mu.Unlock()

	if alreadyCommitted {
		// metrics, the feed and ballot application were handled by the first commit
		return
	}
	n.metrics.EpochsCommitted.Inc()
	n.feed.Publish(telemetry.Event{
		Code:   telemetry.Telemetry_Epoch_Committed,
		Sender: n.localId.Hex(),
		Scope:  block.Epoch,
		Detail: block.Digest().Hex(),
	})
	log.Info(log.EpochMonitoring, "block committed",
		"epoch", block.Epoch, "events", len(block.Events), "signers", block.QC.Popcount())

	if _, err := n.pool.ApplyCommitted(block, n.store); err != nil {
		log.Warn(log.DetectMonitoring, "ballot application failed", "err", err)
	}
}

// markBatchesCommitted resolves submission statuses whose events all appear
// in the committed block. Caller holds the lock.
func (n *Node) markBatchesCommitted(block *types.Block) {
	included := make(map[types.EventFingerprint]bool, len(block.Events))
	for _, fp := range block.Events {
		included[fp] = true
	}
	digest := block.Digest()
	for batchId, events := range n.batchEvents {
		status := n.status[batchId]
		if status == nil || status.State != StatusPending {
			continue
		}
		all := true
		for _, fp := range events {
			if !included[fp] {
				all = false
				break
			}
		}
		if all {
			status.State = StatusCommitted
			status.Epoch = block.Epoch
			status.BlockDigest = digest
		}
	}
}
