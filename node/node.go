// Package node wires the consensus core into a running validator: storage,
// key material, the VDF day loop, epoch orchestration, gossip handling, and
// the boundary adapters exposed to the federation relay layer.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/consensus"
	"github.com/chorus-fed/conductor/dayproto"
	"github.com/chorus-fed/conductor/detection"
	"github.com/chorus-fed/conductor/ed25519"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/retry"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/telemetry"
	"github.com/chorus-fed/conductor/thresh"
	"github.com/chorus-fed/conductor/types"
	"github.com/chorus-fed/conductor/vdf"
)

// Options collects the dependencies of a validator node.
type Options struct {
	Config     types.Config
	Genesis    []byte
	Validators *types.ValidatorSet
	SignKey    ed25519.PrivateKey
	Keys       *thresh.KeyContext
	Store      *storage.Store
	Metrics    *telemetry.Metrics
	Feed       *telemetry.Server
}

// Node is a single long-lived validator process.
type Node struct {
	cfg       types.Config
	signKey   ed25519.PrivateKey
	keys      *thresh.KeyContext
	store     *storage.Store
	seen      *storage.SeenCache
	idem      *storage.IdempotencyCache
	pool      *detection.Pool
	engine    *vdf.Engine
	clock     *vdf.AnomalyClock
	day       *dayproto.Protocol
	metrics   *telemetry.Metrics
	feed      *telemetry.Server
	breakers  *retry.BreakerSet
	transport Transport
	auth      Authenticator

	mu         sync.Mutex
	vs         *types.ValidatorSet // snapshot for the current day
	localIndex uint32
	localId    types.ValidatorId

	epochs        map[uint64]*consensus.Epoch
	epochAttempts map[uint64]int
	pendingEvents []types.EventFingerprint
	status        map[common.Hash]*BatchStatus
	batchEvents   map[common.Hash][]types.EventFingerprint

	lastCommitted uint64
	hasCommitted  bool
	blockBuffer   map[uint64]*types.Block

	membership       map[common.Hash]types.MembershipChangeEvent
	scheduledChanges map[uint64][]types.MembershipChangeEvent

	dayAdvanced chan uint64
	quit        chan struct{}
}

// NewNode assembles a validator from its options. The active-set snapshot
// is opts.Validators as given; storage supplies only the last committed
// epoch here. Blacklist exclusions are not applied at construction: they
// reach the snapshot when a day finalizes.
func NewNode(opts Options, auth Authenticator) (*Node, error) {
	cfg := opts.Config
	cfg.Normalize()

	if err := opts.Store.InitGenesis(opts.Genesis); err != nil {
		return nil, err
	}

	engine := vdf.NewEngine(opts.Genesis, cfg.ProgressInterval)
	clock := vdf.NewAnomalyClock()
	day, err := dayproto.NewProtocol(engine, clock, opts.Store, opts.Validators,
		opts.Keys, opts.SignKey, cfg)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	feed := opts.Feed
	if feed == nil {
		feed = telemetry.NewServer()
	}
	engine.SetProgressFunc(func(done, total uint64) {
		metrics.VDFIterations.Add(float64(cfg.ProgressInterval))
	})

	n := &Node{
		cfg:              cfg,
		signKey:          opts.SignKey,
		keys:             opts.Keys,
		store:            opts.Store,
		seen:             storage.NewSeenCache(time.Duration(cfg.SeenCacheTTLMs) * time.Millisecond),
		idem:             storage.NewIdempotencyCache(time.Duration(cfg.SeenCacheTTLMs) * time.Millisecond),
		pool:             detection.NewPool(),
		engine:           engine,
		clock:            clock,
		day:              day,
		metrics:          metrics,
		feed:             feed,
		breakers:         retry.NewBreakerSet(int(cfg.CircuitBreakerMax), time.Duration(cfg.CircuitBreakerOpenMs)*time.Millisecond),
		auth:             auth,
		vs:               opts.Validators,
		epochs:           make(map[uint64]*consensus.Epoch),
		epochAttempts:    make(map[uint64]int),
		status:           make(map[common.Hash]*BatchStatus),
		batchEvents:      make(map[common.Hash][]types.EventFingerprint),
		blockBuffer:      make(map[uint64]*types.Block),
		membership:       make(map[common.Hash]types.MembershipChangeEvent),
		scheduledChanges: make(map[uint64][]types.MembershipChangeEvent),
		dayAdvanced:      make(chan uint64, 8),
		quit:             make(chan struct{}),
	}

	pub := opts.SignKey.Public().(ed25519.PublicKey)
	n.localId = types.ValidatorIdFromKey(pub)
	idx := opts.Validators.IndexOf(n.localId)
	if idx < 0 {
		return nil, conderrors.ErrVUnknownValidator
	}
	n.localIndex = uint32(idx)

	if last, found, err := opts.Store.LastCommittedEpoch(); err == nil && found {
		n.lastCommitted = last
		n.hasCommitted = true
	}
	return n, nil
}

// SetTransport attaches the peer transport. Must be called before Start.
func (n *Node) SetTransport(t Transport) {
	n.transport = t
}

// LocalId returns this validator's identifier.
func (n *Node) LocalId() types.ValidatorId {
	return n.localId
}

// CurrentDay returns the finalized day number.
func (n *Node) CurrentDay() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.day.CurrentDay()
}

// Shutdown stops background loops and zeroizes the anomaly clock.
func (n *Node) Shutdown() {
	close(n.quit)
	n.clock.Zeroize()
	n.feed.Close()
	log.Info(log.NodeMonitoring, "node shut down", "id", n.localId.Str())
}

// RunDayLoop drives the day-advancement protocol until the context ends.
// The VDF computation runs here, on its own goroutine, so the sequential
// hashing never starves agreement work.
func (n *Node) RunDayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.quit:
			return
		default:
		}

		msg, elapsed, err := n.buildLocalProof(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(log.DayMonitoring, "day proof failed", "err", err)
			continue
		}
		n.broadcast(types.KindDayProof, msg.Proof.DayNumber, msg)
		n.broadcast(types.KindCompletionTime, msg.Proof.DayNumber, &types.CompletionTimeMsg{
			DayNumber:  msg.Proof.DayNumber,
			DurationMs: uint64(elapsed.Milliseconds()),
		})
		n.feed.Publish(telemetry.Event{
			Code:   telemetry.Telemetry_Day_Proof_Found,
			Sender: n.localId.Hex(),
			Scope:  msg.Proof.DayNumber,
		})

		// wait for the federation to finalize this day
		select {
		case <-ctx.Done():
			return
		case <-n.quit:
			return
		case day := <-n.dayAdvanced:
			n.onDayFinalized(day)
		}
	}
}

func (n *Node) buildLocalProof(ctx context.Context) (*types.DayProofMsg, time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.day.BuildLocalProof(ctx)
}

// onDayFinalized opens the epoch for the new day and refreshes the
// validator-set snapshot against the blacklist.
func (n *Node) onDayFinalized(day uint64) {
	n.mu.Lock()
	n.applyMembership(day)
	excluded, err := detection.ActiveExclusions(n.store, day)
	if err == nil && len(excluded) > 0 {
		n.vs = n.vs.Without(day, excluded)
	}
	n.metrics.CurrentDay.Set(float64(day))
	n.metrics.CurrentDifficulty.Set(float64(n.day.Difficulty()))
	n.mu.Unlock()

	n.feed.Publish(telemetry.Event{
		Code:   telemetry.Telemetry_Day_Finalized,
		Sender: n.localId.Hex(),
		Scope:  day,
	})
	n.StartEpoch(day)
}

// proposerBatch drains the pending pool into a bounded batch for an epoch.
func (n *Node) proposerBatch(epoch uint64) *types.EventBatch {
	limit := int(n.cfg.MaxBatchEvents)
	events := n.pendingEvents
	if len(events) > limit {
		events = events[:limit]
		n.pendingEvents = n.pendingEvents[limit:]
	} else {
		n.pendingEvents = nil
	}
	return &types.EventBatch{
		Proposer: n.localId,
		Epoch:    epoch,
		Events:   events,
	}
}

// StartEpoch begins the consensus instance for an epoch, proposing the
// node's pending events.
func (n *Node) StartEpoch(epoch uint64) {
	n.mu.Lock()
	if _, running := n.epochs[epoch]; running {
		n.mu.Unlock()
		return
	}
	inst, err := consensus.NewEpoch(epoch, n.vs, n.localIndex, n.keys, n.cfg)
	if err != nil {
		n.mu.Unlock()
		log.Error(log.EpochMonitoring, "epoch setup failed", "epoch", epoch, "err", err)
		return
	}
	n.epochs[epoch] = inst
	n.epochAttempts[epoch]++
	batch := n.proposerBatch(epoch)
	out, err := inst.Start(batch)
	n.mu.Unlock()

	if err != nil {
		log.Error(log.EpochMonitoring, "epoch start failed", "epoch", epoch, "err", err)
		return
	}
	n.feed.Publish(telemetry.Event{
		Code:   telemetry.Telemetry_Epoch_Started,
		Sender: n.localId.Hex(),
		Scope:  epoch,
	})
	n.dispatchOutput(epoch, out)
	n.armEpochTimeout(epoch)
}

// ImportCanonicalProof backfills a canonical day proof learned during
// historical sync, verifying its quorum certificate.
func (n *Node) ImportCanonicalProof(proof *types.CanonicalDayProof) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.day.ImportCanonical(proof)
}

// armEpochTimeout schedules the soft timeout; on expiry the epoch is retried
// with exponential backoff, reusing delivered broadcasts. Halfway to the
// timeout, missing fragments of accepted slots are requested from peers.
func (n *Node) armEpochTimeout(epoch uint64) {
	timeout := time.Duration(n.cfg.EpochTimeoutMs) * time.Millisecond
	n.mu.Lock()
	attempt := n.epochAttempts[epoch]
	n.mu.Unlock()
	for i := 1; i < attempt; i++ {
		timeout *= 2
	}

	time.AfterFunc(timeout/2, func() {
		select {
		case <-n.quit:
			return
		default:
		}
		n.mu.Lock()
		inst, ok := n.epochs[epoch]
		if !ok || inst.State() == consensus.StateDone {
			n.mu.Unlock()
			return
		}
		requests := inst.RepairRequests()
		vs := n.vs
		n.mu.Unlock()
		for _, d := range requests {
			if target, ok := vs.ByIndex(int(d.Target)); ok {
				n.send(target.Id, d.Kind, epoch, d.Msg)
			}
		}
	})

	time.AfterFunc(timeout, func() {
		select {
		case <-n.quit:
			return
		default:
		}
		n.mu.Lock()
		inst, ok := n.epochs[epoch]
		if !ok || inst.State() == consensus.StateDone {
			n.mu.Unlock()
			return
		}
		// retry: fresh instance seeded with delivered payloads
		n.metrics.EpochTimeouts.Inc()
		delivered := inst.DeliveredPayloads()
		fresh, err := consensus.NewEpoch(epoch, n.vs, n.localIndex, n.keys, n.cfg)
		if err != nil {
			n.mu.Unlock()
			return
		}
		n.epochs[epoch] = fresh
		n.epochAttempts[epoch]++
		startOut, startErr := fresh.Start(n.proposerBatch(epoch))
		seedOut := fresh.SeedDelivered(delivered)
		n.mu.Unlock()

		n.feed.Publish(telemetry.Event{
			Code:   telemetry.Telemetry_Epoch_Timeout,
			Sender: n.localId.Hex(),
			Scope:  epoch,
		})
		if startErr == nil {
			n.dispatchOutput(epoch, startOut)
		}
		n.dispatchOutput(epoch, seedOut)
		n.armEpochTimeout(epoch)
	})
}
