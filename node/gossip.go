package node

import (
	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/consensus"
	"github.com/chorus-fed/conductor/detection"
	"github.com/chorus-fed/conductor/ed25519"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/telemetry"
	"github.com/chorus-fed/conductor/types"
)

// wrap encodes, signs, and addresses a message for the wire.
func (n *Node) wrap(kind uint8, scope uint64, msg interface{}) (*types.Envelope, error) {
	payload, err := codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	env := &types.Envelope{
		Sender:  n.localId,
		Scope:   scope,
		Kind:    kind,
		Payload: payload,
	}
	sig := ed25519.Sign(n.signKey, env.Digest().Bytes())
	copy(env.Signature[:], sig)
	return env, nil
}

func (n *Node) broadcast(kind uint8, scope uint64, msg interface{}) {
	if n.transport == nil {
		return
	}
	env, err := n.wrap(kind, scope, msg)
	if err != nil {
		log.Error(log.NetMonitoring, "wrap failed", "kind", types.KindString(kind), "err", err)
		return
	}
	if err := n.transport.Broadcast(env); err != nil {
		log.Warn(log.NetMonitoring, "broadcast failed", "kind", types.KindString(kind), "err", err)
	}
}

func (n *Node) send(target types.ValidatorId, kind uint8, scope uint64, msg interface{}) {
	if n.transport == nil {
		return
	}
	breaker := n.breakers.For(target)
	if !breaker.Allow() {
		return
	}
	env, err := n.wrap(kind, scope, msg)
	if err != nil {
		return
	}
	if err := n.transport.Send(target, env); err != nil {
		breaker.Failure()
		n.metrics.BreakersOpen.Set(float64(n.breakers.OpenCount()))
		return
	}
	breaker.Success()
}

// dispatchOutput carries an orchestrator output to the network and the
// local evidence pool, and commits an assembled block.
func (n *Node) dispatchOutput(epoch uint64, out consensus.Output) {
	for _, b := range out.Broadcast {
		n.broadcast(b.Kind, epoch, b.Msg)
	}
	for _, d := range out.Directed {
		n.mu.Lock()
		target, ok := n.vs.ByIndex(int(d.Target))
		n.mu.Unlock()
		if ok {
			n.send(target.Id, d.Kind, epoch, d.Msg)
		}
	}
	for _, ev := range out.Evidence {
		n.recordEvidence(ev)
	}
	if out.Block != nil {
		n.commitBlock(out.Block)
	}
}

// DeliverEnvelope is the transport ingress: authentication, replay and
// blacklist filtering, then routing by kind.
func (n *Node) DeliverEnvelope(env *types.Envelope) {
	n.mu.Lock()
	sender, senderIdx, err := n.verifyEnvelope(env)
	n.mu.Unlock()
	if err != nil {
		n.metrics.PeerRejected.WithLabelValues(conderrors.ErrorCode(err)).Inc()
		log.Debug(log.NetMonitoring, "envelope rejected",
			"kind", types.KindString(env.Kind), "sender", env.Sender.Str(), "err", err)
		return
	}
	n.route(sender, senderIdx, env)
}

// verifyEnvelope enforces the peer-message contract: known sender, no
// blacklist match, valid signature, no seen-cache hit. Caller holds the
// lock.
func (n *Node) verifyEnvelope(env *types.Envelope) (types.Validator, uint32, error) {
	idx := n.vs.IndexOf(env.Sender)
	if idx < 0 {
		return types.Validator{}, 0, conderrors.ErrVUnknownValidator
	}
	sender, _ := n.vs.ByIndex(idx)

	excluded, err := detection.ActiveExclusions(n.store, n.day.CurrentDay())
	if err == nil && excluded[env.Sender] {
		return types.Validator{}, 0, conderrors.ErrVBlacklisted
	}
	if !ed25519.Verify(sender.Ed25519Key[:], env.Digest().Bytes(), env.Signature[:]) {
		return types.Validator{}, 0, conderrors.ErrVInvalidSignature
	}
	if n.seen.Seen(env.Sender, env.Digest()) {
		return types.Validator{}, 0, conderrors.ErrVReplay
	}
	return sender, uint32(idx), nil
}

// route decodes the payload and hands it to the owning subsystem.
func (n *Node) route(sender types.Validator, senderIdx uint32, env *types.Envelope) {
	switch env.Kind {
	case types.KindDayProof:
		var msg types.DayProofMsg
		if codec.Decode(env.Payload, &msg) != nil {
			return
		}
		n.handleDayProof(sender, &msg)
	case types.KindCompletionTime:
		var msg types.CompletionTimeMsg
		if codec.Decode(env.Payload, &msg) != nil {
			return
		}
		n.mu.Lock()
		n.day.HandleCompletionTime(&msg)
		n.mu.Unlock()
	case types.KindEvidence:
		var msg types.Evidence
		if codec.Decode(env.Payload, &msg) != nil {
			return
		}
		n.recordEvidence(msg)
	case types.KindBallot:
		var msg types.BallotMsg
		if codec.Decode(env.Payload, &msg) != nil {
			return
		}
		n.pool.RegisterBallot(msg.Ballot)
	case types.KindMembership:
		var msg types.MembershipMsg
		if codec.Decode(env.Payload, &msg) != nil {
			return
		}
		n.mu.Lock()
		n.registerMembership(msg.Change)
		n.mu.Unlock()
	default:
		n.routeEpoch(sender, senderIdx, env)
	}
}

func (n *Node) handleDayProof(sender types.Validator, msg *types.DayProofMsg) {
	n.mu.Lock()
	canonical, evidence, err := n.day.HandleDayProof(sender, msg)
	n.mu.Unlock()

	for _, ev := range evidence {
		n.recordEvidence(ev)
	}
	if err != nil {
		log.Debug(log.DayMonitoring, "day proof rejected", "sender", sender.Id.Str(), "err", err)
	}
	if canonical != nil {
		n.metrics.DaysFinalized.Inc()
		n.dayAdvanced <- canonical.Proof.DayNumber
	}
}

// routeEpoch pumps an agreement message into its epoch instance.
func (n *Node) routeEpoch(sender types.Validator, senderIdx uint32, env *types.Envelope) {
	n.mu.Lock()
	inst, ok := n.epochs[env.Scope]
	if !ok {
		// participate in epochs we did not open ourselves, as long as they
		// are within the pipelining window
		current := n.day.CurrentDay()
		if env.Scope > current+2 {
			n.mu.Unlock()
			return
		}
		var err error
		inst, err = consensus.NewEpoch(env.Scope, n.vs, n.localIndex, n.keys, n.cfg)
		if err != nil {
			n.mu.Unlock()
			return
		}
		n.epochs[env.Scope] = inst
	}

	var out consensus.Output
	var err error
	switch env.Kind {
	case types.KindRBCPropose:
		var msg types.RBCPropose
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleRBCPropose(senderIdx, *env, &msg)
		}
	case types.KindRBCEcho:
		var msg types.RBCEcho
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleRBCEcho(senderIdx, *env, &msg)
		}
	case types.KindRBCReady:
		var msg types.RBCReady
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleRBCReady(senderIdx, &msg)
		}
	case types.KindBBABVal:
		var msg types.BBABVal
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleBVal(senderIdx, &msg)
		}
	case types.KindBBAAux:
		var msg types.BBAAux
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleAux(senderIdx, &msg)
		}
	case types.KindCoinShare:
		var msg types.CoinShareMsg
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleCoinShare(senderIdx, &msg)
		}
	case types.KindDecShare:
		var msg types.DecShareMsg
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleDecShare(senderIdx, &msg)
		}
	case types.KindBlockShare:
		var msg types.BlockShareMsg
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleBlockShare(senderIdx, &msg)
		}
	case types.KindFragmentRequest:
		var msg types.FragmentRequest
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleFragmentRequest(senderIdx, &msg)
		}
	case types.KindFragmentResponse:
		var msg types.RBCEcho
		if err = codec.Decode(env.Payload, &msg); err == nil {
			out, err = inst.HandleFragmentResponse(&msg)
		}
	default:
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if err != nil {
		log.Debug(log.NetMonitoring, "epoch message rejected",
			"kind", types.KindString(env.Kind), "err", err)
	}
	n.dispatchOutput(env.Scope, out)
}

// recordEvidence stores an evidence record and, when the ballot threshold
// is met, proposes a blacklist ballot through the pipeline.
func (n *Node) recordEvidence(ev types.Evidence) {
	if !n.pool.Add(ev) {
		return
	}
	n.metrics.EvidenceEmitted.WithLabelValues(types.ReasonString(ev.Reason)).Inc()
	n.feed.Publish(telemetry.Event{
		Code:   telemetry.Telemetry_Evidence_Emitted,
		Sender: n.localId.Hex(),
		Scope:  ev.Scope,
		Detail: types.ReasonString(ev.Reason),
	})
	// share with peers so they can corroborate
	n.broadcast(types.KindEvidence, ev.Scope, &ev)

	if n.pool.ReadyForBallot(ev.Accused) {
		n.mu.Lock()
		day := n.day.CurrentDay()
		n.mu.Unlock()
		ballot, ok := n.pool.MakeBallot(ev.Accused, day)
		if !ok {
			return
		}
		n.mu.Lock()
		n.pendingEvents = append(n.pendingEvents, ballot.Fingerprint())
		n.mu.Unlock()
		n.broadcast(types.KindBallot, day, &types.BallotMsg{Ballot: ballot})
		n.feed.Publish(telemetry.Event{
			Code:   telemetry.Telemetry_Ballot_Proposed,
			Sender: n.localId.Hex(),
			Scope:  day,
			Detail: ballot.Target.Hex(),
		})
		log.Info(log.DetectMonitoring, "ballot proposed",
			"target", ballot.Target.Str(), "effective_day", ballot.EffectiveDay)
	}
}
