package node

import (
	"sync"

	"github.com/chorus-fed/conductor/types"
)

// Transport is the peer-to-peer boundary. The core does not prescribe a
// wire implementation; it only requires gossip broadcast and unicast for
// fragment repair. Implementations deliver envelopes to the registered
// handler of each destination.
type Transport interface {
	// Broadcast gossips an envelope to every other validator.
	Broadcast(env *types.Envelope) error
	// Send unicasts an envelope to one validator.
	Send(target types.ValidatorId, env *types.Envelope) error
}

// EnvelopeHandler consumes envelopes arriving from the transport.
type EnvelopeHandler interface {
	DeliverEnvelope(env *types.Envelope)
}

// LoopbackNetwork connects nodes in-process for tests and simulation.
// Sends enqueue; Drain dispatches in FIFO order so delivery never re-enters
// a sending node's critical section.
type LoopbackNetwork struct {
	mu       sync.Mutex
	handlers map[types.ValidatorId]EnvelopeHandler
	queue    []loopbackDelivery
}

type loopbackDelivery struct {
	target types.ValidatorId
	env    *types.Envelope
}

// NewLoopbackNetwork creates an empty in-process network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{handlers: make(map[types.ValidatorId]EnvelopeHandler)}
}

// Join registers a node and returns its transport endpoint.
func (n *LoopbackNetwork) Join(id types.ValidatorId, handler EnvelopeHandler) *LoopbackTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[id] = handler
	return &LoopbackTransport{self: id, net: n}
}

// Drain dispatches queued deliveries until the network is quiet.
func (n *LoopbackNetwork) Drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		d := n.queue[0]
		n.queue = n.queue[1:]
		handler := n.handlers[d.target]
		n.mu.Unlock()

		if handler != nil {
			handler.DeliverEnvelope(d.env)
		}
	}
}

// Drop removes a node from the network, simulating a crashed peer.
func (n *LoopbackNetwork) Drop(id types.ValidatorId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// LoopbackTransport is one node's endpoint on a LoopbackNetwork.
type LoopbackTransport struct {
	self types.ValidatorId
	net  *LoopbackNetwork
}

// Broadcast enqueues the envelope for every other registered node.
func (t *LoopbackTransport) Broadcast(env *types.Envelope) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	for id := range t.net.handlers {
		if id != t.self {
			t.net.queue = append(t.net.queue, loopbackDelivery{target: id, env: env})
		}
	}
	return nil
}

// Send enqueues the envelope for a single node.
func (t *LoopbackTransport) Send(target types.ValidatorId, env *types.Envelope) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.queue = append(t.net.queue, loopbackDelivery{target: target, env: env})
	return nil
}
