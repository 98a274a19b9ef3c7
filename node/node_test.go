package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/ed25519"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/thresh"
	"github.com/chorus-fed/conductor/types"
	"github.com/chorus-fed/conductor/vdf"
)

const (
	testN      = 4
	testF      = 1
	testCaller = "relay"
)

type cluster struct {
	t     *testing.T
	net   *LoopbackNetwork
	nodes []*Node
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	dealing, err := thresh.Deal(testN, 2*testF+1, []byte("cluster seed"))
	require.NoError(t, err)

	keys := make(map[types.ValidatorId]ed25519.PrivateKey, testN)
	members := make([]types.Validator, testN)
	for i := 0; i < testN; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		members[i] = types.NewValidator(pub, uint32(i+1))
		keys[members[i].Id] = priv
	}
	vs := types.NewValidatorSet(0, members)

	c := &cluster{t: t, net: NewLoopbackNetwork()}
	auth := NewStaticAuthenticator(testCaller)
	for i := 0; i < testN; i++ {
		v := vs.Validators[i]
		ps, err := storage.NewMemoryPersistenceStore()
		require.NoError(t, err)
		t.Cleanup(func() { ps.Close() })

		n, err := NewNode(Options{
			Config:     types.TinyConfig(),
			Genesis:    vdf.GenesisSeed,
			Validators: vs,
			SignKey:    keys[v.Id],
			Keys:       thresh.ContextFromDealing(dealing, int(v.ShareIndex-1)),
			Store:      storage.NewStore(ps),
		}, auth)
		require.NoError(t, err)
		n.SetTransport(c.net.Join(n.LocalId(), n))
		c.nodes = append(c.nodes, n)
		t.Cleanup(n.Shutdown)
	}
	return c
}

// advanceDay runs the day-advancement phase synchronously: every node
// computes and broadcasts its proof, the network drains, and each node's
// finalization opens the next epoch.
func (c *cluster) advanceDay() uint64 {
	ctx := context.Background()
	for _, n := range c.nodes {
		msg, elapsed, err := n.buildLocalProof(ctx)
		require.NoError(c.t, err)
		n.broadcast(types.KindDayProof, msg.Proof.DayNumber, msg)
		n.broadcast(types.KindCompletionTime, msg.Proof.DayNumber, &types.CompletionTimeMsg{
			DayNumber:  msg.Proof.DayNumber,
			DurationMs: uint64(elapsed.Milliseconds()),
		})
	}
	c.net.Drain()

	var day uint64
	for i, n := range c.nodes {
		select {
		case day = <-n.dayAdvanced:
		default:
			c.t.Fatalf("node %d did not finalize the day", i)
		}
	}
	for _, n := range c.nodes {
		n.onDayFinalized(day)
	}
	c.net.Drain()
	return day
}

func TestClusterDayAndEpochCommit(t *testing.T) {
	c := newCluster(t)

	// submit one batch per node before the day turns
	batchIds := make([]common.Hash, testN)
	fps := make([]types.EventFingerprint, testN)
	for i, n := range c.nodes {
		fps[i] = common.Blake2Hash([]byte{byte(i)})
		id, err := n.SubmitEventBatch(testCaller, []types.EventFingerprint{fps[i]}, NewBatchNonce(), "key-"+string(rune('a'+i)))
		require.NoError(t, err)
		batchIds[i] = id
	}

	day := c.advanceDay()
	require.Equal(t, uint64(1), day)
	for _, n := range c.nodes {
		require.Equal(t, uint64(1), n.CurrentDay())
	}

	// every node committed the same block for epoch 1
	reference, err := c.nodes[0].GetBlock(testCaller, 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, reference.QC.Popcount(), 2*testF+1)
	require.GreaterOrEqual(t, len(reference.ProposerSet), testN-testF)
	for i := 1; i < testN; i++ {
		block, err := c.nodes[i].GetBlock(testCaller, 1)
		require.NoError(t, err, "node %d has no block", i)
		require.Equal(t, reference.Digest(), block.Digest(), "node %d diverged", i)
		require.Equal(t, reference.Events, block.Events)
	}

	// statuses resolve for every batch whose events made the block
	included := make(map[types.EventFingerprint]bool)
	for _, fp := range reference.Events {
		included[fp] = true
	}
	committed := 0
	for i, n := range c.nodes {
		status, err := n.GetConsensusStatus(testCaller, batchIds[i])
		require.NoError(t, err)
		if included[fps[i]] {
			require.Equal(t, StatusCommitted, status.State, "node %d", i)
			require.Equal(t, uint64(1), status.Epoch)
			committed++
		}
	}
	require.GreaterOrEqual(t, committed, testN-testF)

	// canonical day proof is servable
	proof, err := c.nodes[0].GetDayProof(testCaller, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), proof.Proof.DayNumber)
}

func TestSubmitIdempotency(t *testing.T) {
	c := newCluster(t)
	n := c.nodes[0]

	events := []types.EventFingerprint{common.Blake2Hash([]byte("dup"))}
	first, err := n.SubmitEventBatch(testCaller, events, NewBatchNonce(), "same-key")
	require.NoError(t, err)
	second, err := n.SubmitEventBatch(testCaller, events, NewBatchNonce(), "same-key")
	require.NoError(t, err)
	require.Equal(t, first, second)

	// exactly one copy of the fingerprint entered the pending pool
	n.mu.Lock()
	count := 0
	for _, fp := range n.pendingEvents {
		if fp == events[0] {
			count++
		}
	}
	n.mu.Unlock()
	require.Equal(t, 1, count)
}

func TestSubmitAuthorization(t *testing.T) {
	c := newCluster(t)
	n := c.nodes[0]
	events := []types.EventFingerprint{common.Blake2Hash([]byte("x"))}

	_, err := n.SubmitEventBatch("", events, NewBatchNonce(), "k1")
	require.ErrorIs(t, err, conderrors.ErrBUnauthenticated)

	_, err = n.SubmitEventBatch("stranger", events, NewBatchNonce(), "k2")
	require.ErrorIs(t, err, conderrors.ErrBPermissionDenied)

	_, err = n.GetBlock("stranger", 1)
	require.ErrorIs(t, err, conderrors.ErrBPermissionDenied)
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	c := newCluster(t)
	n := c.nodes[0]

	huge := make([]types.EventFingerprint, types.TinyConfig().MaxBatchEvents+1)
	_, err := n.SubmitEventBatch(testCaller, huge, NewBatchNonce(), "k")
	require.ErrorIs(t, err, conderrors.ErrBRejected)

	_, err = n.SubmitEventBatch(testCaller, nil, NewBatchNonce(), "k")
	require.ErrorIs(t, err, conderrors.ErrBRejected)
}

func TestReplayedEnvelopeDropped(t *testing.T) {
	c := newCluster(t)

	env, err := c.nodes[1].wrap(types.KindRBCReady, 1, &types.RBCReady{Epoch: 1})
	require.NoError(t, err)

	c.nodes[0].DeliverEnvelope(env)
	// second delivery hits the seen cache; must be inert
	c.nodes[0].DeliverEnvelope(env)

	c.nodes[0].mu.Lock()
	_, exists := c.nodes[0].epochs[1]
	c.nodes[0].mu.Unlock()
	require.True(t, exists, "first delivery processed")

	c.nodes[0].mu.Lock()
	_, _, err = c.nodes[0].verifyEnvelope(env)
	c.nodes[0].mu.Unlock()
	require.ErrorIs(t, err, conderrors.ErrVReplay, "replay rejected at the gossip boundary")
}

func TestUnknownSenderRejected(t *testing.T) {
	c := newCluster(t)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	stranger := &Node{signKey: priv, localId: common.Blake2Hash([]byte("stranger"))}
	env, err := stranger.wrap(types.KindRBCReady, 1, &types.RBCReady{Epoch: 1})
	require.NoError(t, err)

	c.nodes[0].DeliverEnvelope(env)
	c.nodes[0].mu.Lock()
	_, exists := c.nodes[0].epochs[1]
	c.nodes[0].mu.Unlock()
	require.False(t, exists)
}

func TestGetBlockNotFound(t *testing.T) {
	c := newCluster(t)
	_, err := c.nodes[0].GetBlock(testCaller, 99)
	require.ErrorIs(t, err, conderrors.ErrDNotFound)
	_, err = c.nodes[0].GetDayProof(testCaller, 99)
	require.ErrorIs(t, err, conderrors.ErrDNotFound)
}

func TestHistoricalSyncImport(t *testing.T) {
	c := newCluster(t)
	c.advanceDay()

	canonical, err := c.nodes[0].GetDayProof(testCaller, 1)
	require.NoError(t, err)

	// import verifies the QC and is idempotent against the existing record
	require.NoError(t, c.nodes[0].ImportCanonicalProof(canonical))

	// a tampered record is rejected
	bad := *canonical
	bad.Proof.Output = common.Blake2Hash([]byte("forged"))
	require.Error(t, c.nodes[0].ImportCanonicalProof(&bad))
}
