package rbc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/types"
)

const (
	testN = 4
	testF = 1
)

func testPayload() []byte {
	batch := types.EventBatch{
		Epoch: 1,
		Events: []types.EventFingerprint{
			common.HexToHash("0x0a"),
			common.HexToHash("0x0b"),
		},
	}
	return codec.MustEncode(&batch)
}

func senderEnv(index uint32) types.Envelope {
	return types.Envelope{Sender: common.HexToHash("0x01"), Scope: 1}
}

func newInstances(t *testing.T, proposer uint32) []*Instance {
	t.Helper()
	instances := make([]*Instance, testN)
	for i := range instances {
		in, err := NewInstance(1, proposer, uint32(i), testN, testF)
		require.NoError(t, err)
		instances[i] = in
	}
	return instances
}

// runBroadcast drives a full happy-path broadcast and returns the delivered
// payloads per node.
func runBroadcast(t *testing.T, payload []byte) [][]byte {
	t.Helper()
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, payload)
	require.NoError(t, err)

	delivered := make([][]byte, testN)
	var echoes []types.RBCEcho
	echoSenders := []uint32{}
	for i, in := range instances {
		res, err := in.HandlePropose(0, senderEnv(0), &proposals[i])
		require.NoError(t, err)
		require.NotNil(t, res.Echo)
		echoes = append(echoes, *res.Echo)
		echoSenders = append(echoSenders, uint32(i))
	}

	var readys []types.RBCReady
	readySenders := []uint32{}
	for j, echo := range echoes {
		for i, in := range instances {
			res, err := in.HandleEcho(echoSenders[j], senderEnv(echoSenders[j]), &echo)
			require.NoError(t, err)
			if res.Ready != nil {
				readys = append(readys, *res.Ready)
				readySenders = append(readySenders, uint32(i))
			}
			if res.Delivered != nil {
				delivered[i] = res.Delivered
			}
		}
	}
	for j, ready := range readys {
		for i, in := range instances {
			res, err := in.HandleReady(readySenders[j], &ready)
			require.NoError(t, err)
			if res.Delivered != nil {
				delivered[i] = res.Delivered
			}
		}
	}
	return delivered
}

func TestHappyPathAllDeliverSamePayload(t *testing.T) {
	payload := testPayload()
	delivered := runBroadcast(t, payload)
	for i, d := range delivered {
		require.NotNil(t, d, "node %d did not deliver", i)
		require.Equal(t, payload, d)
	}
}

func TestDuplicateEchoCountsOnce(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	// node 3 receives node 1's echo five times; quorum is 2f+1 = 3 distinct
	res, err := instances[1].HandlePropose(0, senderEnv(0), &proposals[1])
	require.NoError(t, err)
	echo := *res.Echo

	target := instances[3]
	for i := 0; i < 5; i++ {
		res, err := target.HandleEcho(1, senderEnv(1), &echo)
		require.NoError(t, err)
		require.Nil(t, res.Ready, "duplicate echoes must not reach quorum")
	}
}

func TestEquivocatingProposerEmitsEvidence(t *testing.T) {
	instances := newInstances(t, 0)

	payloadA := testPayload()
	batchB := types.EventBatch{Epoch: 1, Events: []types.EventFingerprint{common.HexToHash("0xff")}}
	payloadB := codec.MustEncode(&batchB)

	proposalsA, err := MakeProposals(1, 0, testN, testF, payloadA)
	require.NoError(t, err)
	proposalsB, err := MakeProposals(1, 0, testN, testF, payloadB)
	require.NoError(t, err)

	target := instances[1]
	_, err = target.HandlePropose(0, senderEnv(0), &proposalsA[1])
	require.NoError(t, err)

	res, err := target.HandlePropose(0, senderEnv(0), &proposalsB[1])
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	require.Equal(t, types.ReasonEquivocation, res.Evidence[0].Reason)
	require.False(t, target.Delivered())
}

func TestInvalidJustificationRejected(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	bad := proposals[2]
	bad.Fragment = append([]byte{}, bad.Fragment...)
	bad.Fragment[0] ^= 0x01

	res, err := instances[2].HandlePropose(0, senderEnv(0), &bad)
	require.Error(t, err)
	require.Len(t, res.Evidence, 1)
}

func TestNoDeliveryWithoutReadyQuorum(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	target := instances[3]
	_, err = target.HandlePropose(0, senderEnv(0), &proposals[3])
	require.NoError(t, err)

	digest := proposals[0].BatchDigest
	ready := types.RBCReady{Epoch: 1, ProposerIndex: 0, BatchDigest: digest}
	// 2f readys are not enough
	for _, sender := range []uint32{1, 2} {
		res, err := target.HandleReady(sender, &ready)
		require.NoError(t, err)
		require.Nil(t, res.Delivered)
	}
	require.False(t, target.Delivered())
}

func TestReadyAmplificationAtFPlusOne(t *testing.T) {
	instances := newInstances(t, 0)
	target := instances[3]

	digest := common.HexToHash("0xd1")
	ready := types.RBCReady{Epoch: 1, ProposerIndex: 0, BatchDigest: digest}

	res, err := target.HandleReady(0, &ready)
	require.NoError(t, err)
	require.Nil(t, res.Ready, "one ready must not amplify")

	res, err = target.HandleReady(1, &ready)
	require.NoError(t, err)
	require.NotNil(t, res.Ready, "f+1 readys amplify our own ready")
}

func TestNoDeliveryWithFewerThanKFragments(t *testing.T) {
	// k = n - 2f = 2; give the node just one fragment plus a ready quorum
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	target := instances[3]
	_, err = target.HandlePropose(0, senderEnv(0), &proposals[3])
	require.NoError(t, err)

	digest := proposals[0].BatchDigest
	ready := types.RBCReady{Epoch: 1, ProposerIndex: 0, BatchDigest: digest}
	for _, sender := range []uint32{0, 1, 2} {
		res, err := target.HandleReady(sender, &ready)
		require.NoError(t, err)
		require.Nil(t, res.Delivered, "k-1 fragments must not deliver")
	}
	require.False(t, target.Delivered())
}

func TestDeliveryWithExactlyKFragmentsAndQuorum(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	target := instances[3]
	_, err = target.HandlePropose(0, senderEnv(0), &proposals[3])
	require.NoError(t, err)

	// one echo gives the second fragment: exactly k = 2 held
	res, err := instances[1].HandlePropose(0, senderEnv(0), &proposals[1])
	require.NoError(t, err)
	_, err = target.HandleEcho(1, senderEnv(1), res.Echo)
	require.NoError(t, err)

	digest := proposals[0].BatchDigest
	ready := types.RBCReady{Epoch: 1, ProposerIndex: 0, BatchDigest: digest}
	var delivered []byte
	for _, sender := range []uint32{0, 1, 2} {
		res, err := target.HandleReady(sender, &ready)
		require.NoError(t, err)
		if res.Delivered != nil {
			delivered = res.Delivered
		}
	}
	require.Equal(t, testPayload(), delivered)
	require.True(t, target.Delivered())
}

func TestFragmentRepairAccessors(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	target := instances[2]
	_, err = target.HandlePropose(0, senderEnv(0), &proposals[2])
	require.NoError(t, err)

	missing := target.MissingFragments()
	require.Len(t, missing, testN-1)

	frag, ok := target.Fragment(2)
	require.True(t, ok)
	require.Equal(t, proposals[2].Fragment, frag.Fragment)
	require.Equal(t, proposals[2].BatchDigest, frag.BatchDigest)
	require.Equal(t, proposals[2].MerkleRoot, frag.MerkleRoot)

	_, ok = target.Fragment(0)
	require.False(t, ok)
}

func TestRepairPathDelivers(t *testing.T) {
	instances := newInstances(t, 0)
	proposals, err := MakeProposals(1, 0, testN, testF, testPayload())
	require.NoError(t, err)

	// node 3 missed every echo; it only has its own propose fragment plus a
	// ready quorum, and repairs fragment 1 from a peer
	target := instances[3]
	_, err = target.HandlePropose(0, senderEnv(0), &proposals[3])
	require.NoError(t, err)

	digest := proposals[0].BatchDigest
	ready := types.RBCReady{Epoch: 1, ProposerIndex: 0, BatchDigest: digest}
	for _, sender := range []uint32{0, 1, 2} {
		_, err := target.HandleReady(sender, &ready)
		require.NoError(t, err)
	}
	require.False(t, target.Delivered())

	// peer 1 serves its fragment
	_, err = instances[1].HandlePropose(0, senderEnv(0), &proposals[1])
	require.NoError(t, err)
	repair, ok := instances[1].Fragment(1)
	require.True(t, ok)

	res, err := target.HandleRepair(repair)
	require.NoError(t, err)
	require.Equal(t, testPayload(), res.Delivered)
	require.True(t, target.Delivered())
}
