package acs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeliverFeedsOne(t *testing.T) {
	a := New(1, 4, 1)

	inputs := a.NoteDeliver(2, []byte("batch-2"))
	require.Equal(t, []Input{{ProposerIndex: 2, Value: true}}, inputs)

	// duplicate delivery is inert
	require.Nil(t, a.NoteDeliver(2, []byte("batch-2")))
}

func TestZeroFloodAfterQuorumOfOnes(t *testing.T) {
	a := New(1, 4, 1)

	a.NoteDeliver(0, []byte("b0"))
	a.NoteDeliver(1, []byte("b1"))
	a.NoteDeliver(3, []byte("b3"))

	require.Nil(t, a.NoteDecide(0, true))
	require.Nil(t, a.NoteDecide(1, true))
	// third one reaches n-f: slot 2 (no input yet) gets a zero
	inputs := a.NoteDecide(3, true)
	require.Equal(t, []Input{{ProposerIndex: 2, Value: false}}, inputs)

	// the flood fires once
	require.Nil(t, a.NoteDecide(2, false))
}

func TestOutputWaitsForAllDecisions(t *testing.T) {
	a := New(1, 4, 1)
	for _, i := range []uint32{0, 1, 3} {
		a.NoteDeliver(i, []byte{byte(i)})
		a.NoteDecide(i, true)
	}
	_, ok := a.Output()
	require.False(t, ok, "output before every BBA terminated")

	a.NoteDecide(2, false)
	subset, ok := a.Output()
	require.True(t, ok)
	require.Equal(t, []uint32{0, 1, 3}, subset)
}

func TestOutputWaitsForAcceptedDeliveries(t *testing.T) {
	// slot 2 decided 1 (other nodes delivered it) but our RBC has not
	// reconstructed yet; output must wait for the repair path
	a := New(1, 4, 1)
	for _, i := range []uint32{0, 1, 3} {
		a.NoteDeliver(i, []byte{byte(i)})
		a.NoteDecide(i, true)
	}
	a.NoteDecide(2, true)

	_, ok := a.Output()
	require.False(t, ok)

	a.NoteDeliver(2, []byte{2})
	subset, ok := a.Output()
	require.True(t, ok)
	require.Equal(t, []uint32{0, 1, 2, 3}, subset)

	payload, ok := a.Payload(2)
	require.True(t, ok)
	require.Equal(t, []byte{2}, payload)
}

func TestSubsetSizeAtLeastNMinusF(t *testing.T) {
	a := New(1, 4, 1)
	// silent proposer 2: three deliveries, three ones, one zero
	for _, i := range []uint32{0, 1, 3} {
		a.NoteDeliver(i, []byte{byte(i)})
	}
	for _, i := range []uint32{0, 1, 3} {
		a.NoteDecide(i, true)
	}
	a.NoteDecide(2, false)

	subset, ok := a.Output()
	require.True(t, ok)
	require.GreaterOrEqual(t, len(subset), 3)
	require.NotContains(t, subset, uint32(2))
}
