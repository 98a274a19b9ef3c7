package types

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/ed25519"
)

func randomFingerprint(t *testing.T) EventFingerprint {
	t.Helper()
	var buf [32]byte
	_, err := rand.Read(buf[:])
	require.NoError(t, err)
	return common.BytesToHash(buf[:])
}

func TestSortUniqueEvents(t *testing.T) {
	a := common.HexToHash("0x0a")
	b := common.HexToHash("0x0b")
	c := common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	out := SortUniqueEvents([]EventFingerprint{c, b, a, b, a})
	require.Equal(t, []EventFingerprint{a, b, c}, out)
}

func TestSortUniqueEventsDeterministic(t *testing.T) {
	events := make([]EventFingerprint, 20)
	for i := range events {
		events[i] = randomFingerprint(t)
	}
	forward := SortUniqueEvents(events)

	reversed := make([]EventFingerprint, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}
	require.Equal(t, forward, SortUniqueEvents(reversed))
}

func TestQuorumCertificateBitmap(t *testing.T) {
	qc := QuorumCertificate{SignerBitmap: NewSignerBitmap(10)}
	require.Equal(t, 0, qc.Popcount())

	qc.SetSigner(0)
	qc.SetSigner(3)
	qc.SetSigner(9)
	require.Equal(t, 3, qc.Popcount())
	require.True(t, qc.HasSigner(3))
	require.False(t, qc.HasSigner(4))
	require.False(t, qc.HasSigner(100))
}

func TestBatchDigestStable(t *testing.T) {
	batch := EventBatch{
		Epoch:  3,
		Events: []EventFingerprint{common.HexToHash("0x01"), common.HexToHash("0x02")},
	}
	require.Equal(t, batch.Digest(), batch.Digest())

	other := batch
	other.Epoch = 4
	require.NotEqual(t, batch.Digest(), other.Digest())
}

func TestDayProofSigningDigestIgnoresSignature(t *testing.T) {
	proof := DayProof{DayNumber: 1, Difficulty: 1000}
	before := proof.SigningDigest()
	proof.ProposerSignature[0] = 0xaa
	require.Equal(t, before, proof.SigningDigest())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Sender:  common.HexToHash("0x11"),
		Scope:   9,
		Kind:    KindRBCReady,
		Payload: codec.MustEncode(&RBCReady{Epoch: 9, ProposerIndex: 2, BatchDigest: common.HexToHash("0x22")}),
	}
	enc, err := codec.Encode(&env)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, codec.Decode(enc, &out))
	require.Equal(t, env.Digest(), out.Digest())

	var ready RBCReady
	require.NoError(t, codec.Decode(out.Payload, &ready))
	require.Equal(t, uint32(2), ready.ProposerIndex)
}

func TestValidatorSetOrdering(t *testing.T) {
	members := make([]Validator, 4)
	for i := range members {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		members[i] = NewValidator(pub, uint32(i+1))
	}
	vs := NewValidatorSet(0, members)

	require.Equal(t, 4, vs.Len())
	require.Equal(t, 1, vs.F())
	require.Equal(t, 3, vs.Threshold())
	for i := 1; i < vs.Len(); i++ {
		require.True(t, vs.Validators[i-1].Id.Compare(vs.Validators[i].Id) < 0)
	}
	for i, v := range vs.Validators {
		require.Equal(t, i, vs.IndexOf(v.Id))
	}
}

func TestValidatorSetWithout(t *testing.T) {
	members := make([]Validator, 4)
	for i := range members {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		members[i] = NewValidator(pub, uint32(i+1))
	}
	vs := NewValidatorSet(0, members)

	excluded := map[ValidatorId]bool{members[0].Id: true}
	next := vs.Without(5, excluded)
	require.Equal(t, 3, next.Len())
	require.Equal(t, uint64(5), next.Day)
	require.False(t, next.Contains(members[0].Id))
	// the original snapshot is untouched
	require.True(t, vs.Contains(members[0].Id))
}

func TestBallotFingerprintDistinct(t *testing.T) {
	ballot := BallotEvent{Target: common.HexToHash("0xaa"), Reason: ReasonEquivocation, EffectiveDay: 12}
	unb := ballot
	unb.Unblacklist = true
	require.NotEqual(t, ballot.Fingerprint(), unb.Fingerprint())
}

func TestConfigNormalize(t *testing.T) {
	var c Config
	c.Normalize()
	require.Equal(t, uint64(86_400_000), c.DifficultyInitial)
	require.Equal(t, uint32(120_000), c.EpochTimeoutMs)
	require.Equal(t, uint32(2), c.ThresholdNum)

	tiny := TinyConfig()
	require.Equal(t, uint64(1_000), tiny.DifficultyInitial)
	require.Equal(t, uint32(4), tiny.MinValidators)
}
