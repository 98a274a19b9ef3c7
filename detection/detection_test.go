package detection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/types"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return storage.NewStore(ps)
}

func TestAddDeduplicates(t *testing.T) {
	p := NewPool()
	ev := types.Evidence{Reason: types.ReasonEquivocation, Accused: common.HexToHash("0x01"), Scope: 3}
	require.True(t, p.Add(ev))
	require.False(t, p.Add(ev))
}

func TestEquivocationReadyAfterOneRecord(t *testing.T) {
	p := NewPool()
	accused := common.HexToHash("0x01")
	require.False(t, p.ReadyForBallot(accused))

	p.Add(types.Evidence{Reason: types.ReasonEquivocation, Accused: accused, Scope: 1})
	require.True(t, p.ReadyForBallot(accused))
}

func TestTooFastNeedsQuorum(t *testing.T) {
	p := NewPool()
	accused := common.HexToHash("0x02")

	for i := 0; i < tooFastEvidenceQuorum-1; i++ {
		p.Add(types.Evidence{Reason: types.ReasonVDFTooFast, Accused: accused, Scope: uint64(i)})
		require.False(t, p.ReadyForBallot(accused), "timing evidence alone below quorum")
	}
	p.Add(types.Evidence{Reason: types.ReasonVDFTooFast, Accused: accused, Scope: 99})
	require.True(t, p.ReadyForBallot(accused))
}

func TestMakeBallotOncePerValidator(t *testing.T) {
	p := NewPool()
	accused := common.HexToHash("0x03")
	p.Add(types.Evidence{Reason: types.ReasonVDFInvalid, Accused: accused, Scope: 5})

	ballot, ok := p.MakeBallot(accused, 10)
	require.True(t, ok)
	require.Equal(t, uint64(12), ballot.EffectiveDay)
	require.Equal(t, types.ReasonVDFInvalid, ballot.Reason)

	_, ok = p.MakeBallot(accused, 10)
	require.False(t, ok)
	require.False(t, p.ReadyForBallot(accused))
}

func TestApplyCommittedBlacklistsTarget(t *testing.T) {
	p := NewPool()
	store := newTestStore(t)
	accused := common.HexToHash("0x04")

	p.Add(types.Evidence{Reason: types.ReasonEquivocation, Accused: accused, Scope: 7})
	ballot, ok := p.MakeBallot(accused, 7)
	require.True(t, ok)

	block := &types.Block{
		Epoch:  7,
		Events: []types.EventFingerprint{common.HexToHash("0xaa"), ballot.Fingerprint()},
	}
	applied, err := p.ApplyCommitted(block, store)
	require.NoError(t, err)
	require.Len(t, applied, 1)

	entry, err := store.GetBlacklistEntry(accused)
	require.NoError(t, err)
	require.Equal(t, uint64(9), entry.EffectiveDay)

	// not excluded until the effective day
	excluded, err := ActiveExclusions(store, 8)
	require.NoError(t, err)
	require.False(t, excluded[accused])

	excluded, err = ActiveExclusions(store, 9)
	require.NoError(t, err)
	require.True(t, excluded[accused])
}

func TestUnblacklistBallot(t *testing.T) {
	p := NewPool()
	store := newTestStore(t)
	target := common.HexToHash("0x05")

	require.NoError(t, store.PutBlacklistEntry(&types.BlacklistEntry{
		ValidatorId: target, EffectiveDay: 3,
	}))

	ballot := p.MakeUnblacklistBallot(target, 10)
	block := &types.Block{Epoch: 10, Events: []types.EventFingerprint{ballot.Fingerprint()}}
	_, err := p.ApplyCommitted(block, store)
	require.NoError(t, err)

	_, err = store.GetBlacklistEntry(target)
	require.ErrorIs(t, err, conderrors.ErrDNotFound)
}

func TestForeignBallotRegisteredFromPeer(t *testing.T) {
	p := NewPool()
	store := newTestStore(t)

	// a peer proposed the ballot; we only learned its body via gossip
	ballot := types.BallotEvent{
		Target:       common.HexToHash("0x06"),
		Reason:       types.ReasonSignatureInvalid,
		EffectiveDay: 4,
	}
	p.RegisterBallot(ballot)

	block := &types.Block{Epoch: 2, Events: []types.EventFingerprint{ballot.Fingerprint()}}
	applied, err := p.ApplyCommitted(block, store)
	require.NoError(t, err)
	require.Len(t, applied, 1)
}
