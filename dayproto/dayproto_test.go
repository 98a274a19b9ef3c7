package dayproto

import (
	"context"
	"testing"
	"time"

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
	testN = 4
	testF = 1
)

type dayFixture struct {
	vs        *types.ValidatorSet
	protocols []*Protocol
	stores    []*storage.Store
}

func newDayFixture(t *testing.T) *dayFixture {
	t.Helper()
	dealing, err := thresh.Deal(testN, 2*testF+1, []byte("day fixture"))
	require.NoError(t, err)

	keys := make([]ed25519.PrivateKey, testN)
	members := make([]types.Validator, testN)
	for i := 0; i < testN; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		keys[i] = priv
		members[i] = types.NewValidator(pub, uint32(i+1))
	}
	vs := types.NewValidatorSet(0, members)

	fx := &dayFixture{vs: vs}
	cfg := types.TinyConfig()
	for i := 0; i < testN; i++ {
		ps, err := storage.NewMemoryPersistenceStore()
		require.NoError(t, err)
		t.Cleanup(func() { ps.Close() })
		store := storage.NewStore(ps)

		v := vs.Validators[i]
		var signKey ed25519.PrivateKey
		for j := range keys {
			if ed25519.PublicKey(v.Ed25519Key[:]).Equal(keys[j].Public().(ed25519.PublicKey)) {
				signKey = keys[j]
			}
		}
		kc := thresh.ContextFromDealing(dealing, int(v.ShareIndex-1))
		engine := vdf.NewEngine(vdf.GenesisSeed, cfg.ProgressInterval)
		proto, err := NewProtocol(engine, vdf.NewAnomalyClock(), store, vs, kc, signKey, cfg)
		require.NoError(t, err)

		fx.protocols = append(fx.protocols, proto)
		fx.stores = append(fx.stores, store)
	}
	return fx
}

func TestDayAdvanceQuorum(t *testing.T) {
	fx := newDayFixture(t)
	ctx := context.Background()

	msgs := make([]*types.DayProofMsg, testN)
	for i, p := range fx.protocols {
		msg, elapsed, err := p.BuildLocalProof(ctx)
		require.NoError(t, err)
		require.Greater(t, elapsed, time.Duration(0))
		require.Equal(t, uint64(1), msg.Proof.DayNumber)
		msgs[i] = msg
	}

	// identical outputs across validators
	for i := 1; i < testN; i++ {
		require.Equal(t, msgs[0].Proof.Output, msgs[i].Proof.Output)
	}

	// node 0 collects candidates; with its own share, the threshold is
	// reached at the second peer message
	p0 := fx.protocols[0]
	canonical, ev, err := p0.HandleDayProof(fx.vs.Validators[1], msgs[1])
	require.NoError(t, err)
	require.Empty(t, ev)
	require.Nil(t, canonical, "2f shares must not finalize")

	canonical, _, err = p0.HandleDayProof(fx.vs.Validators[2], msgs[2])
	require.NoError(t, err)
	require.NotNil(t, canonical)
	require.GreaterOrEqual(t, canonical.QC.Popcount(), 2*testF+1)
	require.Equal(t, uint64(1), p0.CurrentDay())

	// persisted and re-readable
	stored, err := fx.stores[0].GetCanonicalDayProof(1)
	require.NoError(t, err)
	require.Equal(t, msgs[0].Proof.Output, stored.Proof.Output)
}

func TestOutputMatchesManualChain(t *testing.T) {
	fx := newDayFixture(t)
	msg, _, err := fx.protocols[0].BuildLocalProof(context.Background())
	require.NoError(t, err)

	engine := vdf.NewEngine(vdf.GenesisSeed, 100)
	seed := engine.DeriveSeed(1)
	require.Equal(t, seed, msg.Proof.Seed)

	current := seed
	for i := uint64(0); i < types.TinyConfig().DifficultyInitial; i++ {
		current = common.Blake2Hash(current.Bytes())
	}
	require.Equal(t, current, msg.Proof.Output)
}

func TestDivergentOutputEmitsEvidence(t *testing.T) {
	fx := newDayFixture(t)
	ctx := context.Background()

	p0 := fx.protocols[0]
	_, _, err := p0.BuildLocalProof(ctx)
	require.NoError(t, err)

	// peer 1 claims a fabricated output and self-consistently signs it
	forged, _, err := fx.protocols[1].BuildLocalProof(ctx)
	require.NoError(t, err)
	forged.Proof.Output = common.HexToHash("0x4242")
	resign(t, fx, 1, forged)

	_, evidence, err := p0.HandleDayProof(fx.vs.Validators[1], forged)
	require.ErrorIs(t, err, conderrors.ErrCConflictingDayProof)
	require.Len(t, evidence, 1)
	require.Equal(t, types.ReasonVDFInvalid, evidence[0].Reason)
	require.Equal(t, uint64(0), p0.CurrentDay(), "conflicting day must not finalize")
}

// resign rebuilds the proposer signature and threshold share after the test
// mutates a proof body.
func resign(t *testing.T, fx *dayFixture, node int, msg *types.DayProofMsg) {
	t.Helper()
	p := fx.protocols[node]
	sig := ed25519.Sign(p.signKey, msg.Proof.SigningDigest().Bytes())
	copy(msg.Proof.ProposerSignature[:], sig)
	share, err := thresh.SignShare(&p.keys.Share, thresh.DomainDay, msg.Proof.OutputDigest().Bytes())
	require.NoError(t, err)
	msg.Share = types.SigShareMsg{Index: share.Index, Point: share.Point}
}

func TestStaleProofIgnored(t *testing.T) {
	fx := newDayFixture(t)
	ctx := context.Background()

	// finalize day 1 on node 0
	for i, p := range fx.protocols {
		msg, _, err := p.BuildLocalProof(ctx)
		require.NoError(t, err)
		if i > 0 {
			_, _, err = fx.protocols[0].HandleDayProof(fx.vs.Validators[i], msg)
			require.NoError(t, err)
		}
	}
	require.Equal(t, uint64(1), fx.protocols[0].CurrentDay())

	// a day-1 proof arriving late is stale
	lateMsg, _, err := fx.protocols[3].BuildLocalProof(ctx)
	require.NoError(t, err)
	canonical, ev, err := fx.protocols[0].HandleDayProof(fx.vs.Validators[3], lateMsg)
	require.NoError(t, err)
	require.Nil(t, canonical)
	require.Empty(t, ev)
}

func TestImportCanonical(t *testing.T) {
	fx := newDayFixture(t)
	ctx := context.Background()

	// node 0 finalizes day 1 from the proofs of nodes 0..2; node 3 imports the canonical record
	var canonical *types.CanonicalDayProof
	msgs := make([]*types.DayProofMsg, testN)
	for i, p := range fx.protocols {
		msg, _, err := p.BuildLocalProof(ctx)
		require.NoError(t, err)
		msgs[i] = msg
	}
	for _, i := range []int{1, 2} {
		c, _, err := fx.protocols[0].HandleDayProof(fx.vs.Validators[i], msgs[i])
		require.NoError(t, err)
		if c != nil {
			canonical = c
		}
	}
	require.NotNil(t, canonical)

	// node 3, which has not finalized day 1, accepts the QC
	require.NoError(t, fx.protocols[3].ImportCanonical(canonical))
	require.Equal(t, uint64(1), fx.protocols[3].CurrentDay())

	// a record whose proof body was tampered with is rejected
	bad := *canonical
	bad.Proof.Output = common.HexToHash("0x99")
	require.Error(t, fx.protocols[3].ImportCanonical(&bad))
}

func TestCompletionTimeRetune(t *testing.T) {
	fx := newDayFixture(t)
	p := fx.protocols[0]
	require.Equal(t, types.TinyConfig().DifficultyInitial, p.Difficulty())

	// consistently slow interval halves difficulty at the adjustment day
	for d := uint64(1); d <= 10; d++ {
		p.HandleCompletionTime(&types.CompletionTimeMsg{
			DayNumber:  d,
			DurationMs: uint64((48 * time.Hour).Milliseconds()),
		})
	}
	p.day = 9 // pretend days 1..9 finalized
	p.retune(10)
	require.Equal(t, types.TinyConfig().DifficultyInitial/2, p.Difficulty())
}
