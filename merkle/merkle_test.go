package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/common"
)

func makeLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("fragment-%d-payload", i))
	}
	return leaves
}

func TestJustifyAndVerify(t *testing.T) {
	for _, n := range []int{2, 3, 4, 7, 8} {
		leaves := makeLeaves(n)
		tree, err := NewFragmentTree(leaves)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			proof, err := tree.Justify(i)
			require.NoError(t, err)
			require.True(t, VerifyJustification(tree.Root(), leaves[i], i, proof),
				"n=%d index=%d", n, i)
		}
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	leaves := makeLeaves(4)
	tree, err := NewFragmentTree(leaves)
	require.NoError(t, err)

	proof, err := tree.Justify(2)
	require.NoError(t, err)
	require.False(t, VerifyJustification(tree.Root(), []byte("tampered"), 2, proof))
}

func TestVerifyRejectsWrongIndex(t *testing.T) {
	leaves := makeLeaves(4)
	tree, err := NewFragmentTree(leaves)
	require.NoError(t, err)

	proof, err := tree.Justify(2)
	require.NoError(t, err)
	require.False(t, VerifyJustification(tree.Root(), leaves[2], 1, proof))
}

func TestVerifyRejectsForeignRoot(t *testing.T) {
	treeA, _ := NewFragmentTree(makeLeaves(4))
	leavesB := makeLeaves(4)
	leavesB[0] = []byte("divergent fragment set")
	treeB, _ := NewFragmentTree(leavesB)
	require.NotEqual(t, treeA.Root(), treeB.Root())

	proof, err := treeB.Justify(0)
	require.NoError(t, err)
	require.False(t, VerifyJustification(treeA.Root(), leavesB[0], 0, proof))
}

func TestEmptyLeaves(t *testing.T) {
	_, err := NewFragmentTree(nil)
	require.Error(t, err)
}

func TestRootIsStable(t *testing.T) {
	leaves := makeLeaves(5)
	a, _ := NewFragmentTree(leaves)
	b, _ := NewFragmentTree(leaves)
	require.Equal(t, a.Root(), b.Root())
	require.False(t, common.IsNilHash(a.Root()))
}
