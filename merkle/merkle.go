// Package merkle builds the fragment trees that bind erasure-coded
// fragments to a batch digest, preventing a proposer from equivocating
// between fragment sets.
package merkle

import (
	"bytes"
	"errors"
	"math"

	"github.com/chorus-fed/conductor/common"
)

// FragmentTree represents the Merkle tree over a batch's fragments.
type FragmentTree struct {
	depth  int
	root   []byte
	leaves [][]byte
}

// NewFragmentTree creates a new Merkle tree with the given leaves.
func NewFragmentTree(leaves [][]byte) (*FragmentTree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("no leaves to construct the Merkle Tree")
	}
	tree := &FragmentTree{
		depth:  int(math.Ceil(math.Log2(float64(len(leaves))))),
		leaves: leaves,
	}
	tree.root = tree.buildTree(leaves)
	return tree, nil
}

// buildTree constructs the Merkle Tree and returns the root hash
func (mt *FragmentTree) buildTree(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return common.ComputeHash(leaves[0])
	}
	var parentLevel [][]byte
	for i := 0; i < len(leaves); i += 2 {
		parentLevel = append(parentLevel, common.ComputeHash(combinePair(leaves, i)))
	}
	if len(parentLevel) == 1 {
		return parentLevel[0]
	}
	return mt.buildTree(parentLevel)
}

func combinePair(level [][]byte, i int) []byte {
	combined := append([]byte{}, level[i]...)
	if i+1 < len(level) {
		return append(combined, level[i+1]...)
	}
	return append(combined, level[i]...)
}

// Root returns the root of the Merkle Tree
func (mt *FragmentTree) Root() common.Hash {
	return common.BytesToHash(mt.root)
}

// Justify returns the sibling path for a given leaf index.
func (mt *FragmentTree) Justify(index int) ([][]byte, error) {
	if index < 0 || index >= len(mt.leaves) {
		return nil, errors.New("index out of range")
	}
	justification := make([][]byte, mt.depth)
	currentLevel := mt.leaves
	for d := 0; d < mt.depth; d++ {
		var siblingIndex int
		if index%2 == 0 {
			siblingIndex = index + 1
		} else {
			siblingIndex = index - 1
		}
		if siblingIndex < len(currentLevel) {
			justification[d] = currentLevel[siblingIndex]
		} else {
			justification[d] = currentLevel[index]
		}
		index /= 2
		var nextLevel [][]byte
		for i := 0; i < len(currentLevel); i += 2 {
			nextLevel = append(nextLevel, common.ComputeHash(combinePair(currentLevel, i)))
		}
		currentLevel = nextLevel
	}
	return justification, nil
}

// VerifyJustification checks that a leaf at the given index is bound to the
// root by the sibling path. Levels above the first are hashes; the first
// sibling is raw leaf data.
func VerifyJustification(root common.Hash, leaf []byte, index int, justification [][]byte) bool {
	if index < 0 {
		return false
	}
	current := leaf
	if len(justification) == 0 {
		return bytes.Equal(common.ComputeHash(current), root.Bytes())
	}
	for _, sibling := range justification {
		var left, right []byte
		if index%2 == 0 {
			left, right = current, sibling
		} else {
			left, right = sibling, current
		}
		current = common.ComputeHash(append(append([]byte{}, left...), right...))
		index /= 2
	}
	return bytes.Equal(current, root.Bytes())
}
