package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Ref: fmt.Sprintf("entry-%d", i), Data: []byte(fmt.Sprintf("payload-%d", i))}
	}
	return out
}

func TestBuild_Deterministic(t *testing.T) {
	a := Build(items(5))
	b := Build(items(5))

	require.NotEmpty(t, a.Root())
	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, 5, a.Len())
}

func TestBuild_OrderIsPartOfTheCommitment(t *testing.T) {
	straight := items(4)
	swapped := items(4)
	swapped[0], swapped[1] = swapped[1], swapped[0]

	assert.NotEqual(t, Build(straight).Root(), Build(swapped).Root())
}

func TestBuild_RefIsPartOfTheLeaf(t *testing.T) {
	a := Build([]Item{{Ref: "entry-a", Data: []byte("same")}})
	b := Build([]Item{{Ref: "entry-b", Data: []byte("same")}})

	assert.NotEqual(t, a.Root(), b.Root())
}

func TestBuild_Empty(t *testing.T) {
	tree := Build(nil)

	assert.Empty(t, tree.Root())
	assert.Equal(t, 0, tree.Len())

	_, err := tree.Prove("entry-0")
	require.ErrorIs(t, err, ErrLeafNotFound)
}

func TestProve_AllLeavesAllSizes(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("leaves=%d", n), func(t *testing.T) {
			tree := Build(items(n))
			for i := 0; i < n; i++ {
				proof, err := tree.Prove(fmt.Sprintf("entry-%d", i))
				require.NoError(t, err)
				assert.True(t, VerifyProof(proof, tree.Root()), "leaf %d", i)
			}
		})
	}
}

func TestProve_UnknownRef(t *testing.T) {
	_, err := Build(items(3)).Prove("entry-99")
	require.ErrorIs(t, err, ErrLeafNotFound)
}

func TestVerifyProof_Tampered(t *testing.T) {
	tree := Build(items(4))
	root := tree.Root()

	proof, err := tree.Prove("entry-2")
	require.NoError(t, err)
	require.True(t, VerifyProof(proof, root))

	wrongLeaf := *proof
	wrongLeaf.LeafHash = Build(items(1)).Root()
	assert.False(t, VerifyProof(&wrongLeaf, root))

	flippedSide := *proof
	flippedSide.Path = append([]Step(nil), proof.Path...)
	flippedSide.Path[0].Side = "L"
	assert.False(t, VerifyProof(&flippedSide, root))

	truncated := *proof
	truncated.Path = proof.Path[:len(proof.Path)-1]
	assert.False(t, VerifyProof(&truncated, root))

	assert.False(t, VerifyProof(proof, "deadbeef"))
	assert.False(t, VerifyProof(nil, root))
	assert.False(t, VerifyProof(proof, ""))
}

func TestVerifyProof_RejectsUnknownSide(t *testing.T) {
	tree := Build(items(2))
	proof, err := tree.Prove("entry-0")
	require.NoError(t, err)

	proof.Path[0].Side = "X"
	assert.False(t, VerifyProof(proof, tree.Root()))
}
