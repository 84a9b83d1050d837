package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideDefinitions(t *testing.T) {
	elements := []Topology{Line2, Tri3, Quad4, Tet4, Hex8, Wedge6, Pyramid5,
		ShellLine2, ShellTri3, ShellQuad4}

	for _, topo := range elements {
		require.True(t, topo.IsElement(), "%s should be an element topology", topo)
		for side := 0; side < topo.NumSides(); side++ {
			ords := topo.SideNodeOrdinals(side)
			sideTopo := topo.SideTopology(side)
			assert.Equal(t, sideTopo.NumNodes(), len(ords),
				"%s side %d has %d ordinals for a %s", topo, side, len(ords), sideTopo)
			for _, o := range ords {
				assert.True(t, o >= 0 && o < topo.NumNodes(),
					"%s side %d ordinal %d out of range", topo, side, o)
			}
		}
	}

	assert.Nil(t, Hex8.SideNodeOrdinals(6))
	assert.Equal(t, Invalid, Tet4.SideTopology(-1))
}

func TestParse(t *testing.T) {
	topo, err := Parse("hex_8")
	require.NoError(t, err)
	assert.Equal(t, Hex8, topo)

	_, err = Parse("octagon")
	assert.Error(t, err)
}

func TestSideNodes(t *testing.T) {
	nodes := []int{10, 11, 12, 13}
	side, err := SideNodes(Tet4, 2, nodes)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 13, 12}, side)

	_, err = SideNodes(Tet4, 0, nodes[:3])
	assert.Error(t, err, "malformed node list must be rejected")

	_, err = SideNodes(Tet4, 4, nodes)
	assert.Error(t, err)
}

func TestEquivalentAndInverse(t *testing.T) {
	for _, side := range []Topology{Point, Line2, Tri3, Quad4} {
		a := make([]int, side.NumNodes())
		for i := range a {
			a[i] = 100 + i
		}
		for p := 0; p < side.NumPermutations(); p++ {
			b := Permute(side, a, p)
			ok, got := Equivalent(side, a, b)
			require.True(t, ok, "%s permutation %d", side, p)
			assert.Equal(t, p, got)

			q := InversePermutation(side, p)
			require.NotEqual(t, InvalidPermutation, q)
			assert.Equal(t, a, Permute(side, b, q), "%s inverse of %d", side, p)
			assert.Equal(t, IsPositive(side, p), IsPositive(side, q),
				"inverse keeps orientation")

			ok, back := Equivalent(side, b, a)
			require.True(t, ok)
			assert.Equal(t, q, back)
		}
	}

	ok, p := Equivalent(Quad4, []int{1, 2, 3, 4}, []int{1, 3, 2, 4})
	assert.False(t, ok, "crossed quad is not a valid reordering")
	assert.Equal(t, InvalidPermutation, p)

	ok, _ = Equivalent(Tri3, []int{1, 2, 3}, []int{1, 2, 4})
	assert.False(t, ok)
}

func TestSidesConnect(t *testing.T) {
	// Two hexes sharing a face see it with opposite orientation
	hexA := []int{1, 2, 3, 4, 5, 6, 7, 8}
	hexB := []int{5, 6, 7, 8, 9, 10, 11, 12}
	top, _ := SideNodes(Hex8, 5, hexA)
	bottom, _ := SideNodes(Hex8, 4, hexB)
	ok, perm := Equivalent(Quad4, top, bottom)
	require.True(t, ok)
	assert.False(t, IsPositive(Quad4, perm))
	assert.True(t, SidesConnect(Hex8, Hex8, Quad4, perm))
	assert.False(t, IsCoincident(Hex8, Hex8, Quad4, perm))

	// A shell on that face connects to each hex through exactly one side
	shell := []int{5, 6, 7, 8}
	connected := 0
	for side := 0; side < ShellQuad4.NumSides(); side++ {
		nodes, _ := SideNodes(ShellQuad4, side, shell)
		ok, perm := Equivalent(Quad4, top, nodes)
		require.True(t, ok)
		if SidesConnect(Hex8, ShellQuad4, Quad4, perm) {
			connected++
		}
	}
	assert.Equal(t, 1, connected)

	// Coincident hexes match every face through a rotation
	ok, perm = Equivalent(Quad4, top, top)
	require.True(t, ok)
	assert.True(t, IsCoincident(Hex8, Hex8, Quad4, perm))
	assert.False(t, IsCoincident(ShellQuad4, ShellQuad4, Quad4, perm))
	assert.True(t, SidesConnect(ShellQuad4, ShellQuad4, Quad4, perm))

	assert.False(t, IsCoincident(Line2, Line2, Point, 0))
	assert.False(t, SidesConnect(Hex8, Hex8, Quad4, InvalidPermutation))
}
