package meshio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

func TestFromEToV(t *testing.T) {
	// Two tets sharing the face {1, 2, 3}, then a hex
	eToV := [][]int{
		{0, 1, 2, 3},
		{1, 2, 3, 4},
		{5, 6, 7, 8, 9, 10, 11, 12},
	}
	g, err := FromEToV(eToV, "fluid")
	require.NoError(t, err)
	require.Equal(t, 3, g.NumElements())

	assert.Equal(t, mesh.ElementSpec{
		ID:       2,
		Topology: topology.Tet4,
		Nodes:    []mesh.EntityID{2, 3, 4, 5},
		Parts:    []string{"fluid"},
	}, g.Elements[1])
	assert.Equal(t, topology.Hex8, g.Elements[2].Topology)
	assert.Equal(t, mesh.EntityID(13), g.Elements[2].Nodes[7])
}

func TestFromEToVRejects(t *testing.T) {
	_, err := FromEToV([][]int{{0, 1}})
	assert.ErrorIs(t, err, mesh.ErrMalformedElement)

	_, err = FromEToV([][]int{{0, 1, -1, 3}})
	assert.ErrorIs(t, err, mesh.ErrMalformedElement)
}

func TestHexBox(t *testing.T) {
	g, err := HexBox(2, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, g.NumElements())
	assert.Equal(t, []mesh.EntityID{1, 2, 5, 4, 7, 8, 11, 10}, g.Elements[0].Nodes)
	assert.Equal(t, []mesh.EntityID{2, 3, 6, 5, 8, 9, 12, 11}, g.Elements[1].Nodes)

	// Side 1 of the first hex is side 3 of the second, reversed
	s1, err := topology.SideNodes(topology.Hex8, 1, g.Elements[0].Nodes)
	require.NoError(t, err)
	s3, err := topology.SideNodes(topology.Hex8, 3, g.Elements[1].Nodes)
	require.NoError(t, err)
	assert.ElementsMatch(t, s1, s3)

	_, err = HexBox(0, 1, 1)
	assert.Error(t, err)
}
