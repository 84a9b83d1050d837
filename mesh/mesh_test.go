package mesh

import (
	"testing"

	"github.com/notargets/elemgraph/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Four line elements 1..4 on nodes 1..5
func lineChain() *Global {
	g := &Global{}
	for i := 1; i <= 4; i++ {
		g.Elements = append(g.Elements, ElementSpec{
			ID:       EntityID(i),
			Topology: topology.Line2,
			Nodes:    []EntityID{EntityID(i), EntityID(i + 1)},
			Parts:    []string{"block_1"},
		})
	}
	return g
}

func TestDistributeSharing(t *testing.T) {
	d, err := Distribute(lineChain(), []int{0, 0, 1, 1}, 2)
	require.NoError(t, err)

	b0, b1 := d.Bulks[0], d.Bulks[1]
	assert.Len(t, b0.OwnedElements(), 2)
	assert.Len(t, b1.OwnedElements(), 2)

	// Node 3 is the only node on the partition boundary
	assert.Equal(t, []int{1}, b0.SharingProcs(3))
	assert.Equal(t, []int{0}, b1.SharingProcs(3))
	assert.Empty(t, b0.SharingProcs(2))
	assert.Empty(t, b1.SharingProcs(4))

	h, ok := b1.Handle(3)
	require.True(t, ok)
	assert.Equal(t, []Handle{h}, b1.ElementsWithNodes([]EntityID{3}))
	assert.True(t, b1.InPart(h, "block_1"))

	rank, _, ok := d.Locate(4)
	assert.True(t, ok)
	assert.Equal(t, 1, rank)
}

func TestDistributeRejectsMalformed(t *testing.T) {
	g := lineChain()
	g.Elements[2].Nodes = []EntityID{3}
	_, err := Distribute(g, []int{0, 0, 1, 1}, 2)
	assert.ErrorIs(t, err, ErrMalformedElement)

	_, err = Distribute(lineChain(), []int{0, 0, 1}, 2)
	assert.Error(t, err)

	_, err = Distribute(lineChain(), []int{0, 0, 1, 2}, 2)
	assert.Error(t, err)
}

func TestAddRemoveElements(t *testing.T) {
	d, err := Distribute(lineChain(), []int{0, 0, 1, 1}, 2)
	require.NoError(t, err)

	hs, err := d.AddElements(0, []ElementSpec{{ID: 5, Topology: topology.Line2, Nodes: []EntityID{5, 6}}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, d.Bulks[0].SharingProcs(5))
	assert.Equal(t, []int{0}, d.Bulks[1].SharingProcs(5))

	_, err = d.AddElements(1, []ElementSpec{{ID: 5, Topology: topology.Line2, Nodes: []EntityID{7, 8}}})
	assert.ErrorIs(t, err, ErrMalformedElement)

	require.NoError(t, d.RemoveElements(0, hs))
	assert.Empty(t, d.Bulks[1].SharingProcs(5))
	assert.False(t, d.Bulks[0].IsValid(hs[0]))

	// Handles are never reused
	hs2, err := d.AddElements(0, []ElementSpec{{ID: 6, Topology: topology.Line2, Nodes: []EntityID{1, 7}}})
	require.NoError(t, err)
	assert.NotEqual(t, hs[0], hs2[0])

	assert.ErrorIs(t, d.RemoveElements(0, hs), ErrUnknownElement)
}

func TestSides(t *testing.T) {
	b := NewBulk(0)
	h, err := b.DeclareElement(ElementSpec{ID: 1, Topology: topology.Tet4, Nodes: []EntityID{1, 2, 3, 4}})
	require.NoError(t, err)

	nodes, err := b.SideNodes(h, 1)
	require.NoError(t, err)
	assert.Equal(t, []EntityID{2, 3, 4}, nodes)

	// Declare the side in the opposite orientation and connect with the
	// permutation relating the two orders
	reversed := []EntityID{2, 4, 3}
	_, err = b.DeclareSide(100, reversed, []string{"skin"})
	require.NoError(t, err)
	_, perm := topology.Equivalent(topology.Tri3, reversed, nodes)
	require.NoError(t, b.ConnectSide(100, h, 1, perm))
	assert.Error(t, b.ConnectSide(100, h, 1, (perm+1)%topology.Tri3.NumPermutations()))

	id, ok := b.SideOf(h, 1)
	require.True(t, ok)
	assert.Equal(t, EntityID(100), id)

	s, ok := b.Side(100)
	require.True(t, ok)
	assert.Equal(t, []string{"skin"}, s.Parts)
	assert.Len(t, s.Connections, 1)

	assert.Error(t, b.ConnectSide(101, h, 1, 0), "undeclared side")
	assert.True(t, b.DestroySide(100))
	_, ok = b.SideOf(h, 1)
	assert.False(t, ok)
	assert.Empty(t, b.Sides())
}
