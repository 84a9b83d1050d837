package elemgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/config"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/meshio"
	"github.com/notargets/elemgraph/partitions"
	"github.com/notargets/elemgraph/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rankGraphs struct {
	mesh   *mesh.Distributed
	world  *comm.World
	graphs []*Graph
}

func build(t *testing.T, d *mesh.Distributed) *rankGraphs {
	t.Helper()
	opts := config.Default()
	w, err := comm.NewWorld(len(d.Bulks), comm.WorldOptions{CompressThreshold: opts.CompressThreshold})
	require.NoError(t, err)
	graphs := make([]*Graph, len(d.Bulks))
	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		g, err := New(ctx, d.Bulks[c.Rank()], c, opts)
		if err != nil {
			return err
		}
		graphs[c.Rank()] = g
		return nil
	})
	require.NoError(t, err)
	return &rankGraphs{mesh: d, world: w, graphs: graphs}
}

func (r *rankGraphs) run(t *testing.T, fn func(ctx context.Context, g *Graph) error) {
	t.Helper()
	require.NoError(t, r.world.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		return fn(ctx, r.graphs[c.Rank()])
	}))
}

func (r *rankGraphs) dump(t *testing.T) []string {
	t.Helper()
	out := make([]string, len(r.graphs))
	for i, g := range r.graphs {
		var sb strings.Builder
		require.NoError(t, g.WriteGraph(&sb))
		out[i] = sb.String()
	}
	return out
}

func (r *rankGraphs) verify(t *testing.T) {
	t.Helper()
	for _, g := range r.graphs {
		assert.NoError(t, g.CheckSymmetry())
	}
	r.run(t, func(ctx context.Context, g *Graph) error {
		return g.VerifyRemoteMirror(ctx)
	})
}

func (r *rankGraphs) handle(t *testing.T, gid mesh.EntityID) (int, mesh.Handle) {
	t.Helper()
	rank, h, ok := r.mesh.Locate(gid)
	require.True(t, ok, "element %d", gid)
	return rank, h
}

func (r *rankGraphs) localID(t *testing.T, gid mesh.EntityID) (*Graph, LocalID) {
	t.Helper()
	rank, h := r.handle(t, gid)
	g := r.graphs[rank]
	id, ok := g.LocalID(h)
	require.True(t, ok, "element %d not in graph", gid)
	return g, id
}

// Four line elements 1..4 on nodes 1..5, two per rank
func lineChain(t *testing.T) *mesh.Distributed {
	g := &mesh.Global{}
	for i := 1; i <= 4; i++ {
		g.Elements = append(g.Elements, mesh.ElementSpec{
			ID:       mesh.EntityID(i),
			Topology: topology.Line2,
			Nodes:    []mesh.EntityID{mesh.EntityID(i), mesh.EntityID(i + 1)},
			Parts:    []string{"block_1"},
		})
	}
	d, err := mesh.Distribute(g, []int{0, 0, 1, 1}, 2)
	require.NoError(t, err)
	return d
}

// n hexes stacked along z; hex k's top face is hex k+1's bottom face
func hexStack(n int) *mesh.Global {
	g := &mesh.Global{}
	for k := 0; k < n; k++ {
		base := mesh.EntityID(4 * k)
		nodes := make([]mesh.EntityID, 8)
		for i := range nodes {
			nodes[i] = base + mesh.EntityID(i) + 1
		}
		g.Elements = append(g.Elements, mesh.ElementSpec{
			ID:       mesh.EntityID(k + 1),
			Topology: topology.Hex8,
			Nodes:    nodes,
		})
	}
	return g
}

func TestChainGraph(t *testing.T) {
	r := build(t, lineChain(t))
	r.verify(t)

	g0, g1 := r.graphs[0], r.graphs[1]
	assert.Equal(t, 2, g0.NumVertices())
	assert.Equal(t, 3, g0.NumEdges())
	assert.Equal(t, 1, g0.NumParallelEdges())
	assert.Equal(t, 1, g1.NumParallelEdges())

	// Element 2 has the lower id, so rank 0's proposal (its first id) wins
	want := []string{
		"(1, 1)->(2, 0)\n(2, 0)->(1, 1)\n(2, 1)->(3@p1, 0)[1]\n",
		"(3, 1)->(4, 0)\n(3, 0)->(2@p0, 1)[1]\n(4, 0)->(3, 1)\n",
	}
	if diff := cmp.Diff(want, r.dump(t)); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}

	_, id2 := r.localID(t, 2)
	e := g0.EdgesOfSide(id2, 1)
	require.Len(t, e, 1)
	info, ok := g0.ParallelInfo(e[0])
	require.True(t, ok)
	assert.Equal(t, 1, info.OtherProc)
	assert.Equal(t, topology.Line2, info.RemoteTopology)
	assert.True(t, info.InBodyToBeSkinned)
	assert.Equal(t, []string{"block_1"}, info.RemoteParts)

	st := g1.Stats()
	assert.Equal(t, 2, st.LocalEdges)
	assert.Equal(t, 1, st.RemoteEdges)
	assert.Positive(t, st.Bytes)
}

func TestBuildIsDeterministic(t *testing.T) {
	mk := func() *mesh.Distributed {
		d, err := mesh.Distribute(hexStack(4), []int{0, 1, 0, 1}, 2)
		require.NoError(t, err)
		return d
	}
	first := build(t, mk())
	first.verify(t)
	second := build(t, mk())
	if diff := cmp.Diff(first.dump(t), second.dump(t)); diff != "" {
		t.Errorf("rebuild differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 3, first.graphs[0].NumParallelEdges())
	assert.Equal(t, 3, first.graphs[1].NumParallelEdges())
}

func TestBuildRejectsUnknownHandles(t *testing.T) {
	d, err := mesh.Distribute(hexStack(1), []int{0}, 1)
	require.NoError(t, err)
	r := build(t, d)
	g := r.graphs[0]
	err = r.world.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		return g.AddElements(ctx, []mesh.Handle{42})
	})
	assert.ErrorIs(t, err, mesh.ErrUnknownElement)
	err = r.world.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		return g.DeleteElements(ctx, []mesh.Handle{42})
	})
	assert.ErrorIs(t, err, ErrNotInGraph)
}

// Rank 1 announces the bottom of hex 2 with one node missing
func TestMalformedSideRecord(t *testing.T) {
	d, err := mesh.Distribute(hexStack(2), []int{0, 1}, 2)
	require.NoError(t, err)
	r := build(t, d)
	_, hex2 := r.localID(t, 2)

	err = r.world.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		g := r.graphs[c.Rank()]
		var cands []candidate
		if c.Rank() == 1 {
			cands = []candidate{{elem: hex2, side: 4, nodes: []mesh.EntityID{5, 8, 7}, procs: []int{0}}}
		}
		return g.fillParallelGraph(ctx, cands)
	})
	assert.ErrorIs(t, err, ErrMalformedSide)
	assert.ErrorContains(t, err, "rank 0")
}

// Element 10 on rank 0 meets two coincident quads 1 and 2, owned by ranks 1
// and 2, across the face {2, 3}
func TestCoincidentChosenIDs(t *testing.T) {
	g := &mesh.Global{Elements: []mesh.ElementSpec{
		{ID: 10, Topology: topology.Quad4, Nodes: []mesh.EntityID{1, 2, 3, 4}},
		{ID: 1, Topology: topology.Quad4, Nodes: []mesh.EntityID{2, 5, 6, 3}},
		{ID: 2, Topology: topology.Quad4, Nodes: []mesh.EntityID{2, 5, 6, 3}},
	}}
	d, err := mesh.Distribute(g, []int{0, 1, 2}, 3)
	require.NoError(t, err)
	r := build(t, d)
	r.verify(t)

	// Quad 1 proposes ids 8..11 for its sides, so side 3 proposes 11
	const want = mesh.EntityID(11)
	for _, gid := range []mesh.EntityID{10, 1, 2} {
		gr, id := r.localID(t, gid)
		side := 3
		if gid == 10 {
			side = 1
		}
		edges := append(gr.EdgesOfSide(id, side), gr.CoincidentEdgesOf(id)...)
		n := 0
		for _, e := range edges {
			if e.Side1 != side {
				continue
			}
			info, ok := gr.ParallelInfo(e)
			require.True(t, ok)
			assert.Equal(t, want, info.ChosenSideID, "element %d edge %s", gid, e)
			n++
		}
		assert.Equal(t, 2, n, "element %d", gid)
	}

	assert.Equal(t, 2, r.graphs[0].NumEdges())
	assert.Zero(t, r.graphs[0].NumCoincidentEdges())
	assert.Equal(t, 4, r.graphs[1].NumCoincidentEdges())
	assert.Equal(t, 1, r.graphs[1].NumEdges())

	groups := r.graphs[1].CoincidenceGroups()
	require.Len(t, groups, 1)
	assert.Equal(t, mesh.EntityID(1), groups[0].CanonicalID)
	assert.Equal(t, []mesh.EntityID{2}, groups[0].Remote)

	before := r.dump(t)
	r.run(t, func(ctx context.Context, g *Graph) error {
		return g.resolveCoincidence(ctx)
	})
	if diff := cmp.Diff(before, r.dump(t)); diff != "" {
		t.Errorf("second coincidence pass changed the graph (-before +after):\n%s", diff)
	}
}

// Remote edges of a conforming hex block are exactly the partition's cut faces
func TestGraphMatchesCutFaces(t *testing.T) {
	box, err := meshio.HexBox(3, 2, 2)
	require.NoError(t, err)
	conn, err := partitions.ConnectivityFromMesh(box)
	require.NoError(t, err)

	for _, s := range []partitions.PartitionStrategy{
		partitions.BlockPartition, partitions.RoundRobin, partitions.GraphPartition,
	} {
		t.Run(s.String(), func(t *testing.T) {
			pb := &partitions.PartitionBuilder{Mesh: conn, NumPartitions: 3, Strategy: s}
			layout, err := pb.BuildPartitions()
			require.NoError(t, err)
			cut := partitions.CutFaceCount(partitions.AnalyzeCutFaces(layout, conn), 3)

			d, err := mesh.Distribute(box, layout.EToP, 3)
			require.NoError(t, err)
			r := build(t, d)
			r.verify(t)
			for rank, g := range r.graphs {
				assert.Equal(t, cut[rank], g.NumParallelEdges(), "rank %d", rank)
				assert.Zero(t, g.NumCoincidentEdges())
			}
		})
	}
}
