package partitions

import (
	"testing"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// n hexes stacked along z, sharing top and bottom faces
func hexStack(n int) *mesh.Global {
	g := &mesh.Global{}
	for k := 0; k < n; k++ {
		nodes := make([]mesh.EntityID, 8)
		for i := range nodes {
			nodes[i] = mesh.EntityID(4*k + i + 1)
		}
		g.Elements = append(g.Elements, mesh.ElementSpec{
			ID:       mesh.EntityID(k + 1),
			Topology: topology.Hex8,
			Nodes:    nodes,
		})
	}
	return g
}

func TestConnectivityFromMesh(t *testing.T) {
	conn, err := ConnectivityFromMesh(hexStack(3))
	require.NoError(t, err)
	assert.Equal(t, 3, conn.NumElements)

	// Middle hex meets the lower one through its bottom and the upper one
	// through its top
	assert.Equal(t, []int{1, 1, 1, 1, 0, 2}, conn.EToE[1])
	assert.Equal(t, 5, conn.EToF[1][4])
	assert.Equal(t, 4, conn.EToF[1][5])
	assert.True(t, conn.IsBoundary(0, 4))
	assert.False(t, conn.IsBoundary(0, 5))
}

func TestConnectivityRejectsBadMesh(t *testing.T) {
	g := hexStack(1)
	g.Elements[0].Nodes = g.Elements[0].Nodes[:4]
	_, err := ConnectivityFromMesh(g)
	assert.ErrorIs(t, err, mesh.ErrMalformedElement)
}

func TestPartitionStrategies(t *testing.T) {
	conn, err := ConnectivityFromMesh(hexStack(4))
	require.NoError(t, err)

	tests := []struct {
		name     string
		strategy PartitionStrategy
		eToP     []int
		cut      []int
	}{
		{"block", BlockPartition, []int{0, 0, 1, 1}, []int{1, 1}},
		{"roundrobin", RoundRobin, []int{0, 1, 0, 1}, []int{3, 3}},
		{"graph", GraphPartition, []int{0, 0, 1, 1}, []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseStrategy(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, s)
			assert.Equal(t, tt.name, s.String())

			pb := &PartitionBuilder{Mesh: conn, NumPartitions: 2, Strategy: s}
			layout, err := pb.BuildPartitions()
			require.NoError(t, err)
			assert.Equal(t, tt.eToP, layout.EToP)
			assert.Equal(t, 2, layout.MaxElements)

			cut := CutFaceCount(AnalyzeCutFaces(layout, conn), layout.NumPartitions)
			assert.Equal(t, tt.cut, cut)

			plans, err := BuildCommPlans(layout, conn)
			require.NoError(t, err)
			require.Len(t, plans, 2)
			assert.Equal(t, tt.cut[0], plans[0].SendSize)
			assert.Equal(t, tt.cut[0], plans[0].RecvSize)
		})
	}
}

func TestParseStrategyUnknown(t *testing.T) {
	_, err := ParseStrategy("metis")
	assert.Error(t, err)
}

func TestGraphPartitionUneven(t *testing.T) {
	conn, err := ConnectivityFromMesh(hexStack(5))
	require.NoError(t, err)
	pb := &PartitionBuilder{Mesh: conn, NumPartitions: 3, Strategy: GraphPartition}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1, 2}, layout.EToP)

	stats := layout.PartitionStatistics()
	assert.Equal(t, 1, stats.MinElements)
	assert.Equal(t, 2, stats.MaxElements)
	assert.InDelta(t, 1.2, stats.Imbalance, 1e-12)
}

func TestElementGroups(t *testing.T) {
	g := hexStack(2)
	g.Elements = append(g.Elements, mesh.ElementSpec{
		ID:       3,
		Topology: topology.ShellQuad4,
		Nodes:    []mesh.EntityID{5, 6, 7, 8},
	})
	conn, err := ConnectivityFromMesh(g)
	require.NoError(t, err)
	pb := &PartitionBuilder{Mesh: conn, NumPartitions: 1}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	groups := layout.Partitions[0].TypeGroups
	require.Len(t, groups, 2)
	assert.Equal(t, ElementGroup{Topology: topology.Hex8, Count: 2, NumNodes: 8, LocalIDs: []int{0, 1}}, groups[0])
	assert.Equal(t, ElementGroup{Topology: topology.ShellQuad4, StartIndex: 2, Count: 1, NumNodes: 4, LocalIDs: []int{2}}, groups[1])
}

func TestCommunicationSymmetry(t *testing.T) {
	// Partition 0 sends to 1, but 1 doesn't declare receiving from 0
	plans := []*CommPlan{
		{PartitionID: 0, RemotePartitions: []RemotePartition{{PartitionID: 1, SendCount: 10, RecvCount: 10}}},
		{PartitionID: 1},
	}
	assert.Error(t, validateCommunicationSymmetry(plans))

	// Counts differ by direction but agree pairwise
	plans = []*CommPlan{
		{PartitionID: 0, RemotePartitions: []RemotePartition{{PartitionID: 1, SendCount: 10, RecvCount: 5}}},
		{PartitionID: 1, RemotePartitions: []RemotePartition{{PartitionID: 0, SendCount: 5, RecvCount: 10}}},
	}
	assert.NoError(t, validateCommunicationSymmetry(plans))

	// Partition 1 expects 8 but partition 0 sends 10
	plans[1].RemotePartitions[0].RecvCount = 8
	assert.Error(t, validateCommunicationSymmetry(plans))
}

func TestLayoutFromAssignment(t *testing.T) {
	conn, err := ConnectivityFromMesh(hexStack(3))
	require.NoError(t, err)
	layout, err := LayoutFromAssignment(conn, []int{1, 0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, layout.Partitions[0].Elements)
	assert.Equal(t, []int{0, 2}, layout.Partitions[1].Elements)
	assert.Equal(t, []int{2, 2}, CutFaceCount(AnalyzeCutFaces(layout, conn), 2))

	_, err = LayoutFromAssignment(conn, []int{0, 2, 1}, 2)
	assert.Error(t, err)
	_, err = LayoutFromAssignment(conn, []int{0}, 2)
	assert.Error(t, err)
}
