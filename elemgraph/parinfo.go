package elemgraph

import (
	"slices"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// ParallelEdgeInfo is what this rank knows about the remote end of a remote
// edge
type ParallelEdgeInfo struct {
	// Rank owning the remote element
	OtherProc int

	// Relates the local side's node order to the remote side's:
	// remote[i] == local[P[i]]
	Permutation int

	// Side id both ranks use when the shared side is materialized
	ChosenSideID mesh.EntityID

	RemoteTopology topology.Topology

	// Remote element belongs to the body being skinned and is still active
	InBodyToBeSkinned bool

	// Remote element is void material
	IsAir bool

	// Sorted part names of the remote element
	RemoteParts []string
}

func (p *ParallelEdgeInfo) clone() ParallelEdgeInfo {
	c := *p
	c.RemoteParts = slices.Clone(p.RemoteParts)
	return c
}

// RemoteSideNodes reconstructs the remote side's node order from the local
// side nodes
func (p *ParallelEdgeInfo) RemoteSideNodes(shape topology.Topology, local []mesh.EntityID) []mesh.EntityID {
	return topology.Permute(shape, local, p.Permutation)
}
