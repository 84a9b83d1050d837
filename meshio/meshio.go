// Package meshio reads mesh files into the undistributed mesh description.
package meshio

import (
	"fmt"
	"slices"

	"github.com/notargets/gocfd/DG3D/mesh/readers"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// Element topology by vertex count. Gmsh and SU2 vertex orders for these
// shapes match the side definitions in topology.
var byVertexCount = map[int]topology.Topology{
	3: topology.Tri3,
	4: topology.Tet4,
	5: topology.Pyramid5,
	6: topology.Wedge6,
	8: topology.Hex8,
}

// ReadMeshFile reads any mesh format the gocfd readers support. The returned
// partition map is the file's element to partition assignment, nil when the
// file carries none.
func ReadMeshFile(path string) (*mesh.Global, []int, error) {
	m, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := FromEToV(m.EtoV, "block_1")
	if err != nil {
		return nil, nil, fmt.Errorf("converting %s: %w", path, err)
	}
	var eToP []int
	if len(m.EToP) == len(g.Elements) {
		eToP = m.EToP
	}
	return g, eToP, nil
}

// FromEToV converts a zero based element to vertex table. Element k gets id
// k+1 and vertex v becomes node v+1.
func FromEToV(eToV [][]int, parts ...string) (*mesh.Global, error) {
	g := &mesh.Global{Elements: make([]mesh.ElementSpec, len(eToV))}
	for k, verts := range eToV {
		topo, ok := byVertexCount[len(verts)]
		if !ok {
			return nil, fmt.Errorf("%w: element %d has %d vertices",
				mesh.ErrMalformedElement, k, len(verts))
		}
		nodes := make([]mesh.EntityID, len(verts))
		for i, v := range verts {
			if v < 0 {
				return nil, fmt.Errorf("%w: element %d references vertex %d",
					mesh.ErrMalformedElement, k, v)
			}
			nodes[i] = mesh.EntityID(v + 1)
		}
		g.Elements[k] = mesh.ElementSpec{
			ID:       mesh.EntityID(k + 1),
			Topology: topo,
			Nodes:    nodes,
			Parts:    slices.Clone(parts),
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
