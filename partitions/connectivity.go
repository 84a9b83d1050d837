package partitions

import (
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// Connectivity provides the mesh topology needed for partitioning
type Connectivity struct {
	NumElements int
	Topologies  []topology.Topology
	IDs         []mesh.EntityID

	// Face connectivity for minimizing communication. A boundary face
	// points back at its own element and face.
	EToE [][]int // Element-to-element connectivity
	EToF [][]int // Element-to-face connectivity
}

// Sorted side nodes, zero padded. Sides have at most four nodes.
type faceKey [4]mesh.EntityID

type faceRef struct {
	elem, face int
}

// ConnectivityFromMesh matches element faces by their node sets. Faces shared
// by more than two elements, as with shells, connect each element to the
// first other element found on the face.
func ConnectivityFromMesh(g *mesh.Global) (*Connectivity, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.NumElements()
	conn := &Connectivity{
		NumElements: n,
		Topologies:  make([]topology.Topology, n),
		IDs:         make([]mesh.EntityID, n),
		EToE:        make([][]int, n),
		EToF:        make([][]int, n),
	}
	faces := make(map[faceKey][]faceRef)
	for k, spec := range g.Elements {
		conn.Topologies[k] = spec.Topology
		conn.IDs[k] = spec.ID
		nf := spec.Topology.NumSides()
		conn.EToE[k] = make([]int, nf)
		conn.EToF[k] = make([]int, nf)
		for f := 0; f < nf; f++ {
			conn.EToE[k][f], conn.EToF[k][f] = k, f
			nodes, err := topology.SideNodes(spec.Topology, f, spec.Nodes)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", spec.ID, err)
			}
			if len(nodes) > len(faceKey{}) {
				return nil, fmt.Errorf("element %d face %d has %d nodes", spec.ID, f, len(nodes))
			}
			var key faceKey
			copy(key[:], nodes)
			slices.Sort(key[:len(nodes)])
			faces[key] = append(faces[key], faceRef{k, f})
		}
	}
	for _, refs := range faces {
		for _, r := range refs {
			for _, o := range refs {
				if o.elem != r.elem {
					conn.EToE[r.elem][r.face], conn.EToF[r.elem][r.face] = o.elem, o.face
					break
				}
			}
		}
	}
	return conn, nil
}

// IsBoundary reports whether face f of element k has no neighbor
func (c *Connectivity) IsBoundary(k, f int) bool {
	return c.EToE[k][f] == k
}
