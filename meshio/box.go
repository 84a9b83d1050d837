package meshio

import (
	"fmt"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// HexBox builds a structured nx by ny by nz block of Hex8 elements. Elements
// are numbered x fastest, starting at 1.
func HexBox(nx, ny, nz int) (*mesh.Global, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("invalid box dimensions %dx%dx%d", nx, ny, nz)
	}
	node := func(i, j, k int) mesh.EntityID {
		return mesh.EntityID(1 + i + (nx+1)*(j+(ny+1)*k))
	}
	g := &mesh.Global{Elements: make([]mesh.ElementSpec, 0, nx*ny*nz)}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				g.Elements = append(g.Elements, mesh.ElementSpec{
					ID:       mesh.EntityID(len(g.Elements) + 1),
					Topology: topology.Hex8,
					Nodes: []mesh.EntityID{
						node(i, j, k), node(i+1, j, k), node(i+1, j+1, k), node(i, j+1, k),
						node(i, j, k+1), node(i+1, j, k+1), node(i+1, j+1, k+1), node(i, j+1, k+1),
					},
					Parts: []string{"block_1"},
				})
			}
		}
	}
	return g, nil
}
