package topology

import (
	"fmt"
	"strings"
)

// Topology identifies the shape of an element or of one of its sides
type Topology uint8

const (
	Invalid Topology = iota

	// Side-only shape
	Point

	// 1D and 2D element types, also used as side shapes
	Line2 // Line segment
	Tri3  // Triangle
	Quad4 // Quadrilateral

	// 3D element types
	Tet4     // Tetrahedron
	Hex8     // Hexahedron
	Wedge6   // Triangular prism
	Pyramid5 // Square-based pyramid

	// Zero-thickness element types
	ShellLine2
	ShellTri3
	ShellQuad4
)

type definition struct {
	name      string
	numNodes  int
	shell     bool
	sideTopos []Topology
	sideNodes [][]int
}

var definitions = map[Topology]definition{
	Point: {name: "POINT", numNodes: 1},
	Line2: {
		name:      "LINE_2",
		numNodes:  2,
		sideTopos: []Topology{Point, Point},
		sideNodes: [][]int{{0}, {1}},
	},
	Tri3: {
		name:      "TRI_3",
		numNodes:  3,
		sideTopos: []Topology{Line2, Line2, Line2},
		sideNodes: [][]int{{0, 1}, {1, 2}, {2, 0}},
	},
	Quad4: {
		name:      "QUAD_4",
		numNodes:  4,
		sideTopos: []Topology{Line2, Line2, Line2, Line2},
		sideNodes: [][]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	},
	Tet4: {
		name:      "TET_4",
		numNodes:  4,
		sideTopos: []Topology{Tri3, Tri3, Tri3, Tri3},
		sideNodes: [][]int{{0, 1, 3}, {1, 2, 3}, {0, 3, 2}, {0, 2, 1}},
	},
	Hex8: {
		name:      "HEX_8",
		numNodes:  8,
		sideTopos: []Topology{Quad4, Quad4, Quad4, Quad4, Quad4, Quad4},
		sideNodes: [][]int{
			{0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6},
			{0, 4, 7, 3}, {0, 3, 2, 1}, {4, 5, 6, 7},
		},
	},
	Wedge6: {
		name:      "WEDGE_6",
		numNodes:  6,
		sideTopos: []Topology{Quad4, Quad4, Quad4, Tri3, Tri3},
		sideNodes: [][]int{{0, 1, 4, 3}, {1, 2, 5, 4}, {0, 3, 5, 2}, {0, 2, 1}, {3, 4, 5}},
	},
	Pyramid5: {
		name:      "PYRAMID_5",
		numNodes:  5,
		sideTopos: []Topology{Tri3, Tri3, Tri3, Tri3, Quad4},
		sideNodes: [][]int{{0, 1, 4}, {1, 2, 4}, {2, 3, 4}, {0, 4, 3}, {0, 3, 2, 1}},
	},
	ShellLine2: {
		name:      "SHELL_LINE_2",
		numNodes:  2,
		shell:     true,
		sideTopos: []Topology{Line2, Line2},
		sideNodes: [][]int{{0, 1}, {1, 0}},
	},
	ShellTri3: {
		name:      "SHELL_TRI_3",
		numNodes:  3,
		shell:     true,
		sideTopos: []Topology{Tri3, Tri3},
		sideNodes: [][]int{{0, 1, 2}, {0, 2, 1}},
	},
	ShellQuad4: {
		name:      "SHELL_QUAD_4",
		numNodes:  4,
		shell:     true,
		sideTopos: []Topology{Quad4, Quad4},
		sideNodes: [][]int{{0, 1, 2, 3}, {0, 3, 2, 1}},
	},
}

func (t Topology) String() string {
	if d, ok := definitions[t]; ok {
		return d.name
	}
	return fmt.Sprintf("INVALID(%d)", uint8(t))
}

// Parse returns the topology with the given name, case insensitive
func Parse(name string) (Topology, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, d := range definitions {
		if d.name == upper {
			return t, nil
		}
	}
	return Invalid, fmt.Errorf("unknown topology %q", name)
}

// Valid reports whether t is a known topology
func (t Topology) Valid() bool {
	_, ok := definitions[t]
	return ok
}

// IsElement reports whether t can be used for an element (it has sides)
func (t Topology) IsElement() bool {
	return len(definitions[t].sideTopos) > 0
}

// NumNodes returns the number of nodes of the topology
func (t Topology) NumNodes() int {
	return definitions[t].numNodes
}

// NumSides returns the number of sides of an element topology
func (t Topology) NumSides() int {
	return len(definitions[t].sideTopos)
}

// IsShell reports whether t is a zero-thickness element
func (t Topology) IsShell() bool {
	return definitions[t].shell
}

// SideTopology returns the topology of side ordinal ord
func (t Topology) SideTopology(ord int) Topology {
	d := definitions[t]
	if ord < 0 || ord >= len(d.sideTopos) {
		return Invalid
	}
	return d.sideTopos[ord]
}

// SideNodeOrdinals returns the element node ordinals forming side ord, in
// outward-facing order. Returns nil for an invalid ordinal.
func (t Topology) SideNodeOrdinals(ord int) []int {
	d := definitions[t]
	if ord < 0 || ord >= len(d.sideNodes) {
		return nil
	}
	return d.sideNodes[ord]
}

// SideNodes selects the nodes of side ord from an element's node list
func SideNodes[T any](t Topology, ord int, nodes []T) ([]T, error) {
	if len(nodes) != t.NumNodes() {
		return nil, fmt.Errorf("%s expects %d nodes, got %d", t, t.NumNodes(), len(nodes))
	}
	ords := t.SideNodeOrdinals(ord)
	if ords == nil {
		return nil, fmt.Errorf("%s has no side %d", t, ord)
	}
	out := make([]T, len(ords))
	for i, o := range ords {
		out[i] = nodes[o]
	}
	return out, nil
}
