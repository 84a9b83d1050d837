package elemgraph

import (
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// AdjacencyGraph stores, for every local vertex, its ordered outgoing edges.
// Local edges are stored in both directions, remote edges once.
type AdjacencyGraph struct {
	ids      LocalIDTable
	topos    []topology.Topology
	edges    [][]GraphEdge
	numEdges int
}

// NewAdjacencyGraph returns an empty graph
func NewAdjacencyGraph() *AdjacencyGraph {
	return &AdjacencyGraph{}
}

// AddVertex adds element h and returns its local id
func (a *AdjacencyGraph) AddVertex(h mesh.Handle, topo topology.Topology) LocalID {
	if id, ok := a.ids.LocalID(h); ok {
		return id
	}
	id := a.ids.Add(h)
	if int(id) == len(a.topos) {
		a.topos = append(a.topos, topo)
		a.edges = append(a.edges, nil)
	} else {
		a.topos[id] = topo
		a.edges[id] = a.edges[id][:0]
	}
	return id
}

func (a *AdjacencyGraph) mustVertex(id LocalID) {
	if !a.ids.IsValid(id) {
		panic(fmt.Sprintf("elemgraph: local id %d is not a vertex of the graph", id))
	}
}

// IsVertex reports whether id is a live vertex
func (a *AdjacencyGraph) IsVertex(id LocalID) bool { return a.ids.IsValid(id) }

// Handle returns the mesh handle of vertex id
func (a *AdjacencyGraph) Handle(id LocalID) mesh.Handle {
	a.mustVertex(id)
	return a.ids.Handle(id)
}

// LocalID returns the vertex of element h
func (a *AdjacencyGraph) LocalID(h mesh.Handle) (LocalID, bool) { return a.ids.LocalID(h) }

// Topology returns the topology of vertex id
func (a *AdjacencyGraph) Topology(id LocalID) topology.Topology {
	a.mustVertex(id)
	return a.topos[id]
}

// AddEdge inserts e keeping the vertex's edges ordered. Returns false when
// the exact edge is already present.
func (a *AdjacencyGraph) AddEdge(e GraphEdge) bool {
	a.mustVertex(e.Elem1)
	if !e.Elem2.remote {
		a.mustVertex(e.Elem2.local)
	}
	list := a.edges[e.Elem1]
	i, found := slices.BinarySearchFunc(list, e, compareEdges)
	if found {
		return false
	}
	a.edges[e.Elem1] = slices.Insert(list, i, e)
	a.numEdges++
	return true
}

// HasEdge reports whether e is present
func (a *AdjacencyGraph) HasEdge(e GraphEdge) bool {
	if !a.ids.IsValid(e.Elem1) {
		return false
	}
	_, found := slices.BinarySearchFunc(a.edges[e.Elem1], e, compareEdges)
	return found
}

// DeleteEdge removes e, returning false when it was absent
func (a *AdjacencyGraph) DeleteEdge(e GraphEdge) bool {
	if !a.ids.IsValid(e.Elem1) {
		return false
	}
	list := a.edges[e.Elem1]
	i, found := slices.BinarySearchFunc(list, e, compareEdges)
	if !found {
		return false
	}
	a.edges[e.Elem1] = slices.Delete(list, i, i+1)
	a.numEdges--
	return true
}

// EdgesOf returns a copy of the ordered edges of id
func (a *AdjacencyGraph) EdgesOf(id LocalID) []GraphEdge {
	a.mustVertex(id)
	return slices.Clone(a.edges[id])
}

// EdgesOfSide returns the edges leaving side of id
func (a *AdjacencyGraph) EdgesOfSide(id LocalID, side int) []GraphEdge {
	a.mustVertex(id)
	var out []GraphEdge
	for _, e := range a.edges[id] {
		if e.Side1 == side {
			out = append(out, e)
		}
	}
	return out
}

// DeleteVertex removes id, its edges and the reverse of its local edges, and
// returns the id to the free-list. The removed outgoing edges are returned.
func (a *AdjacencyGraph) DeleteVertex(id LocalID) []GraphEdge {
	a.mustVertex(id)
	removed := a.edges[id]
	for _, e := range removed {
		if !e.IsRemote() && e.Elem2.local != id {
			a.DeleteEdge(e.Reverse())
		}
	}
	a.numEdges -= len(removed)
	a.edges[id] = nil
	a.topos[id] = topology.Invalid
	a.ids.Remove(id)
	return removed
}

// Vertices returns the live vertices in ascending order
func (a *AdjacencyGraph) Vertices() []LocalID {
	out := make([]LocalID, 0, a.ids.NumActive())
	for id := range a.ids.Len() {
		if a.ids.IsValid(LocalID(id)) {
			out = append(out, LocalID(id))
		}
	}
	return out
}

// NumVertices returns the number of live vertices
func (a *AdjacencyGraph) NumVertices() int { return a.ids.NumActive() }

// NumEdges returns the number of directed edges
func (a *AdjacencyGraph) NumEdges() int { return a.numEdges }
