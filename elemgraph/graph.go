// Package elemgraph maintains the element-to-element adjacency graph of a
// partitioned mesh. Every rank holds a graph over its locally owned
// elements; edges to elements of other ranks carry a ParallelEdgeInfo with
// the side id both ranks agreed on.
//
// Operations that create or remove remote edges are collective: every rank
// of the communicator must call them in the same order.
package elemgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/config"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/sideid"
	"github.com/notargets/elemgraph/topology"
)

var (
	// ErrNotInGraph is returned for elements that were never added to the
	// graph
	ErrNotInGraph = errors.New("elemgraph: element not in graph")
	// ErrMalformedSide is returned when side nodes do not match between
	// ranks or do not fit the declared topology
	ErrMalformedSide = errors.New("elemgraph: malformed side")
)

// Graph is one rank's element adjacency graph
type Graph struct {
	bulk *mesh.Bulk
	comm comm.Communicator
	opts config.Options
	pool *sideid.Pool

	adj        *AdjacencyGraph
	parInfo    map[GraphEdge]*ParallelEdgeInfo
	coincident map[LocalID][]GraphEdge

	numParallelEdges int
}

// New builds the graph of every element owned by bulk. Collective.
func New(ctx context.Context, bulk *mesh.Bulk, c comm.Communicator, opts config.Options) (*Graph, error) {
	opts.ApplyDefaults()
	g := &Graph{
		bulk:       bulk,
		comm:       c,
		opts:       opts,
		pool:       sideid.NewPool(c, mesh.EntityID(opts.FirstSideID)),
		adj:        NewAdjacencyGraph(),
		parInfo:    make(map[GraphEdge]*ParallelEdgeInfo),
		coincident: make(map[LocalID][]GraphEdge),
	}
	if err := g.fill(ctx); err != nil {
		return nil, fmt.Errorf("rank %d: element graph: %w", c.Rank(), err)
	}
	return g, nil
}

func (g *Graph) fill(ctx context.Context) error {
	owned := g.bulk.OwnedElements()
	ids := make([]LocalID, 0, len(owned))
	for _, h := range owned {
		ids = append(ids, g.adj.AddVertex(h, g.bulk.Topology(h)))
	}

	numLocal, err := g.addLocalEdges(ids)
	if err != nil {
		return err
	}
	cands, err := g.boundaryCandidates(ids)
	if err != nil {
		return err
	}

	reserve := len(cands) + numLocal + g.opts.BoundaryFacesPerElement*len(ids)
	if err := g.pool.Reserve(ctx, reserve); err != nil {
		return err
	}
	if err := g.fillParallelGraph(ctx, cands); err != nil {
		return err
	}
	if err := g.resolveCoincidence(ctx); err != nil {
		return err
	}
	g.filterShellEdges()
	g.updateCounts()

	ctxlog.FromContext(ctx).Info("built element graph",
		"vertices", g.NumVertices(),
		"edges", g.NumEdges(),
		"remote", g.numParallelEdges,
		"coincident", g.NumCoincidentEdges())
	return nil
}

// Bulk returns the mesh the graph was built from
func (g *Graph) Bulk() *mesh.Bulk { return g.bulk }

// Pool returns the side id pool owned by the graph
func (g *Graph) Pool() *sideid.Pool { return g.pool }

// Rank returns the rank of this graph
func (g *Graph) Rank() int { return g.comm.Rank() }

// LocalID returns the vertex of element h
func (g *Graph) LocalID(h mesh.Handle) (LocalID, bool) { return g.adj.LocalID(h) }

// Handle returns the element of vertex id
func (g *Graph) Handle(id LocalID) mesh.Handle { return g.adj.Handle(id) }

// GlobalID returns the element id of vertex id
func (g *Graph) GlobalID(id LocalID) mesh.EntityID { return g.bulk.ID(g.adj.Handle(id)) }

// Topology returns the topology of vertex id
func (g *Graph) Topology(id LocalID) topology.Topology { return g.adj.Topology(id) }

// Vertices returns the live vertices in ascending order
func (g *Graph) Vertices() []LocalID { return g.adj.Vertices() }

// EdgesOf returns the ordered edges of vertex id, coincident edges excluded
func (g *Graph) EdgesOf(id LocalID) []GraphEdge { return g.adj.EdgesOf(id) }

// EdgesOfSide returns the edges leaving one side of vertex id
func (g *Graph) EdgesOfSide(id LocalID, side int) []GraphEdge { return g.adj.EdgesOfSide(id, side) }

// CoincidentEdgesOf returns the edges from id to elements coincident with it
func (g *Graph) CoincidentEdgesOf(id LocalID) []GraphEdge {
	g.adj.mustVertex(id)
	return slices.Clone(g.coincident[id])
}

// ParallelInfo returns a copy of the parallel info of remote edge e
func (g *Graph) ParallelInfo(e GraphEdge) (ParallelEdgeInfo, bool) {
	info, ok := g.parInfo[e]
	if !ok {
		return ParallelEdgeInfo{}, false
	}
	return info.clone(), true
}

// NumVertices returns the number of vertices
func (g *Graph) NumVertices() int { return g.adj.NumVertices() }

// NumEdges returns the number of directed edges, coincident edges excluded
func (g *Graph) NumEdges() int { return g.adj.NumEdges() }

// NumParallelEdges returns the number of remote edges, coincident excluded
func (g *Graph) NumParallelEdges() int { return g.numParallelEdges }

// NumCoincidentEdges returns the number of directed coincident edges
func (g *Graph) NumCoincidentEdges() int {
	n := 0
	for _, edges := range g.coincident {
		n += len(edges)
	}
	return n
}

func (g *Graph) updateCounts() {
	g.numParallelEdges = 0
	for e := range g.parInfo {
		if g.adj.HasEdge(e) {
			g.numParallelEdges++
		}
	}
}

func (g *Graph) sideNodes(id LocalID, side int) ([]mesh.EntityID, error) {
	nodes, err := g.bulk.SideNodes(g.adj.Handle(id), side)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSide, err)
	}
	return nodes, nil
}

func (g *Graph) sideShape(id LocalID, side int) topology.Topology {
	return g.adj.Topology(id).SideTopology(side)
}

// peerTopology returns the topology of the element at the far end of e
func (g *Graph) peerTopology(e GraphEdge) topology.Topology {
	if e.IsRemote() {
		if info, ok := g.parInfo[e]; ok {
			return info.RemoteTopology
		}
		return topology.Invalid
	}
	return g.adj.Topology(e.Elem2.LocalID())
}

// peerGlobalID returns the element id at the far end of e
func (g *Graph) peerGlobalID(e GraphEdge) mesh.EntityID {
	if e.IsRemote() {
		return e.Elem2.GlobalID()
	}
	return g.GlobalID(e.Elem2.LocalID())
}

// inBody reports whether element h is part of the body to be skinned
func (g *Graph) inBody(h mesh.Handle) bool {
	return g.opts.SkinPart == "" || g.bulk.InPart(h, g.opts.SkinPart)
}

func (g *Graph) isAir(h mesh.Handle) bool {
	return g.opts.AirPart != "" && g.bulk.InPart(h, g.opts.AirPart)
}

// addRemoteEdge inserts a remote edge with its parallel info
func (g *Graph) addRemoteEdge(e GraphEdge, info ParallelEdgeInfo) bool {
	if !g.adj.AddEdge(e) {
		return false
	}
	g.parInfo[e] = &info
	return true
}

// removeEdge deletes e from the graph or the coincident set. Local edges are
// removed in both directions, remote edges lose their parallel info.
func (g *Graph) removeEdge(e GraphEdge) bool {
	removed := g.adj.DeleteEdge(e) || g.removeCoincident(e)
	if !removed {
		return false
	}
	if e.IsRemote() {
		delete(g.parInfo, e)
	} else if g.adj.IsVertex(e.Elem2.LocalID()) {
		rev := e.Reverse()
		if !g.adj.DeleteEdge(rev) {
			g.removeCoincident(rev)
		}
	}
	return true
}

func (g *Graph) addCoincident(e GraphEdge) {
	list := g.coincident[e.Elem1]
	i, found := slices.BinarySearchFunc(list, e, compareEdges)
	if !found {
		g.coincident[e.Elem1] = slices.Insert(list, i, e)
	}
}

func (g *Graph) removeCoincident(e GraphEdge) bool {
	list := g.coincident[e.Elem1]
	i, found := slices.BinarySearchFunc(list, e, compareEdges)
	if !found {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(g.coincident, e.Elem1)
	} else {
		g.coincident[e.Elem1] = list
	}
	return true
}

// remoteEdges returns every remote edge of id, coincident ones included
func (g *Graph) remoteEdges(id LocalID) []GraphEdge {
	var out []GraphEdge
	for _, e := range g.adj.edges[id] {
		if e.IsRemote() {
			out = append(out, e)
		}
	}
	for _, e := range g.coincident[id] {
		if e.IsRemote() {
			out = append(out, e)
		}
	}
	return out
}

// describe returns what exchange records carry about local element h
func (g *Graph) describe(h mesh.Handle) (inBody, isAir bool, parts []string) {
	return g.inBody(h), g.isAir(h), slices.Clone(g.bulk.Parts(h))
}
