package elemgraph

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// sidesPerNode spaces element sides in gonum node ids; no topology has more
// than 8 sides
const sidesPerNode = 8

func sideNodeID(id LocalID, side int) int64 { return int64(id)*sidesPerNode + int64(side) }

func sideRefOf(n int64) SideRef {
	return SideRef{Elem: LocalID(n / sidesPerNode), Side: int(n % sidesPerNode)}
}

// CoincidenceGroup is a set of local elements occupying the same space
type CoincidenceGroup struct {
	Members     []LocalID
	Canonical   LocalID
	CanonicalID mesh.EntityID
	// Remote coincident elements of the group, by global id
	Remote []mesh.EntityID
}

// isCoincident reports whether e joins two elements with the same solid
// topology through a rotation
func (g *Graph) isCoincident(e GraphEdge) bool {
	if !e.IsRemote() {
		return g.localEdgeCoincident(e)
	}
	info, ok := g.parInfo[e]
	if !ok {
		return false
	}
	shape := g.sideShape(e.Elem1, e.Side1)
	return topology.IsCoincident(g.adj.Topology(e.Elem1), info.RemoteTopology, shape, info.Permutation)
}

// extractCoincidentEdges moves coincident edges out of the graph. Returns
// the number moved.
func (g *Graph) extractCoincidentEdges() int {
	moved := 0
	for _, id := range g.adj.Vertices() {
		for _, e := range g.adj.EdgesOf(id) {
			if !g.isCoincident(e) {
				continue
			}
			g.adj.DeleteEdge(e)
			g.addCoincident(e)
			moved++
		}
	}
	return moved
}

// resolveCoincidence extracts coincident edges and agrees on one chosen side
// id per shared face. Running it again without mesh changes is a no-op.
// Collective.
func (g *Graph) resolveCoincidence(ctx context.Context) error {
	moved := g.extractCoincidentEdges()
	if moved > 0 {
		ctxlog.FromContext(ctx).Debug("extracted coincident edges", "count", moved)
	}
	return g.fixChosenSideIDs(ctx)
}

// CoincidenceGroups returns the groups of local elements linked by
// coincident edges, ordered by canonical member. The canonical member of a
// group is the one with the lowest global id.
func (g *Graph) CoincidenceGroups() []CoincidenceGroup {
	cg := simple.NewUndirectedGraph()
	remote := make(map[LocalID][]mesh.EntityID)
	for id, edges := range g.coincident {
		if cg.Node(int64(id)) == nil {
			cg.AddNode(simple.Node(int64(id)))
		}
		for _, e := range edges {
			if e.IsRemote() {
				remote[id] = append(remote[id], e.Elem2.GlobalID())
				continue
			}
			other := int64(e.Elem2.LocalID())
			if cg.Node(other) == nil {
				cg.AddNode(simple.Node(other))
			}
			if other != int64(id) {
				cg.SetEdge(cg.NewEdge(simple.Node(int64(id)), simple.Node(other)))
			}
		}
	}

	var groups []CoincidenceGroup
	for _, comp := range topo.ConnectedComponents(cg) {
		var grp CoincidenceGroup
		for _, n := range comp {
			id := LocalID(n.ID())
			grp.Members = append(grp.Members, id)
			grp.Remote = append(grp.Remote, remote[id]...)
		}
		slices.Sort(grp.Members)
		slices.Sort(grp.Remote)
		grp.Remote = slices.Compact(grp.Remote)
		grp.Canonical = grp.Members[0]
		grp.CanonicalID = g.GlobalID(grp.Canonical)
		for _, id := range grp.Members[1:] {
			if gid := g.GlobalID(id); gid < grp.CanonicalID {
				grp.Canonical, grp.CanonicalID = id, gid
			}
		}
		groups = append(groups, grp)
	}
	slices.SortFunc(groups, func(a, b CoincidenceGroup) int { return cmp.Compare(a.Canonical, b.Canonical) })
	return groups
}

// chosenRecord carries the chosen id of a remote edge to its mirror
type chosenRecord struct {
	Elem     mesh.EntityID `msgpack:"e"`
	Side     int           `msgpack:"s"`
	Peer     mesh.EntityID `msgpack:"p"`
	PeerSide int           `msgpack:"ps"`
	Chosen   mesh.EntityID `msgpack:"c"`
}

// sideClusters groups the element sides that describe one shared face with
// more than two elements: sides with a coincident edge, and solid sides
// with several solid peers. Sides are linked by the local edges between
// them. Each cluster lists its remote edges.
func (g *Graph) sideClusters() [][]GraphEdge {
	cg := simple.NewUndirectedGraph()
	member := func(id LocalID, side int) bool {
		return cg.Node(sideNodeID(id, side)) != nil
	}
	for _, id := range g.adj.Vertices() {
		t := g.adj.Topology(id)
		for side := range t.NumSides() {
			inCluster := false
			if slices.ContainsFunc(g.coincident[id], func(e GraphEdge) bool { return e.Side1 == side }) {
				inCluster = true
			} else if !t.IsShell() {
				solidPeers := 0
				for _, e := range g.adj.edges[id] {
					if e.Side1 == side && !g.peerTopology(e).IsShell() {
						solidPeers++
					}
				}
				inCluster = solidPeers >= 2
			}
			if inCluster {
				cg.AddNode(simple.Node(sideNodeID(id, side)))
			}
		}
	}
	link := func(e GraphEdge) {
		if e.IsRemote() {
			return
		}
		other := e.Elem2.LocalID()
		if member(e.Elem1, e.Side1) && member(other, e.Side2) && (e.Elem1 != other || e.Side1 != e.Side2) {
			cg.SetEdge(cg.NewEdge(simple.Node(sideNodeID(e.Elem1, e.Side1)), simple.Node(sideNodeID(other, e.Side2))))
		}
	}
	for _, id := range g.adj.Vertices() {
		for _, e := range g.adj.edges[id] {
			link(e)
		}
		for _, e := range g.coincident[id] {
			link(e)
		}
	}

	var clusters [][]GraphEdge
	for _, comp := range topo.ConnectedComponents(cg) {
		slices.SortFunc(comp, func(a, b graph.Node) int { return cmp.Compare(a.ID(), b.ID()) })
		var edges []GraphEdge
		for _, n := range comp {
			ref := sideRefOf(n.ID())
			for _, e := range g.remoteEdges(ref.Elem) {
				if e.Side1 == ref.Side {
					edges = append(edges, e)
				}
			}
		}
		if len(edges) > 1 {
			clusters = append(clusters, edges)
		}
	}
	return clusters
}

// fixChosenSideIDs lowers the chosen id of every remote edge of a cluster to
// the cluster minimum and propagates changes to the mirror edges until no
// rank changes anything. Collective.
func (g *Graph) fixChosenSideIDs(ctx context.Context) error {
	found, err := comm.AnyTrue(ctx, g.comm, len(g.coincident) > 0)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	clusters := g.sideClusters()
	rounds := 0
	for {
		rounds++
		var dirty []GraphEdge
		for _, edges := range clusters {
			low := g.parInfo[edges[0]].ChosenSideID
			for _, e := range edges[1:] {
				low = min(low, g.parInfo[e].ChosenSideID)
			}
			for _, e := range edges {
				if info := g.parInfo[e]; info.ChosenSideID != low || rounds == 1 {
					info.ChosenSideID = low
					dirty = append(dirty, e)
				}
			}
		}

		bufs, err := comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
			for _, e := range dirty {
				info := g.parInfo[e]
				rec := chosenRecord{
					Elem:     e.Elem2.GlobalID(),
					Side:     e.Side2,
					Peer:     g.GlobalID(e.Elem1),
					PeerSide: e.Side1,
					Chosen:   info.ChosenSideID,
				}
				if err := x.Buffer(info.OtherProc).Pack(&rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("chosen side id exchange: %w", err)
		}
		changed := false
		if err := comm.UnpackAll(bufs, func(from int, rec chosenRecord) error {
			e, err := g.mirrorEdge(rec.Elem, rec.Side, rec.Peer, rec.PeerSide)
			if err != nil {
				return fmt.Errorf("chosen id from rank %d: %w", from, err)
			}
			if info := g.parInfo[e]; rec.Chosen < info.ChosenSideID {
				info.ChosenSideID = rec.Chosen
				changed = true
			}
			return nil
		}); err != nil {
			return err
		}
		more, err := comm.AnyTrue(ctx, g.comm, changed)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	ctxlog.FromContext(ctx).Debug("chosen side ids settled", "clusters", len(clusters), "rounds", rounds)
	return nil
}

// mirrorEdge finds the remote edge from local element elem to remote peer
func (g *Graph) mirrorEdge(elem mesh.EntityID, side int, peer mesh.EntityID, peerSide int) (GraphEdge, error) {
	h, ok := g.bulk.Handle(elem)
	if !ok {
		return GraphEdge{}, fmt.Errorf("%w: %d", ErrNotInGraph, elem)
	}
	id, ok := g.adj.LocalID(h)
	if !ok {
		return GraphEdge{}, fmt.Errorf("%w: %d", ErrNotInGraph, elem)
	}
	e := GraphEdge{Elem1: id, Side1: side, Elem2: Remote(peer), Side2: peerSide}
	if _, ok := g.parInfo[e]; !ok {
		return GraphEdge{}, fmt.Errorf("no edge from element %d side %d to %d side %d", elem, side, peer, peerSide)
	}
	return e, nil
}
