package elemgraph

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// Neighbor is an element reached across a side, possibly through shells
type Neighbor struct {
	Elem     mesh.EntityID     `msgpack:"e"`
	Side     int               `msgpack:"s"`
	Proc     int               `msgpack:"p"`
	Topology topology.Topology `msgpack:"t"`
}

func compareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Elem, b.Elem); c != 0 {
		return c
	}
	return cmp.Compare(a.Side, b.Side)
}

// filterShellEdges removes the edges from a solid side to other solids when
// a shell lies on that side. Returns the number of edges removed.
func (g *Graph) filterShellEdges() int {
	removed := 0
	for _, id := range g.adj.Vertices() {
		t := g.adj.Topology(id)
		if t.IsShell() {
			continue
		}
		for side := range t.NumSides() {
			edges := g.adj.EdgesOfSide(id, side)
			if !slices.ContainsFunc(edges, func(e GraphEdge) bool { return g.peerTopology(e).IsShell() }) {
				continue
			}
			for _, e := range edges {
				if g.peerTopology(e).IsShell() {
					continue
				}
				if g.removeEdge(e) {
					removed++
				}
			}
		}
	}
	return removed
}

// FilterShellEdges drops solid-to-solid edges blocked by a shell. The build
// and the incremental operations already apply it.
func (g *Graph) FilterShellEdges() int {
	n := g.filterShellEdges()
	g.updateCounts()
	return n
}

// TrueNeighbors returns the solid elements across side of id, walking
// through local shells. Edges to remote shells cannot be followed locally
// and are returned as unresolved.
func (g *Graph) TrueNeighbors(id LocalID, side int) ([]Neighbor, []GraphEdge) {
	g.adj.mustVertex(id)
	var (
		out        []Neighbor
		unresolved []GraphEdge
		visited    = map[SideRef]bool{{Elem: id, Side: side}: true}
		walk       func(ref SideRef)
	)
	walk = func(ref SideRef) {
		for _, e := range g.adj.EdgesOfSide(ref.Elem, ref.Side) {
			peerTopo := g.peerTopology(e)
			if e.IsRemote() {
				if peerTopo.IsShell() {
					unresolved = append(unresolved, e)
					continue
				}
				out = append(out, Neighbor{
					Elem:     e.Elem2.GlobalID(),
					Side:     e.Side2,
					Proc:     g.parInfo[e].OtherProc,
					Topology: peerTopo,
				})
				continue
			}
			peer := e.Elem2.LocalID()
			if peerTopo.IsShell() {
				next := SideRef{Elem: peer, Side: 1 - e.Side2}
				if !visited[next] {
					visited[next] = true
					walk(next)
				}
				continue
			}
			if visited[SideRef{Elem: peer, Side: e.Side2}] {
				continue
			}
			out = append(out, Neighbor{
				Elem:     g.GlobalID(peer),
				Side:     e.Side2,
				Proc:     g.Rank(),
				Topology: peerTopo,
			})
		}
	}
	walk(SideRef{Elem: id, Side: side})
	slices.SortFunc(out, compareNeighbors)
	return slices.CompactFunc(out, func(a, b Neighbor) bool { return compareNeighbors(a, b) == 0 }), unresolved
}

type neighborQuery struct {
	Query     int           `msgpack:"q"`
	Shell     mesh.EntityID `msgpack:"e"`
	ShellSide int           `msgpack:"s"`
}

type neighborAnswer struct {
	Query     int        `msgpack:"q"`
	Neighbors []Neighbor `msgpack:"n"`
}

// ResolveTrueNeighbors finds the solid neighbors of every ref, asking the
// owners of remote shells for what lies behind them. Each remote shell is
// queried once: every shell stacked on a face is connected to the solids on
// both sides of it, so the first owner asked already sees them. Remote shells
// reported back by that owner are not queried in turn. Collective.
func (g *Graph) ResolveTrueNeighbors(ctx context.Context, refs []SideRef) (map[SideRef][]Neighbor, error) {
	out := make(map[SideRef][]Neighbor, len(refs))
	type pending struct {
		ref  SideRef
		proc int
		q    neighborQuery
	}
	var queries []pending
	for _, ref := range refs {
		nbrs, unresolved := g.TrueNeighbors(ref.Elem, ref.Side)
		out[ref] = nbrs
		for _, e := range unresolved {
			queries = append(queries, pending{
				ref:  ref,
				proc: g.parInfo[e].OtherProc,
				q:    neighborQuery{Query: len(queries), Shell: e.Elem2.GlobalID(), ShellSide: 1 - e.Side2},
			})
		}
	}

	bufs, err := comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for i := range queries {
			if err := x.Buffer(queries[i].proc).Pack(&queries[i].q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("neighbor query: %w", err)
	}
	answers := make([][]neighborAnswer, g.comm.Size())
	if err := comm.UnpackAll(bufs, func(from int, q neighborQuery) error {
		h, ok := g.bulk.Handle(q.Shell)
		if !ok {
			return fmt.Errorf("%w: shell %d queried by rank %d", ErrNotInGraph, q.Shell, from)
		}
		id, ok := g.adj.LocalID(h)
		if !ok {
			return fmt.Errorf("%w: shell %d queried by rank %d", ErrNotInGraph, q.Shell, from)
		}
		nbrs, _ := g.TrueNeighbors(id, q.ShellSide)
		answers[from] = append(answers[from], neighborAnswer{Query: q.Query, Neighbors: nbrs})
		return nil
	}); err != nil {
		return nil, err
	}

	bufs, err = comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for p, list := range answers {
			for i := range list {
				if err := x.Buffer(p).Pack(&list[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("neighbor answer: %w", err)
	}
	if err := comm.UnpackAll(bufs, func(from int, a neighborAnswer) error {
		if a.Query < 0 || a.Query >= len(queries) {
			return fmt.Errorf("rank %d answered unknown query %d", from, a.Query)
		}
		ref := queries[a.Query].ref
		out[ref] = append(out[ref], a.Neighbors...)
		return nil
	}); err != nil {
		return nil, err
	}
	for ref, nbrs := range out {
		slices.SortFunc(nbrs, compareNeighbors)
		out[ref] = slices.CompactFunc(nbrs, func(a, b Neighbor) bool { return compareNeighbors(a, b) == 0 })
	}
	return out, nil
}
