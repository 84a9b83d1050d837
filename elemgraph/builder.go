package elemgraph

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// candidate is a side that may have a peer on another rank
type candidate struct {
	elem  LocalID
	side  int
	nodes []mesh.EntityID
	procs []int
}

// sideRecord announces one candidate side to a rank sharing all its nodes
type sideRecord struct {
	Elem     mesh.EntityID     `msgpack:"e"`
	Topology topology.Topology `msgpack:"t"`
	Side     int               `msgpack:"s"`
	Proposed mesh.EntityID     `msgpack:"p"`
	InBody   bool              `msgpack:"b"`
	IsAir    bool              `msgpack:"a"`
	Parts    []string          `msgpack:"pt"`
	Nodes    []mesh.EntityID   `msgpack:"n"`
}

// connectRecord asks the owner of Target to connect the mirror of an edge
// the sender created from Target's own announcement
type connectRecord struct {
	Elem       mesh.EntityID     `msgpack:"e"`
	Topology   topology.Topology `msgpack:"t"`
	Side       int               `msgpack:"s"`
	Chosen     mesh.EntityID     `msgpack:"c"`
	InBody     bool              `msgpack:"b"`
	IsAir      bool              `msgpack:"a"`
	Parts      []string          `msgpack:"pt"`
	Nodes      []mesh.EntityID   `msgpack:"n"`
	Target     mesh.EntityID     `msgpack:"te"`
	TargetSide int               `msgpack:"ts"`
}

type sentKey struct {
	elem LocalID
	side int
	proc int
}

// addLocalEdges connects every side of ids to the local elements sharing
// its nodes. Both directions are stored. Returns the number of directed
// edges added.
func (g *Graph) addLocalEdges(ids []LocalID) (int, error) {
	added := 0
	for _, id := range ids {
		h := g.adj.Handle(id)
		topo := g.adj.Topology(id)
		for side := range topo.NumSides() {
			nodes, err := g.sideNodes(id, side)
			if err != nil {
				return added, err
			}
			shape := topo.SideTopology(side)
			for _, h2 := range g.bulk.ElementsWithNodes(nodes) {
				if h2 == h {
					continue
				}
				id2, ok := g.adj.LocalID(h2)
				if !ok {
					continue
				}
				topo2 := g.adj.Topology(id2)
				for side2 := range topo2.NumSides() {
					if topo2.SideTopology(side2) != shape {
						continue
					}
					nodes2, err := g.sideNodes(id2, side2)
					if err != nil {
						return added, err
					}
					match, perm := topology.Equivalent(shape, nodes, nodes2)
					if !match || !topology.SidesConnect(topo, topo2, shape, perm) {
						continue
					}
					e := GraphEdge{Elem1: id, Side1: side, Elem2: Local(id2), Side2: side2}
					if g.hasEdge(e) {
						continue
					}
					g.adj.AddEdge(e)
					g.adj.AddEdge(e.Reverse())
					added += 2
				}
			}
		}
	}
	return added, nil
}

// hasEdge looks in both the graph and the coincident set
func (g *Graph) hasEdge(e GraphEdge) bool {
	if g.adj.HasEdge(e) {
		return true
	}
	_, found := slices.BinarySearchFunc(g.coincident[e.Elem1], e, compareEdges)
	return found
}

// localEdgeCoincident reports whether local edge e joins coincident elements
func (g *Graph) localEdgeCoincident(e GraphEdge) bool {
	id2 := e.Elem2.LocalID()
	shape := g.sideShape(e.Elem1, e.Side1)
	n1, err1 := g.sideNodes(e.Elem1, e.Side1)
	n2, err2 := g.sideNodes(id2, e.Side2)
	if err1 != nil || err2 != nil {
		return false
	}
	_, perm := topology.Equivalent(shape, n1, n2)
	return topology.IsCoincident(g.adj.Topology(e.Elem1), g.adj.Topology(id2), shape, perm)
}

// boundaryCandidates returns the sides of ids whose nodes are all shared
// with some other rank. A side with a local peer stays a candidate since a
// remote coincident element or shell may lie on it too.
func (g *Graph) boundaryCandidates(ids []LocalID) ([]candidate, error) {
	var out []candidate
	for _, id := range ids {
		topo := g.adj.Topology(id)
		for side := range topo.NumSides() {
			nodes, err := g.sideNodes(id, side)
			if err != nil {
				return nil, err
			}
			procs := slices.Clone(g.bulk.SharingProcs(nodes[0]))
			for _, n := range nodes[1:] {
				shared := g.bulk.SharingProcs(n)
				procs = slices.DeleteFunc(procs, func(p int) bool { return !slices.Contains(shared, p) })
			}
			if len(procs) == 0 {
				continue
			}
			out = append(out, candidate{elem: id, side: side, nodes: nodes, procs: procs})
		}
	}
	return out, nil
}

// fillParallelGraph announces every candidate to the ranks sharing its
// nodes, connects the matching local sides, and runs a second round so the
// announcer connects the mirror of edges its peer created one-sidedly.
// Collective.
func (g *Graph) fillParallelGraph(ctx context.Context, cands []candidate) error {
	log := ctxlog.FromContext(ctx)
	proposals := make([]mesh.EntityID, len(cands))
	sent := make(map[sentKey]mesh.EntityID)
	for i, c := range cands {
		id, err := g.pool.Next()
		if err != nil {
			return fmt.Errorf("proposal for element %d side %d: %w", g.GlobalID(c.elem), c.side, err)
		}
		proposals[i] = id
		for _, p := range c.procs {
			sent[sentKey{c.elem, c.side, p}] = id
		}
	}

	bufs, err := comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for i, c := range cands {
			h := g.adj.Handle(c.elem)
			inBody, isAir, parts := g.describe(h)
			rec := sideRecord{
				Elem:     g.bulk.ID(h),
				Topology: g.adj.Topology(c.elem),
				Side:     c.side,
				Proposed: proposals[i],
				InBody:   inBody,
				IsAir:    isAir,
				Parts:    parts,
				Nodes:    c.nodes,
			}
			for _, p := range c.procs {
				if err := x.Buffer(p).Pack(&rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("side exchange: %w", err)
	}

	type received struct {
		from int
		rec  sideRecord
	}
	var recs []received
	if err := comm.UnpackAll(bufs, func(from int, rec sideRecord) error {
		if rec.Topology.SideTopology(rec.Side).NumNodes() != len(rec.Nodes) {
			return fmt.Errorf("%w: element %d side %d from rank %d has %d nodes",
				ErrMalformedSide, rec.Elem, rec.Side, from, len(rec.Nodes))
		}
		recs = append(recs, received{from, rec})
		return nil
	}); err != nil {
		return err
	}
	slices.SortStableFunc(recs, func(a, b received) int {
		return slices.Compare(sortedKey(a.rec.Nodes), sortedKey(b.rec.Nodes))
	})

	replies := make([][]connectRecord, g.comm.Size())
	for _, r := range recs {
		rec := r.rec
		shape := rec.Topology.SideTopology(rec.Side)
		for _, h := range g.bulk.ElementsWithNodes(rec.Nodes) {
			id, ok := g.adj.LocalID(h)
			if !ok {
				continue
			}
			topo := g.adj.Topology(id)
			for side := range topo.NumSides() {
				if topo.SideTopology(side) != shape {
					continue
				}
				nodes, err := g.sideNodes(id, side)
				if err != nil {
					return err
				}
				match, perm := topology.Equivalent(shape, nodes, rec.Nodes)
				if !match || !topology.SidesConnect(topo, rec.Topology, shape, perm) {
					continue
				}
				e := GraphEdge{Elem1: id, Side1: side, Elem2: Remote(rec.Elem), Side2: rec.Side}
				if g.hasEdge(e) {
					continue
				}
				chosen := rec.Proposed
				mine, wasSent := sent[sentKey{id, side, r.from}]
				if wasSent && g.bulk.ID(h) < rec.Elem {
					chosen = mine
				}
				g.addRemoteEdge(e, ParallelEdgeInfo{
					OtherProc:         r.from,
					Permutation:       perm,
					ChosenSideID:      chosen,
					RemoteTopology:    rec.Topology,
					InBodyToBeSkinned: rec.InBody,
					IsAir:             rec.IsAir,
					RemoteParts:       rec.Parts,
				})
				if !wasSent {
					inBody, isAir, parts := g.describe(h)
					replies[r.from] = append(replies[r.from], connectRecord{
						Elem:       g.bulk.ID(h),
						Topology:   topo,
						Side:       side,
						Chosen:     chosen,
						InBody:     inBody,
						IsAir:      isAir,
						Parts:      parts,
						Nodes:      nodes,
						Target:     rec.Elem,
						TargetSide: rec.Side,
					})
				}
			}
		}
	}

	bufs, err = comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for p, list := range replies {
			for i := range list {
				if err := x.Buffer(p).Pack(&list[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("newly shared side exchange: %w", err)
	}
	newlyShared := 0
	if err := comm.UnpackAll(bufs, func(from int, rec connectRecord) error {
		newlyShared++
		return g.connectMirror(from, rec)
	}); err != nil {
		return err
	}
	log.Debug("parallel sides matched", "candidates", len(cands), "newlyShared", newlyShared)
	return nil
}

// connectMirror adds the local end of a remote edge created on rank from
func (g *Graph) connectMirror(from int, rec connectRecord) error {
	h, ok := g.bulk.Handle(rec.Target)
	if !ok {
		return fmt.Errorf("%w: %d from rank %d", ErrNotInGraph, rec.Target, from)
	}
	id, ok := g.adj.LocalID(h)
	if !ok {
		return fmt.Errorf("%w: %d from rank %d", ErrNotInGraph, rec.Target, from)
	}
	nodes, err := g.sideNodes(id, rec.TargetSide)
	if err != nil {
		return err
	}
	shape := g.sideShape(id, rec.TargetSide)
	match, perm := topology.Equivalent(shape, nodes, rec.Nodes)
	if !match {
		return fmt.Errorf("%w: element %d side %d nodes %v do not match element %d side %d nodes %v on rank %d",
			ErrMalformedSide, rec.Target, rec.TargetSide, nodes, rec.Elem, rec.Side, rec.Nodes, from)
	}
	g.addRemoteEdge(GraphEdge{Elem1: id, Side1: rec.TargetSide, Elem2: Remote(rec.Elem), Side2: rec.Side},
		ParallelEdgeInfo{
			OtherProc:         from,
			Permutation:       perm,
			ChosenSideID:      rec.Chosen,
			RemoteTopology:    rec.Topology,
			InBodyToBeSkinned: rec.InBody,
			IsAir:             rec.IsAir,
			RemoteParts:       rec.Parts,
		})
	return nil
}

func sortedKey(nodes []mesh.EntityID) []mesh.EntityID {
	key := slices.Clone(nodes)
	slices.Sort(key)
	return key
}
