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

// AddElements adds newly declared elements to the graph and connects them
// to local and remote neighbors. Handles already in the graph are skipped.
// Node sharing in the mesh must already include the new elements.
// Collective.
func (g *Graph) AddElements(ctx context.Context, handles []mesh.Handle) error {
	var ids []LocalID
	for _, h := range handles {
		if !g.bulk.IsValid(h) {
			return fmt.Errorf("rank %d: add elements: %w: handle %d", g.Rank(), mesh.ErrUnknownElement, h)
		}
		if _, ok := g.adj.LocalID(h); ok {
			continue
		}
		ids = append(ids, g.adj.AddVertex(h, g.bulk.Topology(h)))
	}

	numLocal, err := g.addLocalEdges(ids)
	if err != nil {
		return fmt.Errorf("rank %d: add elements: %w", g.Rank(), err)
	}
	cands, err := g.boundaryCandidates(ids)
	if err != nil {
		return fmt.Errorf("rank %d: add elements: %w", g.Rank(), err)
	}
	if err := g.pool.Reserve(ctx, max(0, len(cands)-g.numParallelEdges)+numLocal); err != nil {
		return err
	}
	if err := g.pool.EnsureAvailable(ctx, len(cands)); err != nil {
		return err
	}
	if err := g.fillParallelGraph(ctx, cands); err != nil {
		return fmt.Errorf("rank %d: add elements: %w", g.Rank(), err)
	}
	if err := g.resolveCoincidence(ctx); err != nil {
		return fmt.Errorf("rank %d: add elements: %w", g.Rank(), err)
	}
	filtered := g.filterShellEdges()
	g.updateCounts()

	ctxlog.FromContext(ctx).Debug("added elements",
		"count", len(ids), "localEdges", numLocal, "candidates", len(cands), "shellFiltered", filtered)
	return nil
}

// endpoint is one solid element seen across a shell that is being deleted
type endpoint struct {
	remote bool
	id     LocalID
	gid    mesh.EntityID
	side   int
	proc   int
	topo   topology.Topology
	nodes  []mesh.EntityID

	// known only for remote endpoints
	chosen mesh.EntityID
	inBody bool
	isAir  bool
	parts  []string
}

// shellPair is a pair of solids that will face each other once the shell
// between them is gone
type shellPair struct {
	shell mesh.EntityID
	a, b  endpoint
}

type deleteRecord struct {
	Elem     mesh.EntityID `msgpack:"e"`
	Side     int           `msgpack:"s"`
	Peer     mesh.EntityID `msgpack:"p"`
	PeerSide int           `msgpack:"ps"`
}

// reconnectRecord tells the owner of Target to connect it to Peer
type reconnectRecord struct {
	Target     mesh.EntityID     `msgpack:"te"`
	TargetSide int               `msgpack:"ts"`
	Peer       mesh.EntityID     `msgpack:"p"`
	PeerSide   int               `msgpack:"ps"`
	PeerProc   int               `msgpack:"pp"`
	PeerTopo   topology.Topology `msgpack:"pt"`
	PeerNodes  []mesh.EntityID   `msgpack:"n"`
	Chosen     mesh.EntityID     `msgpack:"c"`
	InBody     bool              `msgpack:"b"`
	IsAir      bool              `msgpack:"a"`
	Parts      []string          `msgpack:"pa"`
}

// DeleteElements removes elements from the graph. Solids that faced each
// other through a deleted shell are reconnected, unless another shell still
// lies between them. The elements must still be valid in the mesh during the
// call; destroy them afterwards. Collective.
func (g *Graph) DeleteElements(ctx context.Context, handles []mesh.Handle) error {
	deleted := make(map[LocalID]bool, len(handles))
	var ids []LocalID
	for _, h := range handles {
		id, ok := g.adj.LocalID(h)
		if !ok {
			return fmt.Errorf("rank %d: delete elements: %w: handle %d", g.Rank(), ErrNotInGraph, h)
		}
		if !deleted[id] {
			deleted[id] = true
			ids = append(ids, id)
		}
	}

	pairs, err := g.shellPairs(ids, deleted)
	if err != nil {
		return fmt.Errorf("rank %d: delete elements: %w", g.Rank(), err)
	}

	notices := make([][]deleteRecord, g.comm.Size())
	for _, id := range ids {
		gid := g.GlobalID(id)
		for _, e := range g.remoteEdges(id) {
			info := g.parInfo[e]
			notices[info.OtherProc] = append(notices[info.OtherProc], deleteRecord{
				Elem:     e.Elem2.GlobalID(),
				Side:     e.Side2,
				Peer:     gid,
				PeerSide: e.Side1,
			})
		}
	}
	bufs, err := comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for p, list := range notices {
			for i := range list {
				if err := x.Buffer(p).Pack(&list[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rank %d: deletion notices: %w", g.Rank(), err)
	}
	remoteDeleted := make(map[mesh.EntityID]bool)
	if err := comm.UnpackAll(bufs, func(from int, rec deleteRecord) error {
		e, err := g.mirrorEdge(rec.Elem, rec.Side, rec.Peer, rec.PeerSide)
		if err != nil {
			return fmt.Errorf("deletion notice from rank %d: %w", from, err)
		}
		g.removeEdge(e)
		remoteDeleted[rec.Peer] = true
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		g.deleteVertex(id)
	}

	pairs = slices.DeleteFunc(pairs, func(p shellPair) bool {
		gone := func(ep endpoint) bool {
			if ep.remote {
				return remoteDeleted[ep.gid]
			}
			return deleted[ep.id]
		}
		return gone(p.a) || gone(p.b)
	})

	directives := make([][]reconnectRecord, g.comm.Size())
	for _, p := range pairs {
		if err := g.reconnect(p, directives); err != nil {
			return fmt.Errorf("rank %d: reconnect across shell %d: %w", g.Rank(), p.shell, err)
		}
	}
	bufs, err = comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for p, list := range directives {
			for i := range list {
				if err := x.Buffer(p).Pack(&list[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rank %d: reconnection directives: %w", g.Rank(), err)
	}
	if err := comm.UnpackAll(bufs, func(from int, rec reconnectRecord) error {
		return g.applyReconnect(from, rec)
	}); err != nil {
		return fmt.Errorf("rank %d: %w", g.Rank(), err)
	}
	g.updateCounts()

	ctxlog.FromContext(ctx).Debug("deleted elements", "count", len(ids), "reconnected", len(pairs))
	return nil
}

// deleteVertex removes id with all of its edges, coincident ones included
func (g *Graph) deleteVertex(id LocalID) {
	for _, e := range g.coincident[id] {
		if e.IsRemote() {
			delete(g.parInfo, e)
		} else {
			g.removeCoincident(e.Reverse())
		}
	}
	delete(g.coincident, id)
	for _, e := range g.adj.DeleteVertex(id) {
		if e.IsRemote() {
			delete(g.parInfo, e)
		}
	}
}

// shellPairs lists the solids facing each other through the deleted shells
// in ids
func (g *Graph) shellPairs(ids []LocalID, deleted map[LocalID]bool) ([]shellPair, error) {
	var pairs []shellPair
	for _, id := range ids {
		if !g.adj.Topology(id).IsShell() {
			continue
		}
		var sides [2][]endpoint
		blocked := false
		for side := range 2 {
			for _, e := range g.adj.EdgesOfSide(id, side) {
				peerTopo := g.peerTopology(e)
				if peerTopo.IsShell() {
					if e.IsRemote() || !deleted[e.Elem2.LocalID()] {
						blocked = true
					}
					continue
				}
				ep, err := g.endpointOf(e)
				if err != nil {
					return nil, err
				}
				sides[side] = append(sides[side], ep)
			}
		}
		if blocked {
			continue
		}
		gid := g.GlobalID(id)
		for _, a := range sides[0] {
			for _, b := range sides[1] {
				pairs = append(pairs, shellPair{shell: gid, a: a, b: b})
			}
		}
	}
	return pairs, nil
}

// endpointOf describes the solid at the far end of shell edge e
func (g *Graph) endpointOf(e GraphEdge) (endpoint, error) {
	if !e.IsRemote() {
		peer := e.Elem2.LocalID()
		nodes, err := g.sideNodes(peer, e.Side2)
		if err != nil {
			return endpoint{}, err
		}
		return endpoint{
			id:    peer,
			gid:   g.GlobalID(peer),
			side:  e.Side2,
			proc:  g.Rank(),
			topo:  g.adj.Topology(peer),
			nodes: nodes,
		}, nil
	}
	info := g.parInfo[e]
	shellNodes, err := g.sideNodes(e.Elem1, e.Side1)
	if err != nil {
		return endpoint{}, err
	}
	return endpoint{
		remote: true,
		id:     InvalidLocalID,
		gid:    e.Elem2.GlobalID(),
		side:   e.Side2,
		proc:   info.OtherProc,
		topo:   info.RemoteTopology,
		nodes:  info.RemoteSideNodes(g.sideShape(e.Elem1, e.Side1), shellNodes),
		chosen: info.ChosenSideID,
		inBody: info.InBodyToBeSkinned,
		isAir:  info.IsAir,
		parts:  slices.Clone(info.RemoteParts),
	}, nil
}

// reconnect splices the direct edge between the two solids of p, queueing
// directives for endpoints owned by other ranks
func (g *Graph) reconnect(p shellPair, directives [][]reconnectRecord) error {
	a, b := p.a, p.b
	if a.remote && !b.remote {
		a, b = b, a
	}
	shape := a.topo.SideTopology(a.side)
	match, perm := topology.Equivalent(shape, a.nodes, b.nodes)
	if !match {
		return fmt.Errorf("%w: element %d side %d nodes %v do not face element %d side %d nodes %v",
			ErrMalformedSide, a.gid, a.side, a.nodes, b.gid, b.side, b.nodes)
	}
	if !topology.SidesConnect(a.topo, b.topo, shape, perm) {
		return nil
	}

	switch {
	case !a.remote && !b.remote:
		e := GraphEdge{Elem1: a.id, Side1: a.side, Elem2: Local(b.id), Side2: b.side}
		g.adj.AddEdge(e)
		g.adj.AddEdge(e.Reverse())

	case !a.remote:
		h := g.adj.Handle(a.id)
		g.addRemoteEdge(GraphEdge{Elem1: a.id, Side1: a.side, Elem2: Remote(b.gid), Side2: b.side},
			ParallelEdgeInfo{
				OtherProc:         b.proc,
				Permutation:       perm,
				ChosenSideID:      b.chosen,
				RemoteTopology:    b.topo,
				InBodyToBeSkinned: b.inBody,
				IsAir:             b.isAir,
				RemoteParts:       b.parts,
			})
		inBody, isAir, parts := g.describe(h)
		directives[b.proc] = append(directives[b.proc], reconnectRecord{
			Target: b.gid, TargetSide: b.side,
			Peer: a.gid, PeerSide: a.side, PeerProc: g.Rank(), PeerTopo: a.topo, PeerNodes: a.nodes,
			Chosen: b.chosen, InBody: inBody, IsAir: isAir, Parts: parts,
		})

	default:
		chosen := min(a.chosen, b.chosen)
		directives[a.proc] = append(directives[a.proc], reconnectRecord{
			Target: a.gid, TargetSide: a.side,
			Peer: b.gid, PeerSide: b.side, PeerProc: b.proc, PeerTopo: b.topo, PeerNodes: b.nodes,
			Chosen: chosen, InBody: b.inBody, IsAir: b.isAir, Parts: b.parts,
		})
		directives[b.proc] = append(directives[b.proc], reconnectRecord{
			Target: b.gid, TargetSide: b.side,
			Peer: a.gid, PeerSide: a.side, PeerProc: a.proc, PeerTopo: a.topo, PeerNodes: a.nodes,
			Chosen: chosen, InBody: a.inBody, IsAir: a.isAir, Parts: a.parts,
		})
	}
	return nil
}

// applyReconnect connects the local end of a spliced edge
func (g *Graph) applyReconnect(from int, rec reconnectRecord) error {
	h, ok := g.bulk.Handle(rec.Target)
	if !ok {
		return fmt.Errorf("%w: reconnect target %d from rank %d", ErrNotInGraph, rec.Target, from)
	}
	id, ok := g.adj.LocalID(h)
	if !ok {
		return fmt.Errorf("%w: reconnect target %d from rank %d", ErrNotInGraph, rec.Target, from)
	}
	if rec.PeerProc == g.Rank() {
		ph, ok := g.bulk.Handle(rec.Peer)
		if !ok {
			return fmt.Errorf("%w: reconnect peer %d from rank %d", ErrNotInGraph, rec.Peer, from)
		}
		peer, ok := g.adj.LocalID(ph)
		if !ok {
			return fmt.Errorf("%w: reconnect peer %d from rank %d", ErrNotInGraph, rec.Peer, from)
		}
		e := GraphEdge{Elem1: id, Side1: rec.TargetSide, Elem2: Local(peer), Side2: rec.PeerSide}
		g.adj.AddEdge(e)
		g.adj.AddEdge(e.Reverse())
		return nil
	}
	nodes, err := g.sideNodes(id, rec.TargetSide)
	if err != nil {
		return err
	}
	match, perm := topology.Equivalent(g.sideShape(id, rec.TargetSide), nodes, rec.PeerNodes)
	if !match {
		return fmt.Errorf("%w: element %d side %d nodes %v do not face element %d side %d nodes %v",
			ErrMalformedSide, rec.Target, rec.TargetSide, nodes, rec.Peer, rec.PeerSide, rec.PeerNodes)
	}
	g.addRemoteEdge(GraphEdge{Elem1: id, Side1: rec.TargetSide, Elem2: Remote(rec.Peer), Side2: rec.PeerSide},
		ParallelEdgeInfo{
			OtherProc:         rec.PeerProc,
			Permutation:       perm,
			ChosenSideID:      rec.Chosen,
			RemoteTopology:    rec.PeerTopo,
			InBodyToBeSkinned: rec.InBody,
			IsAir:             rec.IsAir,
			RemoteParts:       rec.Parts,
		})
	return nil
}
