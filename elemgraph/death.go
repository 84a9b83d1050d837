package elemgraph

import (
	"context"
	"fmt"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

type deathRecord struct {
	Elem     mesh.EntityID `msgpack:"e"`
	Side     int           `msgpack:"s"`
	Peer     mesh.EntityID `msgpack:"p"`
	PeerSide int           `msgpack:"ps"`
}

// ProcessKilledElements updates the skin after elements leave the body:
// every side between a killed element and a live one gets a side entity in
// parts, and sides between two dead elements are removed. A killed element
// stays in the graph. isActive reports whether a surviving element still
// belongs to the body. Collective.
func (g *Graph) ProcessKilledElements(ctx context.Context, killed []mesh.Handle, isActive func(mesh.Handle) bool, parts []string) error {
	dead := make(map[mesh.Handle]bool, len(killed))
	var ids []LocalID
	for _, h := range killed {
		id, ok := g.adj.LocalID(h)
		if !ok {
			return fmt.Errorf("rank %d: killed elements: %w: handle %d", g.Rank(), ErrNotInGraph, h)
		}
		if !dead[h] {
			dead[h] = true
			ids = append(ids, id)
		}
	}
	alive := func(h mesh.Handle) bool { return !dead[h] && isActive(h) }

	need := 0
	for _, id := range ids {
		for _, e := range g.adj.edges[id] {
			if !e.IsRemote() && alive(g.adj.Handle(e.Elem2.LocalID())) {
				need++
			}
		}
	}
	if err := g.pool.EnsureAvailable(ctx, need); err != nil {
		return err
	}

	notices := make([][]deathRecord, g.comm.Size())
	created, removed := 0, 0
	for _, id := range ids {
		h := g.adj.Handle(id)
		for _, e := range g.adj.EdgesOf(id) {
			if e.IsRemote() {
				info := g.parInfo[e]
				notices[info.OtherProc] = append(notices[info.OtherProc], deathRecord{
					Elem:     e.Elem2.GlobalID(),
					Side:     e.Side2,
					Peer:     g.bulk.ID(h),
					PeerSide: e.Side1,
				})
				if info.InBodyToBeSkinned {
					if err := g.createRemoteSide(e, info, parts); err != nil {
						return fmt.Errorf("rank %d: %w", g.Rank(), err)
					}
					created++
				} else {
					g.removeSide(h, e.Side1)
					removed++
				}
				continue
			}

			peer := g.adj.Handle(e.Elem2.LocalID())
			if !alive(peer) {
				g.removeSide(h, e.Side1)
				g.removeSide(peer, e.Side2)
				removed++
				continue
			}
			if err := g.createLocalSide(h, e.Side1, peer, e.Side2, parts); err != nil {
				return fmt.Errorf("rank %d: %w", g.Rank(), err)
			}
			created++
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
		return fmt.Errorf("rank %d: death notices: %w", g.Rank(), err)
	}
	if err := comm.UnpackAll(bufs, func(from int, rec deathRecord) error {
		e, err := g.mirrorEdge(rec.Elem, rec.Side, rec.Peer, rec.PeerSide)
		if err != nil {
			return fmt.Errorf("death notice from rank %d: %w", from, err)
		}
		info := g.parInfo[e]
		info.InBodyToBeSkinned = false
		h := g.adj.Handle(e.Elem1)
		if alive(h) {
			created++
			return g.createRemoteSide(e, info, parts)
		}
		g.removeSide(h, e.Side1)
		removed++
		return nil
	}); err != nil {
		return fmt.Errorf("rank %d: %w", g.Rank(), err)
	}

	ctxlog.FromContext(ctx).Debug("processed killed elements",
		"killed", len(ids), "sidesCreated", created, "sidesRemoved", removed)
	return nil
}

// createLocalSide puts a side entity between killed element k and live peer
// p, reusing the side p already has there. The side takes p's node order.
func (g *Graph) createLocalSide(k mesh.Handle, kSide int, p mesh.Handle, pSide int, parts []string) error {
	id, ok := g.bulk.SideOf(p, pSide)
	if !ok {
		var err error
		if id, err = g.pool.Next(); err != nil {
			return err
		}
	}
	nodes, err := g.bulk.SideNodes(p, pSide)
	if err != nil {
		return err
	}
	kNodes, err := g.bulk.SideNodes(k, kSide)
	if err != nil {
		return err
	}
	shape := g.bulk.Topology(p).SideTopology(pSide)
	if _, err := g.bulk.DeclareSide(id, nodes, parts); err != nil {
		return err
	}
	if err := g.bulk.ConnectSide(id, p, pSide, 0); err != nil {
		return err
	}
	_, perm := topology.Equivalent(shape, nodes, kNodes)
	return g.bulk.ConnectSide(id, k, kSide, perm)
}

// createRemoteSide declares the chosen side of remote edge e on this rank.
// Both ranks use the node order of the lower rank's element.
func (g *Graph) createRemoteSide(e GraphEdge, info *ParallelEdgeInfo, parts []string) error {
	h := g.adj.Handle(e.Elem1)
	local, err := g.bulk.SideNodes(h, e.Side1)
	if err != nil {
		return err
	}
	shape := g.sideShape(e.Elem1, e.Side1)
	nodes, perm := local, 0
	if info.OtherProc < g.Rank() {
		nodes = info.RemoteSideNodes(shape, local)
		perm = topology.InversePermutation(shape, info.Permutation)
	}
	if _, err := g.bulk.DeclareSide(info.ChosenSideID, nodes, parts); err != nil {
		return err
	}
	return g.bulk.ConnectSide(info.ChosenSideID, h, e.Side1, perm)
}

func (g *Graph) removeSide(h mesh.Handle, side int) {
	if id, ok := g.bulk.SideOf(h, side); ok {
		g.bulk.DestroySide(id)
	}
}
