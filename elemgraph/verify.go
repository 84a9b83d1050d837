package elemgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/DmitriyVTitov/size"
	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/topology"
)

// CheckSymmetry verifies the local structure: every local edge has its
// reverse, every remote edge has parallel info that names another rank, and
// no parallel info is orphaned.
func (g *Graph) CheckSymmetry() error {
	var errs []error
	check := func(e GraphEdge, coincident bool) {
		if e.IsRemote() {
			info, ok := g.parInfo[e]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("remote edge %s has no parallel info", e))
			case info.OtherProc == g.Rank():
				errs = append(errs, fmt.Errorf("remote edge %s points at its own rank", e))
			}
			return
		}
		rev := e.Reverse()
		if coincident {
			if !g.hasEdge(rev) {
				errs = append(errs, fmt.Errorf("coincident edge %s has no reverse", e))
			}
		} else if !g.adj.HasEdge(rev) {
			errs = append(errs, fmt.Errorf("edge %s has no reverse", e))
		}
	}
	for _, id := range g.adj.Vertices() {
		for _, e := range g.adj.edges[id] {
			check(e, false)
		}
		for _, e := range g.coincident[id] {
			check(e, true)
		}
	}
	for e := range g.parInfo {
		if !g.hasEdge(e) {
			errs = append(errs, fmt.Errorf("parallel info for missing edge %s", e))
		}
	}
	return errors.Join(errs...)
}

type mirrorRecord struct {
	Elem     mesh.EntityID     `msgpack:"e"`
	Side     int               `msgpack:"s"`
	Peer     mesh.EntityID     `msgpack:"p"`
	PeerSide int               `msgpack:"ps"`
	PeerTopo topology.Topology `msgpack:"t"`
	Perm     int               `msgpack:"m"`
	Chosen   mesh.EntityID     `msgpack:"c"`
}

// VerifyRemoteMirror checks every remote edge against its mirror on the
// other rank: both must exist, agree on the chosen side id and carry
// inverse permutations. Collective.
func (g *Graph) VerifyRemoteMirror(ctx context.Context) error {
	bufs, err := comm.Communicate(ctx, g.comm, func(x *comm.Exchange) error {
		for e, info := range g.sortedParInfo() {
			rec := mirrorRecord{
				Elem:     e.Elem2.GlobalID(),
				Side:     e.Side2,
				Peer:     g.GlobalID(e.Elem1),
				PeerSide: e.Side1,
				PeerTopo: g.adj.Topology(e.Elem1),
				Perm:     info.Permutation,
				Chosen:   info.ChosenSideID,
			}
			if err := x.Buffer(info.OtherProc).Pack(&rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror exchange: %w", err)
	}

	var errs []error
	matched := make(map[GraphEdge]bool, len(g.parInfo))
	if err := comm.UnpackAll(bufs, func(from int, rec mirrorRecord) error {
		e, err := g.mirrorEdge(rec.Elem, rec.Side, rec.Peer, rec.PeerSide)
		if err != nil {
			errs = append(errs, fmt.Errorf("rank %d: mirror of edge from rank %d: %w", g.Rank(), from, err))
			return nil
		}
		matched[e] = true
		info := g.parInfo[e]
		shape := g.sideShape(e.Elem1, e.Side1)
		if info.ChosenSideID != rec.Chosen {
			errs = append(errs, fmt.Errorf("rank %d: edge %s chosen side %d, rank %d has %d",
				g.Rank(), e, info.ChosenSideID, from, rec.Chosen))
		}
		if info.Permutation != topology.InversePermutation(shape, rec.Perm) {
			errs = append(errs, fmt.Errorf("rank %d: edge %s permutation %d is not the inverse of %d on rank %d",
				g.Rank(), e, info.Permutation, rec.Perm, from))
		}
		if info.OtherProc != from {
			errs = append(errs, fmt.Errorf("rank %d: edge %s names rank %d, mirror is on %d",
				g.Rank(), e, info.OtherProc, from))
		}
		if info.RemoteTopology != rec.PeerTopo {
			errs = append(errs, fmt.Errorf("rank %d: edge %s remote topology %s, rank %d has %s",
				g.Rank(), e, info.RemoteTopology, from, rec.PeerTopo))
		}
		return nil
	}); err != nil {
		return err
	}
	for e := range g.parInfo {
		if !matched[e] {
			errs = append(errs, fmt.Errorf("rank %d: edge %s has no mirror", g.Rank(), e))
		}
	}
	return errors.Join(errs...)
}

// sortedParInfo iterates remote edges in edge order
func (g *Graph) sortedParInfo() iter.Seq2[GraphEdge, *ParallelEdgeInfo] {
	return func(yield func(GraphEdge, *ParallelEdgeInfo) bool) {
		for _, id := range g.adj.Vertices() {
			for _, e := range g.remoteEdges(id) {
				if !yield(e, g.parInfo[e]) {
					return
				}
			}
		}
	}
}

// WriteGraph writes every edge in global ids, one per line, in a stable
// order:
//
//	(elem, side)->(peer, side)
//	(elem, side)->(peer@pRANK, side)[chosen]
//	coincident (elem, side)->(peer, side)
func (g *Graph) WriteGraph(w io.Writer) error {
	line := func(prefix string, e GraphEdge) error {
		var err error
		if e.IsRemote() {
			info := g.parInfo[e]
			_, err = fmt.Fprintf(w, "%s(%d, %d)->(%d@p%d, %d)[%d]\n", prefix,
				g.GlobalID(e.Elem1), e.Side1, e.Elem2.GlobalID(), info.OtherProc, e.Side2, info.ChosenSideID)
		} else {
			_, err = fmt.Fprintf(w, "%s(%d, %d)->(%d, %d)\n", prefix,
				g.GlobalID(e.Elem1), e.Side1, g.GlobalID(e.Elem2.LocalID()), e.Side2)
		}
		return err
	}
	for _, id := range g.adj.Vertices() {
		for _, e := range g.adj.edges[id] {
			if err := line("", e); err != nil {
				return err
			}
		}
		for _, e := range g.coincident[id] {
			if err := line("coincident ", e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "rank %d: %d vertices, %d edges (%d remote, %d coincident)\n",
		g.Rank(), g.NumVertices(), g.NumEdges(), g.numParallelEdges, g.NumCoincidentEdges())
	_ = g.WriteGraph(&sb)
	return sb.String()
}

// Stats summarizes one rank's graph
type Stats struct {
	Vertices        int
	Edges           int
	LocalEdges      int
	RemoteEdges     int
	CoincidentEdges int
	// Approximate memory held by the graph tables
	Bytes int
}

// Stats counts the graph and measures its tables
func (g *Graph) Stats() Stats {
	s := Stats{
		Vertices:        g.NumVertices(),
		Edges:           g.NumEdges(),
		RemoteEdges:     g.numParallelEdges,
		CoincidentEdges: g.NumCoincidentEdges(),
	}
	s.LocalEdges = s.Edges - s.RemoteEdges
	s.Bytes = size.Of(g.adj) + size.Of(g.parInfo) + size.Of(g.coincident)
	return s
}
