package elemgraph

import (
	"cmp"
	"fmt"

	"github.com/notargets/elemgraph/mesh"
)

// Peer is the far end of a graph edge: either a vertex of this rank or an
// element owned by another rank, named by its global id.
type Peer struct {
	local  LocalID
	global mesh.EntityID
	remote bool
}

// Local returns a peer on this rank
func Local(id LocalID) Peer { return Peer{local: id} }

// Remote returns a peer owned by another rank
func Remote(id mesh.EntityID) Peer { return Peer{local: InvalidLocalID, global: id, remote: true} }

// IsRemote reports whether the peer lives on another rank
func (p Peer) IsRemote() bool { return p.remote }

// LocalID returns the vertex of a local peer
func (p Peer) LocalID() LocalID {
	if p.remote {
		panic(fmt.Sprintf("elemgraph: LocalID of remote peer %d", p.global))
	}
	return p.local
}

// GlobalID returns the element id of a remote peer
func (p Peer) GlobalID() mesh.EntityID {
	if !p.remote {
		panic(fmt.Sprintf("elemgraph: GlobalID of local peer %d", p.local))
	}
	return p.global
}

func (p Peer) String() string {
	if p.remote {
		return fmt.Sprintf("remote:%d", p.global)
	}
	return fmt.Sprintf("local:%d", p.local)
}

// Local peers sort before remote ones
func comparePeers(a, b Peer) int {
	if a.remote != b.remote {
		if a.remote {
			return 1
		}
		return -1
	}
	if a.remote {
		return cmp.Compare(a.global, b.global)
	}
	return cmp.Compare(a.local, b.local)
}

// GraphEdge connects side Side1 of vertex Elem1 to side Side2 of Elem2
type GraphEdge struct {
	Elem1 LocalID
	Side1 int
	Elem2 Peer
	Side2 int
}

// IsRemote reports whether the edge crosses to another rank
func (e GraphEdge) IsRemote() bool { return e.Elem2.remote }

// Reverse returns the mirror of a local edge
func (e GraphEdge) Reverse() GraphEdge {
	return GraphEdge{Elem1: e.Elem2.LocalID(), Side1: e.Side2, Elem2: Local(e.Elem1), Side2: e.Side1}
}

func (e GraphEdge) String() string {
	return fmt.Sprintf("(%d, %d)->(%s, %d)", e.Elem1, e.Side1, e.Elem2, e.Side2)
}

// Edges of a vertex are ordered by peer, then by side1, then side2
func compareEdges(a, b GraphEdge) int {
	if c := cmp.Compare(a.Elem1, b.Elem1); c != 0 {
		return c
	}
	if c := comparePeers(a.Elem2, b.Elem2); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Side1, b.Side1); c != 0 {
		return c
	}
	return cmp.Compare(a.Side2, b.Side2)
}

// SideRef names one side of a vertex
type SideRef struct {
	Elem LocalID
	Side int
}
