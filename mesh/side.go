package mesh

import (
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/topology"
)

// Side is a side entity (a skin or boundary face) declared on a rank
type Side struct {
	ID          EntityID
	Nodes       []EntityID
	Parts       []string
	Connections []SideConnection
}

// SideConnection attaches an element side to a side entity. Permutation
// relates the side entity's node order to the element's side node order.
type SideConnection struct {
	Element     Handle
	Ordinal     int
	Permutation int
}

// DeclareSide creates side id with the given node order, or adds parts to it
// when it already exists
func (b *Bulk) DeclareSide(id EntityID, nodes []EntityID, parts []string) (*Side, error) {
	if id == InvalidID {
		return nil, fmt.Errorf("%w: side id 0", ErrUnknownSide)
	}
	s, ok := b.sides[id]
	if !ok {
		s = &Side{ID: id, Nodes: slices.Clone(nodes)}
		b.sides[id] = s
	} else if !slices.Equal(s.Nodes, nodes) {
		if ok, _ := topology.Equivalent(sideShape(len(nodes)), s.Nodes, nodes); !ok {
			return nil, fmt.Errorf("side %d redeclared with nodes %v, has %v", id, nodes, s.Nodes)
		}
	}
	for _, p := range parts {
		if i, found := slices.BinarySearch(s.Parts, p); !found {
			s.Parts = slices.Insert(s.Parts, i, p)
		}
	}
	return s, nil
}

// ConnectSide attaches side ord of element h to side id. perm must relate the
// side's node order to the element side's node order.
func (b *Bulk) ConnectSide(id EntityID, h Handle, ord int, perm int) error {
	s, ok := b.sides[id]
	if !ok {
		return fmt.Errorf("%w: %d on rank %d", ErrUnknownSide, id, b.rank)
	}
	elemNodes, err := b.SideNodes(h, ord)
	if err != nil {
		return err
	}
	shape := b.elements[h].topo.SideTopology(ord)
	match, got := topology.Equivalent(shape, s.Nodes, elemNodes)
	if !match {
		return fmt.Errorf("side %d nodes %v do not match element %d side %d nodes %v",
			id, s.Nodes, b.elements[h].id, ord, elemNodes)
	}
	if got != perm {
		return fmt.Errorf("side %d to element %d side %d: permutation %d, expected %d",
			id, b.elements[h].id, ord, perm, got)
	}
	key := sideKey{h, ord}
	if other, ok := b.sideOf[key]; ok {
		if other == id {
			return nil
		}
		return fmt.Errorf("element %d side %d already connected to side %d",
			b.elements[h].id, ord, other)
	}
	s.Connections = append(s.Connections, SideConnection{Element: h, Ordinal: ord, Permutation: perm})
	b.sideOf[key] = id
	return nil
}

// SideOf returns the side entity connected to side ord of element h
func (b *Bulk) SideOf(h Handle, ord int) (EntityID, bool) {
	id, ok := b.sideOf[sideKey{h, ord}]
	return id, ok
}

// Side returns a copy of side id
func (b *Bulk) Side(id EntityID) (Side, bool) {
	s, ok := b.sides[id]
	if !ok {
		return Side{}, false
	}
	return Side{
		ID:          s.ID,
		Nodes:       slices.Clone(s.Nodes),
		Parts:       slices.Clone(s.Parts),
		Connections: slices.Clone(s.Connections),
	}, true
}

// DestroySide removes side id and all of its connections
func (b *Bulk) DestroySide(id EntityID) bool {
	s, ok := b.sides[id]
	if !ok {
		return false
	}
	for _, c := range s.Connections {
		delete(b.sideOf, sideKey{c.Element, c.Ordinal})
	}
	delete(b.sides, id)
	return true
}

// Sides returns the ids of all declared sides, sorted
func (b *Bulk) Sides() []EntityID {
	out := make([]EntityID, 0, len(b.sides))
	for id := range b.sides {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func sideShape(numNodes int) topology.Topology {
	switch numNodes {
	case 1:
		return topology.Point
	case 2:
		return topology.Line2
	case 3:
		return topology.Tri3
	case 4:
		return topology.Quad4
	}
	return topology.Invalid
}
