// Package mesh is a minimal distributed mesh container: per-rank element
// storage with node sharing and side (skin face) entities. It provides the
// queries and side requests the element graph needs from a mesh.
package mesh

import (
	"errors"
	"fmt"
	"slices"

	"github.com/notargets/elemgraph/topology"
)

// EntityID is the global identifier of an element, node or side. Zero is
// never a valid id.
type EntityID uint64

// InvalidID marks an absent entity
const InvalidID EntityID = 0

// Handle is a rank-local element index. Handles are assigned in declaration
// order and never reused, so a destroyed element leaves a hole.
type Handle int32

// InvalidHandle marks an absent element
const InvalidHandle Handle = -1

var (
	// ErrUnknownElement is returned for handles or ids that are not valid
	// elements of the bulk
	ErrUnknownElement = errors.New("mesh: unknown element")
	// ErrMalformedElement is returned when a node list does not match the
	// declared topology
	ErrMalformedElement = errors.New("mesh: malformed element")
	// ErrUnknownSide is returned for side ids that were never declared
	ErrUnknownSide = errors.New("mesh: unknown side")
)

// ElementSpec describes one element of a mesh
type ElementSpec struct {
	ID       EntityID
	Topology topology.Topology
	Nodes    []EntityID
	Parts    []string
}

// Validate checks the node list against the topology
func (s ElementSpec) Validate() error {
	if s.ID == InvalidID {
		return fmt.Errorf("%w: element id 0", ErrMalformedElement)
	}
	if !s.Topology.IsElement() {
		return fmt.Errorf("%w: element %d has topology %s", ErrMalformedElement, s.ID, s.Topology)
	}
	if len(s.Nodes) != s.Topology.NumNodes() {
		return fmt.Errorf("%w: element %d is %s with %d nodes, expected %d",
			ErrMalformedElement, s.ID, s.Topology, len(s.Nodes), s.Topology.NumNodes())
	}
	for _, n := range s.Nodes {
		if n == InvalidID {
			return fmt.Errorf("%w: element %d references node 0", ErrMalformedElement, s.ID)
		}
	}
	return nil
}

// Global is the undistributed description of a mesh
type Global struct {
	Elements []ElementSpec
}

// Validate checks every element and the uniqueness of element ids
func (g *Global) Validate() error {
	seen := make(map[EntityID]bool, len(g.Elements))
	for i, spec := range g.Elements {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("element index %d: %w", i, err)
		}
		if seen[spec.ID] {
			return fmt.Errorf("%w: duplicate element id %d", ErrMalformedElement, spec.ID)
		}
		seen[spec.ID] = true
	}
	return nil
}

// NumElements returns the number of elements in the mesh
func (g *Global) NumElements() int {
	return len(g.Elements)
}

type element struct {
	id    EntityID
	topo  topology.Topology
	nodes []EntityID
	parts []string
	valid bool
}

type sideKey struct {
	elem Handle
	ord  int
}

// Bulk holds the elements owned by one rank together with the node sharing
// information and the side entities declared on this rank.
type Bulk struct {
	rank      int
	elements  []element
	byID      map[EntityID]Handle
	nodeElems map[EntityID][]Handle
	sharing   map[EntityID][]int
	sides     map[EntityID]*Side
	sideOf    map[sideKey]EntityID
}

// NewBulk creates an empty bulk for rank
func NewBulk(rank int) *Bulk {
	return &Bulk{
		rank:      rank,
		byID:      make(map[EntityID]Handle),
		nodeElems: make(map[EntityID][]Handle),
		sharing:   make(map[EntityID][]int),
		sides:     make(map[EntityID]*Side),
		sideOf:    make(map[sideKey]EntityID),
	}
}

// Rank returns the rank owning this bulk
func (b *Bulk) Rank() int { return b.rank }

// DeclareElement adds a locally owned element
func (b *Bulk) DeclareElement(spec ElementSpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return InvalidHandle, err
	}
	if _, exists := b.byID[spec.ID]; exists {
		return InvalidHandle, fmt.Errorf("%w: element %d already declared on rank %d",
			ErrMalformedElement, spec.ID, b.rank)
	}
	h := Handle(len(b.elements))
	parts := slices.Clone(spec.Parts)
	slices.Sort(parts)
	b.elements = append(b.elements, element{
		id:    spec.ID,
		topo:  spec.Topology,
		nodes: slices.Clone(spec.Nodes),
		parts: slices.Compact(parts),
		valid: true,
	})
	b.byID[spec.ID] = h
	for _, n := range spec.Nodes {
		if !slices.Contains(b.nodeElems[n], h) {
			b.nodeElems[n] = append(b.nodeElems[n], h)
		}
	}
	return h, nil
}

// DestroyElement removes an element and its side connections
func (b *Bulk) DestroyElement(h Handle) error {
	if !b.IsValid(h) {
		return fmt.Errorf("%w: handle %d on rank %d", ErrUnknownElement, h, b.rank)
	}
	e := &b.elements[h]
	for _, n := range e.nodes {
		b.nodeElems[n] = slices.DeleteFunc(b.nodeElems[n], func(o Handle) bool { return o == h })
		if len(b.nodeElems[n]) == 0 {
			delete(b.nodeElems, n)
		}
	}
	for ord := 0; ord < e.topo.NumSides(); ord++ {
		key := sideKey{h, ord}
		if id, ok := b.sideOf[key]; ok {
			s := b.sides[id]
			s.Connections = slices.DeleteFunc(s.Connections, func(c SideConnection) bool {
				return c.Element == h && c.Ordinal == ord
			})
			delete(b.sideOf, key)
		}
	}
	delete(b.byID, e.id)
	e.valid = false
	return nil
}

// IsValid reports whether h is a live element
func (b *Bulk) IsValid(h Handle) bool {
	return h >= 0 && int(h) < len(b.elements) && b.elements[h].valid
}

// OwnedElements returns all live elements in handle order
func (b *Bulk) OwnedElements() []Handle {
	out := make([]Handle, 0, len(b.byID))
	for i := range b.elements {
		if b.elements[i].valid {
			out = append(out, Handle(i))
		}
	}
	return out
}

// NumHandles returns one past the largest handle ever assigned
func (b *Bulk) NumHandles() int { return len(b.elements) }

// Handle looks up an element by global id
func (b *Bulk) Handle(id EntityID) (Handle, bool) {
	h, ok := b.byID[id]
	return h, ok
}

func (b *Bulk) mustElement(h Handle) *element {
	if !b.IsValid(h) {
		panic(fmt.Sprintf("mesh: rank %d: invalid element handle %d", b.rank, h))
	}
	return &b.elements[h]
}

// ID returns the global id of element h
func (b *Bulk) ID(h Handle) EntityID { return b.mustElement(h).id }

// Topology returns the topology of element h
func (b *Bulk) Topology(h Handle) topology.Topology { return b.mustElement(h).topo }

// Nodes returns the node ids of element h. The slice must not be modified.
func (b *Bulk) Nodes(h Handle) []EntityID { return b.mustElement(h).nodes }

// Parts returns the sorted part names of element h
func (b *Bulk) Parts(h Handle) []string { return b.mustElement(h).parts }

// InPart reports whether element h belongs to part
func (b *Bulk) InPart(h Handle, part string) bool {
	_, found := slices.BinarySearch(b.mustElement(h).parts, part)
	return found
}

// AddPart adds element h to part
func (b *Bulk) AddPart(h Handle, part string) {
	e := b.mustElement(h)
	if i, found := slices.BinarySearch(e.parts, part); !found {
		e.parts = slices.Insert(e.parts, i, part)
	}
}

// SideNodes returns the nodes of side ord of element h in outward order
func (b *Bulk) SideNodes(h Handle, ord int) ([]EntityID, error) {
	if !b.IsValid(h) {
		return nil, fmt.Errorf("%w: handle %d on rank %d", ErrUnknownElement, h, b.rank)
	}
	e := &b.elements[h]
	nodes, err := topology.SideNodes(e.topo, ord, e.nodes)
	if err != nil {
		return nil, fmt.Errorf("element %d: %w", e.id, err)
	}
	return nodes, nil
}

// ElementsWithNodes returns the live elements containing every node, in
// handle order
func (b *Bulk) ElementsWithNodes(nodes []EntityID) []Handle {
	if len(nodes) == 0 {
		return nil
	}
	out := slices.Clone(b.nodeElems[nodes[0]])
	for _, n := range nodes[1:] {
		others := b.nodeElems[n]
		out = slices.DeleteFunc(out, func(h Handle) bool { return !slices.Contains(others, h) })
		if len(out) == 0 {
			return nil
		}
	}
	slices.Sort(out)
	return out
}

// SharingProcs returns the other ranks that have elements using node, sorted
func (b *Bulk) SharingProcs(node EntityID) []int {
	return b.sharing[node]
}

// SetSharing records the other ranks sharing node
func (b *Bulk) SetSharing(node EntityID, procs []int) {
	if len(procs) == 0 {
		delete(b.sharing, node)
		return
	}
	p := slices.Clone(procs)
	slices.Sort(p)
	b.sharing[node] = slices.Compact(p)
}

// LocalNodes returns every node used by a live element on this rank, sorted
func (b *Bulk) LocalNodes() []EntityID {
	out := make([]EntityID, 0, len(b.nodeElems))
	for n := range b.nodeElems {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
