package mesh

import (
	"fmt"
	"slices"
)

// Distributed is a mesh split across ranks. It is mutated only between
// collective phases, never while ranks are running.
type Distributed struct {
	Bulks []*Bulk
}

// Distribute places element i of g on rank eToP[i] and derives node sharing
func Distribute(g *Global, eToP []int, nranks int) (*Distributed, error) {
	if nranks < 1 {
		return nil, fmt.Errorf("invalid rank count %d", nranks)
	}
	if len(eToP) != g.NumElements() {
		return nil, fmt.Errorf("EToP length %d does not match %d elements", len(eToP), g.NumElements())
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	d := &Distributed{Bulks: make([]*Bulk, nranks)}
	for r := range d.Bulks {
		d.Bulks[r] = NewBulk(r)
	}
	for i, spec := range g.Elements {
		r := eToP[i]
		if r < 0 || r >= nranks {
			return nil, fmt.Errorf("element %d assigned to rank %d of %d", spec.ID, r, nranks)
		}
		if _, err := d.Bulks[r].DeclareElement(spec); err != nil {
			return nil, err
		}
	}
	d.updateSharing()
	return d, nil
}

// AddElements declares new elements on rank and refreshes node sharing
func (d *Distributed) AddElements(rank int, specs []ElementSpec) ([]Handle, error) {
	if rank < 0 || rank >= len(d.Bulks) {
		return nil, fmt.Errorf("invalid rank %d", rank)
	}
	for _, spec := range specs {
		for r, b := range d.Bulks {
			if _, exists := b.Handle(spec.ID); exists {
				return nil, fmt.Errorf("%w: element %d already exists on rank %d",
					ErrMalformedElement, spec.ID, r)
			}
		}
	}
	handles := make([]Handle, 0, len(specs))
	for _, spec := range specs {
		h, err := d.Bulks[rank].DeclareElement(spec)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	d.updateSharing()
	return handles, nil
}

// RemoveElements destroys elements on rank and refreshes node sharing
func (d *Distributed) RemoveElements(rank int, handles []Handle) error {
	if rank < 0 || rank >= len(d.Bulks) {
		return fmt.Errorf("invalid rank %d", rank)
	}
	for _, h := range handles {
		if err := d.Bulks[rank].DestroyElement(h); err != nil {
			return err
		}
	}
	d.updateSharing()
	return nil
}

// Locate returns the rank and handle of a global element id
func (d *Distributed) Locate(id EntityID) (int, Handle, bool) {
	for r, b := range d.Bulks {
		if h, ok := b.Handle(id); ok {
			return r, h, true
		}
	}
	return -1, InvalidHandle, false
}

func (d *Distributed) updateSharing() {
	nodeRanks := make(map[EntityID][]int)
	for r, b := range d.Bulks {
		for n := range b.nodeElems {
			nodeRanks[n] = append(nodeRanks[n], r)
		}
	}
	for r, b := range d.Bulks {
		clear(b.sharing)
		for n := range b.nodeElems {
			others := slices.DeleteFunc(slices.Clone(nodeRanks[n]), func(o int) bool { return o == r })
			b.SetSharing(n, others)
		}
	}
}
