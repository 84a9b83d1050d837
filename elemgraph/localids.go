package elemgraph

import (
	"github.com/notargets/elemgraph/mesh"
)

// LocalID is the dense rank-local index of a graph vertex. Ids of deleted
// vertices are reused, so a LocalID must not be kept across a delete.
type LocalID int32

// InvalidLocalID marks an absent vertex
const InvalidLocalID LocalID = -1

// LocalIDTable maps local ids to mesh handles and back. Both directions are
// plain arrays; deletion invalidates entries and pushes the id on a
// free-list, it never compacts.
type LocalIDTable struct {
	handles []mesh.Handle // [localID] -> handle, InvalidHandle when free
	ids     []LocalID     // [handle] -> localID, InvalidLocalID when absent
	free    []LocalID
}

// Add assigns a local id to h, reusing a freed id first. Adding a handle
// twice returns its existing id.
func (t *LocalIDTable) Add(h mesh.Handle) LocalID {
	if id, ok := t.LocalID(h); ok {
		return id
	}
	var id LocalID
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.handles[id] = h
	} else {
		id = LocalID(len(t.handles))
		t.handles = append(t.handles, h)
	}
	for int(h) >= len(t.ids) {
		t.ids = append(t.ids, InvalidLocalID)
	}
	t.ids[h] = id
	return id
}

// Remove frees id and returns the handle it mapped to
func (t *LocalIDTable) Remove(id LocalID) mesh.Handle {
	if !t.IsValid(id) {
		return mesh.InvalidHandle
	}
	h := t.handles[id]
	t.handles[id] = mesh.InvalidHandle
	t.ids[h] = InvalidLocalID
	t.free = append(t.free, id)
	return h
}

// IsValid reports whether id is in use
func (t *LocalIDTable) IsValid(id LocalID) bool {
	return id >= 0 && int(id) < len(t.handles) && t.handles[id] != mesh.InvalidHandle
}

// Handle returns the handle of id, or InvalidHandle
func (t *LocalIDTable) Handle(id LocalID) mesh.Handle {
	if !t.IsValid(id) {
		return mesh.InvalidHandle
	}
	return t.handles[id]
}

// LocalID returns the id assigned to h
func (t *LocalIDTable) LocalID(h mesh.Handle) (LocalID, bool) {
	if h < 0 || int(h) >= len(t.ids) || t.ids[h] == InvalidLocalID {
		return InvalidLocalID, false
	}
	return t.ids[h], true
}

// Len returns the size of the dense id range, free ids included
func (t *LocalIDTable) Len() int { return len(t.handles) }

// NumActive returns the number of ids in use
func (t *LocalIDTable) NumActive() int { return len(t.handles) - len(t.free) }
