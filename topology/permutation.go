package topology

// Node permutations of each side shape. The first numPositive entries are
// rotations, the remainder reflections.
type permutationTable struct {
	numPositive int
	perms       [][]int
}

var permutations = map[Topology]permutationTable{
	Point: {numPositive: 1, perms: [][]int{{0}}},
	Line2: {numPositive: 1, perms: [][]int{{0, 1}, {1, 0}}},
	Tri3: {numPositive: 3, perms: [][]int{
		{0, 1, 2}, {2, 0, 1}, {1, 2, 0},
		{0, 2, 1}, {2, 1, 0}, {1, 0, 2},
	}},
	Quad4: {numPositive: 4, perms: [][]int{
		{0, 1, 2, 3}, {3, 0, 1, 2}, {2, 3, 0, 1}, {1, 2, 3, 0},
		{0, 3, 2, 1}, {3, 2, 1, 0}, {2, 1, 0, 3}, {1, 0, 3, 2},
	}},
}

// InvalidPermutation is returned when no permutation relates two node lists
const InvalidPermutation = -1

// NumPermutations returns the number of valid node orderings of side shape t
func (t Topology) NumPermutations() int {
	return len(permutations[t].perms)
}

// NumPositivePermutations returns the number of rotations of side shape t
func (t Topology) NumPositivePermutations() int {
	return permutations[t].numPositive
}

// Permutation returns the node ordinal map of permutation p
func (t Topology) Permutation(p int) []int {
	tab := permutations[t]
	if p < 0 || p >= len(tab.perms) {
		return nil
	}
	return tab.perms[p]
}

// IsPositive reports whether permutation p of side shape t is a rotation
func IsPositive(t Topology, p int) bool {
	return p >= 0 && p < permutations[t].numPositive
}

// Equivalent reports whether b is a valid reordering of a for side shape t.
// When it is, the returned permutation p satisfies b[i] == a[P[p][i]].
func Equivalent[T comparable](t Topology, a, b []T) (bool, int) {
	tab, ok := permutations[t]
	if !ok || len(a) != len(b) || len(a) != t.NumNodes() {
		return false, InvalidPermutation
	}
	for p, perm := range tab.perms {
		match := true
		for i, o := range perm {
			if b[i] != a[o] {
				match = false
				break
			}
		}
		if match {
			return true, p
		}
	}
	return false, InvalidPermutation
}

// Permute reorders a by permutation p so that Equivalent(t, a, result)
// reports p
func Permute[T any](t Topology, a []T, p int) []T {
	perm := t.Permutation(p)
	if perm == nil || len(perm) != len(a) {
		return nil
	}
	out := make([]T, len(a))
	for i, o := range perm {
		out[i] = a[o]
	}
	return out
}

// InversePermutation returns q such that permuting by p then q is the identity
func InversePermutation(t Topology, p int) int {
	perm := t.Permutation(p)
	if perm == nil {
		return InvalidPermutation
	}
	inv := make([]int, len(perm))
	for i, o := range perm {
		inv[o] = i
	}
	for q, cand := range permutations[t].perms {
		equal := true
		for i := range cand {
			if cand[i] != inv[i] {
				equal = false
				break
			}
		}
		if equal {
			return q
		}
	}
	return InvalidPermutation
}

// SidesConnect applies the orientation rule for two element sides related by
// permutation perm: two shells face each other only through a rotation, a
// shell and a solid only through a reflection, and two solids connect either
// way.
func SidesConnect(elem1, elem2, side Topology, perm int) bool {
	if perm == InvalidPermutation {
		return false
	}
	positive := IsPositive(side, perm)
	switch {
	case elem1.IsShell() && elem2.IsShell():
		return positive
	case elem1.IsShell() || elem2.IsShell():
		return !positive
	default:
		return true
	}
}

// IsCoincident reports whether two elements joined through a side with
// permutation perm occupy the same space: same solid topology, rotated nodes.
// Point sides carry no orientation and never report coincidence.
func IsCoincident(elem1, elem2, side Topology, perm int) bool {
	if elem1 != elem2 || elem1.IsShell() || side == Point {
		return false
	}
	return IsPositive(side, perm)
}
