package partitions

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *Connectivity

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Breadth-first growth over face neighbors
)

var strategyNames = map[string]PartitionStrategy{
	"block":      BlockPartition,
	"roundrobin": RoundRobin,
	"graph":      GraphPartition,
}

// ParseStrategy maps a strategy name to its value
func ParseStrategy(name string) (PartitionStrategy, error) {
	s, ok := strategyNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown partition strategy %q", name)
	}
	return s, nil
}

func (s PartitionStrategy) String() string {
	for name, v := range strategyNames {
		if v == s {
			return name
		}
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("invalid partition count %d", pb.NumPartitions)
	}
	numPartitions := pb.NumPartitions

	// Partition the elements
	eToP := pb.partitionElements(numPartitions)
	return pb.assemble(eToP, numPartitions)
}

// LayoutFromAssignment builds a layout from an existing element to partition
// map, such as one read from a mesh file
func LayoutFromAssignment(conn *Connectivity, eToP []int, numPartitions int) (*PartitionLayout, error) {
	if len(eToP) != conn.NumElements {
		return nil, fmt.Errorf("assignment covers %d of %d elements", len(eToP), conn.NumElements)
	}
	for k, p := range eToP {
		if p < 0 || p >= numPartitions {
			return nil, fmt.Errorf("element %d assigned to partition %d of %d", k, p, numPartitions)
		}
	}
	pb := &PartitionBuilder{Mesh: conn, NumPartitions: numPartitions}
	return pb.assemble(slices.Clone(eToP), numPartitions)
}

func (pb *PartitionBuilder) assemble(eToP []int, numPartitions int) (*PartitionLayout, error) {
	// Create partition structures
	partitions := pb.createPartitions(eToP, numPartitions)

	maxElements := 0
	for _, p := range partitions {
		maxElements = max(maxElements, p.NumElements)
	}

	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxElements:   maxElements,
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) []int {
	n := pb.Mesh.NumElements
	eToP := make([]int, n)

	switch pb.Strategy {
	case RoundRobin:
		for i := 0; i < n; i++ {
			eToP[i] = i % numPartitions
		}

	case GraphPartition:
		pb.growPartitions(eToP, numPartitions)

	default:
		elementsPerPartition := max(1, int(math.Ceil(float64(n)/float64(numPartitions))))
		for i := 0; i < n; i++ {
			eToP[i] = min(i/elementsPerPartition, numPartitions-1)
		}
	}
	return eToP
}

// growPartitions fills one partition at a time breadth first from the lowest
// unassigned element, so partitions stay face connected where the mesh
// allows it
func (pb *PartitionBuilder) growPartitions(eToP []int, numPartitions int) {
	n := pb.Mesh.NumElements
	for i := range eToP {
		eToP[i] = -1
	}
	next := 0 // lowest element that may be unassigned
	assigned := 0
	for part := 0; part < numPartitions; part++ {
		// Spread the remainder over the remaining partitions
		target := (n - assigned + numPartitions - part - 1) / (numPartitions - part)
		count := 0
		var queue []int
		for count < target {
			if len(queue) == 0 {
				for next < n && eToP[next] >= 0 {
					next++
				}
				if next == n {
					break
				}
				eToP[next] = part
				count++
				queue = append(queue, next)
				continue
			}
			k := queue[0]
			queue = queue[1:]
			for _, nbr := range pb.Mesh.EToE[k] {
				if count == target {
					break
				}
				if eToP[nbr] < 0 {
					eToP[nbr] = part
					count++
					queue = append(queue, nbr)
				}
			}
		}
		assigned += count
	}
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i] = Partition{ID: i}
	}

	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		if pb.Mesh.Topologies != nil {
			partitions[part].Topologies = append(partitions[part].Topologies, pb.Mesh.Topologies[elem])
		}
		partitions[part].NumElements++
	}

	for i := range partitions {
		partitions[i].TypeGroups = createElementGroups(&partitions[i])
	}
	return partitions
}

// createElementGroups organizes elements by topology within a partition, in
// topology order
func createElementGroups(p *Partition) []ElementGroup {
	if len(p.Topologies) == 0 {
		return nil
	}
	byType := make(map[int][]int)
	for i, t := range p.Topologies {
		byType[int(t)] = append(byType[int(t)], i)
	}
	types := make([]int, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.Sort(types)

	groups := make([]ElementGroup, 0, len(types))
	currentIndex := 0
	for _, t := range types {
		indices := byType[t]
		topo := p.Topologies[indices[0]]
		groups = append(groups, ElementGroup{
			Topology:   topo,
			StartIndex: currentIndex,
			Count:      len(indices),
			NumNodes:   topo.NumNodes(),
			LocalIDs:   indices,
		})
		currentIndex += len(indices)
	}
	return groups
}
