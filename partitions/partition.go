// Package partitions decomposes a global mesh into rank partitions and
// predicts the cut faces between them, which is the remote edge count the
// element graph must reproduce.
package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/elemgraph/topology"
)

// Partition is the set of elements placed on one rank
type Partition struct {
	// Unique identifier for this partition, equal to its rank
	ID int

	// Element membership
	Elements    []int // Global element indices in this partition
	NumElements int

	// Mixed element support
	Topologies []topology.Topology // Topology of each element
	TypeGroups []ElementGroup      // Grouped by topology
}

// ElementGroup represents elements of the same topology within a partition
type ElementGroup struct {
	Topology   topology.Topology
	StartIndex int   // Position of the group in the partition's grouped order
	Count      int   // Number of elements of this topology
	NumNodes   int   // Nodes per element for this topology
	LocalIDs   []int // Indices within the partition
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh
	Partitions []Partition

	// Global sizing information
	MaxElements   int // max(NumElements) across all partitions
	TotalElements int // Sum of all actual elements across partitions
	NumPartitions int

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// GetPartition returns the partition containing element k
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions, layout says %d", len(pl.Partitions), pl.NumPartitions)
	}
	actualMax, total := 0, 0
	for _, p := range pl.Partitions {
		actualMax = max(actualMax, p.NumElements)
		total += p.NumElements
		if len(p.Elements) != p.NumElements {
			return fmt.Errorf("partition %d: %d elements listed, NumElements %d",
				p.ID, len(p.Elements), p.NumElements)
		}
		for _, e := range p.Elements {
			if pl.GetPartition(e) != p.ID {
				return fmt.Errorf("partition %d lists element %d owned by %d", p.ID, e, pl.GetPartition(e))
			}
		}
	}
	if actualMax != pl.MaxElements {
		return fmt.Errorf("computed MaxElements %d != stored MaxElements %d", actualMax, pl.MaxElements)
	}
	if total != pl.TotalElements || total != len(pl.EToP) {
		return fmt.Errorf("partitions hold %d elements, layout has %d", total, pl.TotalElements)
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinElements:   math.MaxInt32,
		AvgElements:   float64(pl.TotalElements) / float64(pl.NumPartitions),
	}
	for _, p := range pl.Partitions {
		stats.MinElements = min(stats.MinElements, p.NumElements)
		stats.MaxElements = max(stats.MaxElements, p.NumElements)
	}
	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}
	return stats
}

// PartitionStats summarizes how evenly elements are spread over partitions.
// Imbalance is the largest partition over the average.
type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}

// RemotePartition describes traffic with a partition on another rank
type RemotePartition struct {
	PartitionID int

	// Location in communication buffers, counted in cut faces
	SendOffset int
	SendCount  int
	RecvOffset int
	RecvCount  int
}

// CommPlan is the expected face exchange of one partition
type CommPlan struct {
	PartitionID      int
	RemotePartitions []RemotePartition // ascending partition id
	SendSize         int
	RecvSize         int
}

func validateCommunicationSymmetry(plans []*CommPlan) error {
	// Verify that if partition A sends to partition B,
	// then partition B expects to receive from partition A
	sendMap := make(map[[2]int]int)
	for _, plan := range plans {
		for _, rp := range plan.RemotePartitions {
			sendMap[[2]int{plan.PartitionID, rp.PartitionID}] = rp.SendCount
		}
	}
	for _, plan := range plans {
		for _, rp := range plan.RemotePartitions {
			expectedCount, exists := sendMap[[2]int{rp.PartitionID, plan.PartitionID}]
			if !exists {
				return fmt.Errorf("partition %d expects to receive from %d, but %d doesn't send",
					plan.PartitionID, rp.PartitionID, rp.PartitionID)
			}
			if expectedCount != rp.RecvCount {
				return fmt.Errorf("count mismatch: partition %d sends %d to %d, but %d expects %d",
					rp.PartitionID, expectedCount, plan.PartitionID, plan.PartitionID, rp.RecvCount)
			}
		}
	}
	return nil
}
