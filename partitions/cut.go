package partitions

import (
	"fmt"
	"slices"
)

// FaceCommunication describes a face that needs inter-partition communication
type FaceCommunication struct {
	LocalElement    int // Element index within partition
	LocalFace       int // Face index within element
	RemotePartition int // Target partition ID
	RemoteElement   int // Global element index in remote partition
	RemoteFace      int // Face index in remote element
}

// AnalyzeCutFaces determines which faces of each partition meet an element
// on another partition. Each cut face appears once on both sides.
func AnalyzeCutFaces(layout *PartitionLayout, conn *Connectivity) map[int][]FaceCommunication {
	patterns := make(map[int][]FaceCommunication)

	for partID, partition := range layout.Partitions {
		var faceComm []FaceCommunication

		for localElemIdx, globalElem := range partition.Elements {
			for face, neighbor := range conn.EToE[globalElem] {
				// Skip boundary faces
				if neighbor == globalElem {
					continue
				}

				neighborPart := layout.GetPartition(neighbor)
				if neighborPart != partID && neighborPart >= 0 {
					faceComm = append(faceComm, FaceCommunication{
						LocalElement:    localElemIdx,
						LocalFace:       face,
						RemotePartition: neighborPart,
						RemoteElement:   neighbor,
						RemoteFace:      conn.EToF[globalElem][face],
					})
				}
			}
		}
		patterns[partID] = faceComm
	}
	return patterns
}

// CutFaceCount is the number of cut faces seen from each partition
func CutFaceCount(patterns map[int][]FaceCommunication, numPartitions int) []int {
	counts := make([]int, numPartitions)
	for part, faces := range patterns {
		counts[part] = len(faces)
	}
	return counts
}

// BuildCommPlans lays out one send and receive slot per cut face, grouped by
// remote partition in ascending order, and checks both sides agree
func BuildCommPlans(layout *PartitionLayout, conn *Connectivity) ([]*CommPlan, error) {
	patterns := AnalyzeCutFaces(layout, conn)

	// Faces partition a expects from partition b are the ones b sends to a
	recvCounts := make(map[[2]int]int)
	for part, faces := range patterns {
		for _, fc := range faces {
			recvCounts[[2]int{fc.RemotePartition, part}]++
		}
	}

	plans := make([]*CommPlan, layout.NumPartitions)
	for partID := range layout.Partitions {
		sendCounts := make(map[int]int)
		for _, fc := range patterns[partID] {
			sendCounts[fc.RemotePartition]++
		}
		remotes := make([]int, 0, len(sendCounts))
		for rp := range sendCounts {
			remotes = append(remotes, rp)
		}
		slices.Sort(remotes)

		plan := &CommPlan{PartitionID: partID}
		for _, rp := range remotes {
			recv := recvCounts[[2]int{partID, rp}]
			plan.RemotePartitions = append(plan.RemotePartitions, RemotePartition{
				PartitionID: rp,
				SendOffset:  plan.SendSize,
				SendCount:   sendCounts[rp],
				RecvOffset:  plan.RecvSize,
				RecvCount:   recv,
			})
			plan.SendSize += sendCounts[rp]
			plan.RecvSize += recv
		}
		plans[partID] = plan
	}

	if err := validateCommunicationSymmetry(plans); err != nil {
		return nil, fmt.Errorf("communication pattern validation failed: %w", err)
	}
	return plans, nil
}
