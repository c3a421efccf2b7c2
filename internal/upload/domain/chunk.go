package domain

import "fmt"

// DefaultChunkCount is the number of chunks a payload is split into when none is configured.
const DefaultChunkCount = 10

// ChunkPlan describes how one payload is split into sequential chunks.
// Size is floor(total/Count); bytes beyond Count*Size are never written.
type ChunkPlan struct {
	Count int
	Size  int
}

// NewChunkPlan computes the plan for a payload of totalSize bytes.
func NewChunkPlan(totalSize, count int) ChunkPlan {
	if count <= 0 {
		count = DefaultChunkCount
	}
	return ChunkPlan{
		Count: count,
		Size:  totalSize / count,
	}
}

// Offset returns the byte offset of the given step.
func (p ChunkPlan) Offset(step int) int {
	return step * p.Size
}

// PlannedBytes is the number of bytes the plan persists.
func (p ChunkPlan) PlannedBytes() int {
	return p.Count * p.Size
}

// ProgressLabel renders the signal emitted after step commits.
// The value is (step+1)*Count, which only reads as a true percentage when Count is 10.
func (p ChunkPlan) ProgressLabel(step int) string {
	return fmt.Sprintf("%d%%", (step+1)*p.Count)
}
