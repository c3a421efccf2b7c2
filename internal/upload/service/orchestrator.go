package service

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
)

// Orchestrator drives the chunked persistence of one FileRecord.
// Chunks are written strictly in order; progress is signalled after each commit.
// It holds no mutable state and is safe for concurrent use by independent uploads.
type Orchestrator struct {
	store      port.ChunkStore
	notifier   port.ProgressNotifier
	chunkCount int
}

// NewOrchestrator creates an orchestrator. A non-positive chunkCount falls back to domain.DefaultChunkCount.
func NewOrchestrator(store port.ChunkStore, notifier port.ProgressNotifier, chunkCount int) *Orchestrator {
	if chunkCount <= 0 {
		chunkCount = domain.DefaultChunkCount
	}
	return &Orchestrator{
		store:      store,
		notifier:   notifier,
		chunkCount: chunkCount,
	}
}

// ChunkCount returns the configured number of steps per upload.
func (o *Orchestrator) ChunkCount() int {
	return o.chunkCount
}

// Upload persists file in ChunkCount sequential steps.
// The first store failure stops the loop and is returned as *domain.ChunkPersistenceError;
// chunks committed before it are left in place.
func (o *Orchestrator) Upload(ctx context.Context, file domain.FileRecord) error {
	plan := domain.NewChunkPlan(file.Size(), o.chunkCount)

	offset := 0
	for step := 0; step < plan.Count; step++ {
		if err := o.store.SaveChunk(ctx, file, offset, plan.Size); err != nil {
			logger.Warnw("Chunk persistence failed",
				"file_name", file.Filename(),
				"step", step,
				"offset", offset,
				"error", err.Error(),
			)
			return &domain.ChunkPersistenceError{
				Step:   step,
				Offset: offset,
				Err:    asStorageError(file.Filename(), offset, plan.Size, err),
			}
		}

		o.notifier.Notify(ctx, plan.ProgressLabel(step))
		offset += plan.Size
	}

	if dropped := file.Size() - plan.PlannedBytes(); dropped > 0 {
		logger.Debugw("Trailing bytes not covered by chunk plan",
			"file_name", file.Filename(),
			"dropped_bytes", dropped,
		)
	}
	return nil
}

func asStorageError(filename string, offset, length int, err error) *domain.StorageError {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return se
	}
	return &domain.StorageError{Filename: filename, Offset: offset, Length: length, Err: err}
}
