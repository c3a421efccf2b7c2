package port

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
)

var ErrFileNotFound = errors.New("file not found")

//go:generate mockgen -destination=../service/mocks/repository_mock.go -package=mocks -source=repository.go

// ChunkStore persists byte ranges of a file under its filename.
type ChunkStore interface {
	// SaveChunk persists content[offset:offset+length] of file, appending to any bytes
	// already stored under file.Filename(). Failures are reported as *domain.StorageError.
	SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error
}

// FileReader reads back everything stored under a filename.
type FileReader interface {
	// GetFile returns ErrFileNotFound when nothing was stored under filename.
	GetFile(ctx context.Context, filename string) (domain.FileRecord, error)
}

// FileRepository is a store that supports both writes and round-trip reads.
type FileRepository interface {
	ChunkStore
	FileReader
}
