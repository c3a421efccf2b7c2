package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/redis/go-redis/v9"
)

const fileKeyPrefix = "upload:file:"

// Store keeps each file as one Redis string grown with APPEND,
// which is atomic per call and so needs no extra locking.
type Store struct {
	client redis.Cmdable
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	if err := s.client.Append(ctx, fileKey(file.Filename()), string(chunk)).Err(); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	content, err := s.client.Get(ctx, fileKey(filename)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.FileRecord{}, port.ErrFileNotFound
	}
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return domain.NewFileRecord(filename, content)
}

func fileKey(filename string) string {
	return fileKeyPrefix + filename
}
