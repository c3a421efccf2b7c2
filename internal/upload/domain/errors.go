package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStorage          = errors.New("storage failure")
	ErrChunkPersistence = errors.New("chunk persistence failed")
	ErrValidation       = errors.New("invalid upload")
	ErrRangeOutOfBounds = errors.New("byte range out of bounds")
)

// StorageError is returned by a chunk store when a byte range could not be persisted.
type StorageError struct {
	Filename string
	Offset   int
	Length   int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s[%d:%d]: %v", ErrStorage, e.Filename, e.Offset, e.Offset+e.Length, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err with the byte range it failed on.
// An err that already is a *StorageError is returned unchanged.
func NewStorageError(filename string, offset, length int, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Filename: filename, Offset: offset, Length: length, Err: err}
}

// ChunkPersistenceError reports the step at which an upload stopped.
// Steps before Step stay committed.
type ChunkPersistenceError struct {
	Step   int
	Offset int
	Err    *StorageError
}

func (e *ChunkPersistenceError) Error() string {
	return fmt.Sprintf("%v at step %d (offset %d): %v", ErrChunkPersistence, e.Step, e.Offset, e.Err)
}

func (e *ChunkPersistenceError) Unwrap() error { return e.Err }

func (e *ChunkPersistenceError) Is(target error) bool {
	return target == ErrChunkPersistence
}

// ValidationError rejects a malformed upload before a FileRecord exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
