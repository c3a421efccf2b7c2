// Package breaker guards a chunk store with a circuit breaker so a failing
// backend rejects uploads quickly instead of timing out every chunk.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

type Store struct {
	next    port.ChunkStore
	reader  port.FileReader
	breaker *resilience.CircuitBreaker
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

// Wrap returns next guarded by a breaker named after the backend.
// Reads are passed through unguarded when next is also a port.FileReader.
func Wrap(backend string, next port.ChunkStore, cfg config.BreakerConfig) *Store {
	reader, _ := next.(port.FileReader)
	return &Store{
		next:   next,
		reader: reader,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "chunk-store:" + backend,
			FailureThreshold: cfg.FailureThreshold,
			OpenTimeout:      time.Duration(cfg.OpenTimeoutMS) * time.Millisecond,
			IsFailure:        isBackendFailure,
			OnStateChange:    logStateChange,
		}),
	}
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.next.SaveChunk(ctx, file, offset, length)
	})
	return domain.NewStorageError(file.Filename(), offset, length, err)
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	if s.reader == nil {
		return domain.FileRecord{}, port.ErrFileNotFound
	}
	return s.reader.GetFile(ctx, filename)
}

// State reports the breaker state.
func (s *Store) State() resilience.CircuitBreakerState {
	return s.breaker.State()
}

// isBackendFailure ignores caller errors; cancellation is already excluded by the breaker.
func isBackendFailure(err error) bool {
	return !errors.Is(err, domain.ErrRangeOutOfBounds)
}

func logStateChange(name string, from, to resilience.CircuitBreakerState) {
	if to == resilience.CircuitOpen {
		logger.Warnw("Circuit breaker opened", "breaker", name, "from", string(from))
		return
	}
	logger.Infow("Circuit breaker state changed", "breaker", name, "from", string(from), "to", string(to))
}
