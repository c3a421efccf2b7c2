package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/service/mocks"
	"github.com/anthanhphan/go-chunked-upload/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func record(t *testing.T) domain.FileRecord {
	t.Helper()
	rec, err := domain.NewFileRecord("b.bin", make([]byte, 20))
	require.NoError(t, err)
	return rec
}

func TestStore_OpensAfterThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockChunkStore(ctrl)
	rec := record(t)
	cause := errors.New("connection refused")

	next.EXPECT().SaveChunk(gomock.Any(), rec, 0, 2).Return(cause).Times(2)

	s := Wrap("sql", next, config.BreakerConfig{FailureThreshold: 2, OpenTimeoutMS: 60000})

	for i := 0; i < 2; i++ {
		err := s.SaveChunk(context.Background(), rec, 0, 2)
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, domain.ErrStorage)
	}
	assert.Equal(t, resilience.CircuitOpen, s.State())

	// Rejected without reaching the backend.
	err := s.SaveChunk(context.Background(), rec, 2, 2)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrStorage)

	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Offset)
}

func TestStore_PassesThroughSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockFileRepository(ctrl)
	rec := record(t)

	next.EXPECT().SaveChunk(gomock.Any(), rec, 0, 2).Return(nil)
	next.EXPECT().GetFile(gomock.Any(), "b.bin").Return(rec, nil)

	s := Wrap("filesystem", next, config.BreakerConfig{})
	require.NoError(t, s.SaveChunk(context.Background(), rec, 0, 2))

	got, err := s.GetFile(context.Background(), "b.bin")
	require.NoError(t, err)
	assert.Equal(t, rec.Filename(), got.Filename())
	assert.Equal(t, resilience.CircuitClosed, s.State())
}

func TestStore_GetFileWithoutReader(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := Wrap("x", mocks.NewMockChunkStore(ctrl), config.BreakerConfig{})
	_, err := s.GetFile(context.Background(), "b.bin")
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestStore_CallerErrorsDoNotTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockChunkStore(ctrl)
	rec := record(t)

	next.EXPECT().SaveChunk(gomock.Any(), rec, 18, 5).
		Return(domain.NewStorageError("b.bin", 18, 5, domain.ErrRangeOutOfBounds)).Times(3)
	next.EXPECT().SaveChunk(gomock.Any(), rec, 0, 2).Return(context.Canceled)

	s := Wrap("filesystem", next, config.BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.SaveChunk(context.Background(), rec, 18, 5), domain.ErrRangeOutOfBounds)
	}
	assert.ErrorIs(t, s.SaveChunk(context.Background(), rec, 0, 2), context.Canceled)
	assert.Equal(t, resilience.CircuitClosed, s.State())
}
