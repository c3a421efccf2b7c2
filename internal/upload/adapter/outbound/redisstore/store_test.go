package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

func setup(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestStore_AppendAndRead(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()
	rec, err := domain.NewFileRecord("a.bin", []byte{1, 2, 3, 0, 5, 6})
	require.NoError(t, err)

	require.NoError(t, s.SaveChunk(ctx, rec, 0, 3))
	require.NoError(t, s.SaveChunk(ctx, rec, 3, 3))

	raw, err := mr.Get("upload:file:a.bin")
	require.NoError(t, err)
	assert.Equal(t, string([]byte{1, 2, 3, 0, 5, 6}), raw)

	got, err := s.GetFile(ctx, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, rec.Content(), got.Content())
}

func TestStore_TwoUploadsDuplicateContent(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	rec, err := domain.NewFileRecord("dup.bin", make([]byte, 1000))
	require.NoError(t, err)

	orch := service.NewOrchestrator(s, nopNotifier{}, 10)
	require.NoError(t, orch.Upload(ctx, rec))
	require.NoError(t, orch.Upload(ctx, rec))

	got, err := s.GetFile(ctx, "dup.bin")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.Size())
}

func TestStore_GetFileMissing(t *testing.T) {
	s, _ := setup(t)
	_, err := s.GetFile(context.Background(), "missing")
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestStore_ServerDown(t *testing.T) {
	s, mr := setup(t)
	rec, err := domain.NewFileRecord("a.bin", []byte("abc"))
	require.NoError(t, err)

	mr.Close()
	err = s.SaveChunk(context.Background(), rec, 0, 3)
	assert.ErrorIs(t, err, domain.ErrStorage)
}
