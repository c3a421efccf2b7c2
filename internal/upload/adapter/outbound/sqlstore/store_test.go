package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.SQLConfig{
		Driver: "sqlite3",
		DSN:    "file:" + filepath.Join(t.TempDir(), "files.db") + "?_busy_timeout=5000",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UpsertMergesChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, err := domain.NewFileRecord("report.pdf", []byte{0x00, 0x01, 0xff, 0x00, 0x10, 0x20})
	require.NoError(t, err)

	require.NoError(t, s.SaveChunk(ctx, rec, 0, 3))
	require.NoError(t, s.SaveChunk(ctx, rec, 3, 3))

	got, err := s.GetFile(ctx, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, rec.Content(), got.Content())

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM files WHERE filename = ?", "report.pdf").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestStore_ZeroLengthChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, err := domain.NewFileRecord("empty.bin", nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveChunk(ctx, rec, 0, 0))
	require.NoError(t, s.SaveChunk(ctx, rec, 0, 0))

	got, err := s.GetFile(ctx, "empty.bin")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Size())
}

func TestStore_GetFileMissing(t *testing.T) {
	_, err := openTestStore(t).GetFile(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestStore_FailuresAreStorageErrors(t *testing.T) {
	s := openTestStore(t)
	rec, err := domain.NewFileRecord("a.txt", []byte("abc"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	err = s.SaveChunk(context.Background(), rec, 0, 3)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "database is closed")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.SQLConfig{Driver: "oracle"})
	assert.Error(t, err)
}
