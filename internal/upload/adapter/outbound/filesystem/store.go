package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/pkg/keylock"
	"github.com/spf13/afero"
)

// Store appends chunks to one file per filename under a directory.
// Appends to the same filename are serialized through a striped lock.
type Store struct {
	fs    afero.Fs
	dir   string
	locks *keylock.Striped
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

// NewStore creates the upload directory on fs if needed.
func NewStore(fs afero.Fs, dir string, stripes int) (*Store, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{
		fs:    fs,
		dir:   filepath.Clean(dir),
		locks: keylock.New(stripes),
	}, nil
}

// NewOSStore is NewStore over the real filesystem.
func NewOSStore(cfg config.FilesystemConfig) (*Store, error) {
	return NewStore(afero.NewOsFs(), cfg.Dir, cfg.Stripes)
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	unlock := s.locks.Lock(file.Filename())
	defer unlock()

	if err := s.appendFile(s.path(file.Filename()), chunk); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	return nil
}

func (s *Store) appendFile(path string, chunk []byte) (err error) {
	// G304: path is built from the upload dir and a validated base name
	f, err := s.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = f.Write(chunk)
	return err
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	if err := domain.ValidateFilename(filename); err != nil {
		return domain.FileRecord{}, err
	}

	unlock := s.locks.Lock(filename)
	content, err := afero.ReadFile(s.fs, s.path(filename))
	unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.FileRecord{}, port.ErrFileNotFound
		}
		return domain.FileRecord{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return domain.NewFileRecord(filename, content)
}

func (s *Store) path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}
