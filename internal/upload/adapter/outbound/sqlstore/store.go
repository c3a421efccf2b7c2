package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/pkg/keylock"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// dialect holds the driver-specific statements.
type dialect struct {
	schema    string
	selectRow string
}

var dialects = map[string]dialect{
	"mysql": {
		schema: `CREATE TABLE IF NOT EXISTS files (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	filename VARCHAR(255) NOT NULL UNIQUE,
	content LONGBLOB
)`,
		selectRow: "SELECT content FROM files WHERE filename = ? FOR UPDATE",
	},
	"sqlite3": {
		schema: `CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL UNIQUE,
	content BLOB
)`,
		selectRow: "SELECT content FROM files WHERE filename = ?",
	},
}

// Store keeps one row per filename in the files table and merges each chunk
// into its content column inside a transaction.
type Store struct {
	db      *sql.DB
	dialect dialect
	locks   *keylock.Striped
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

// Open connects with the configured driver and ensures the schema exists.
func Open(ctx context.Context, cfg config.SQLConfig) (*Store, error) {
	if _, ok := dialects[cfg.Driver]; !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	if cfg.Driver == "sqlite3" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	store, err := New(ctx, db, cfg.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle. driver selects the SQL dialect.
func New(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("failed to migrate files table: %w", err)
	}
	return &Store{db: db, dialect: d, locks: keylock.New(0)}, nil
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	unlock := s.locks.Lock(file.Filename())
	defer unlock()

	if err := s.merge(ctx, file.Filename(), chunk); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	return nil
}

func (s *Store) merge(ctx context.Context, filename string, chunk []byte) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing []byte
	err = tx.QueryRowContext(ctx, s.dialect.selectRow, filename).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, "INSERT INTO files (filename, content) VALUES (?, ?)", filename, nonNil(chunk))
	case err != nil:
		return fmt.Errorf("select: %w", err)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE files SET content = ? WHERE filename = ?", nonNil(append(existing, chunk...)), filename)
	}
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, "SELECT content FROM files WHERE filename = ?", filename).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileRecord{}, port.ErrFileNotFound
	}
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return domain.NewFileRecord(filename, content)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
