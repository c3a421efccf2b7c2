// Package segment stores uploads in append-only segment logs with an
// in-memory index of each file's chunks, rebuilt by replay on startup.
package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/spaolacci/murmur3"
	"github.com/spf13/afero"
)

const (
	// DefaultMaxSegmentSize is 64MB
	DefaultMaxSegmentSize = 64 * 1024 * 1024
	SegmentPrefix         = "segment_"
	SegmentSuffix         = ".log"

	maxNameLen = 4096
)

var (
	ErrStoreClosed      = errors.New("segment store is closed")
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
)

// chunkRef locates the payload of one record.
type chunkRef struct {
	segmentID  uint64
	dataOffset int64
	length     int64
	checksum   uint32
}

// Store appends every chunk as a record
//
//	NameLen (4) | Name (N) | DataLen (4) | Data (M) | Checksum (4)
//
// to the active segment. A file's content is its records in log order.
type Store struct {
	indexMu sync.RWMutex
	fileMu  sync.Mutex

	fs             afero.Fs
	dirPath        string
	activeFile     afero.File
	activeFileID   uint64
	activeSize     int64
	maxSegmentSize int64
	fsync          bool
	index          map[string][]chunkRef
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

// NewStore opens the segment directory on fs and replays existing segments.
func NewStore(fs afero.Fs, cfg config.SegmentConfig) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "data/segments"
	}
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	maxSize := cfg.MaxSegmentBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxSegmentSize
	}

	s := &Store{
		fs:             fs,
		dirPath:        filepath.Clean(dir),
		maxSegmentSize: maxSize,
		fsync:          cfg.FSync,
		index:          make(map[string][]chunkRef),
	}

	if err := s.replayLogs(); err != nil {
		return nil, fmt.Errorf("failed to replay segments: %w", err)
	}
	return s, nil
}

// NewOSStore is NewStore over the real filesystem.
func NewOSStore(cfg config.SegmentConfig) (*Store, error) {
	return NewStore(afero.NewOsFs(), cfg)
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	if err := s.appendRecord(file.Filename(), chunk); err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}
	return nil
}

func (s *Store) appendRecord(name string, chunk []byte) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("name length %d out of range", len(name))
	}
	if uint64(len(chunk)) > math.MaxUint32 {
		return fmt.Errorf("chunk too large")
	}

	checksum := murmur3.Sum32(chunk)
	rec := make([]byte, 0, 4+len(name)+4+len(chunk)+4)
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(name))) // #nosec G115
	rec = append(rec, name...)
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(chunk))) // #nosec G115
	rec = append(rec, chunk...)
	rec = binary.BigEndian.AppendUint32(rec, checksum)

	// Serialize writes; the index is updated under the same lock so it
	// matches log order.
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.activeFile == nil {
		return ErrStoreClosed
	}

	if _, err := s.activeFile.Write(rec); err != nil {
		s.discardTailLocked()
		return err
	}
	if s.fsync {
		if err := s.activeFile.Sync(); err != nil {
			s.discardTailLocked()
			return err
		}
	}

	ref := chunkRef{
		segmentID:  s.activeFileID,
		dataOffset: s.activeSize + int64(4+len(name)+4),
		length:     int64(len(chunk)),
		checksum:   checksum,
	}
	s.activeSize += int64(len(rec))

	s.indexMu.Lock()
	s.index[name] = append(s.index[name], ref)
	s.indexMu.Unlock()

	if s.activeSize >= s.maxSegmentSize {
		if err := s.rotateLocked(); err != nil {
			// The record is durable; the next write reports the broken segment.
			logger.Errorw("Segment rotation failed", "segment_id", s.activeFileID, "error", err.Error())
		}
	}
	return nil
}

// discardTailLocked cuts a partially written record off the active segment.
func (s *Store) discardTailLocked() {
	if err := s.activeFile.Truncate(s.activeSize); err != nil {
		logger.Warnw("Failed to truncate partial record", "segment_id", s.activeFileID, "error", err.Error())
	}
	_, _ = s.activeFile.Seek(s.activeSize, io.SeekStart)
}

func (s *Store) rotateLocked() error {
	if err := s.activeFile.Close(); err != nil {
		logger.Warnw("Failed to close full segment", "segment_id", s.activeFileID, "error", err.Error())
	}
	s.activeFile = nil
	s.activeFileID++
	return s.openActiveFileLocked()
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	s.indexMu.RLock()
	refs, ok := s.index[filename]
	refs = slices.Clone(refs)
	s.indexMu.RUnlock()
	if !ok {
		return domain.FileRecord{}, port.ErrFileNotFound
	}

	var total int64
	for _, ref := range refs {
		total += ref.length
	}
	content := make([]byte, 0, total)

	handles := make(map[uint64]afero.File)
	defer func() {
		for _, f := range handles {
			_ = f.Close()
		}
	}()

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return domain.FileRecord{}, err
		}
		if ref.length == 0 {
			continue
		}

		f, ok := handles[ref.segmentID]
		if !ok {
			var err error
			// G304: path is built from the segment dir and a numeric ID
			f, err = s.fs.Open(s.getSegmentPath(ref.segmentID)) // #nosec G304
			if err != nil {
				return domain.FileRecord{}, fmt.Errorf("failed to open segment %d: %w", ref.segmentID, err)
			}
			handles[ref.segmentID] = f
		}

		data := make([]byte, ref.length)
		n, err := f.ReadAt(data, ref.dataOffset)
		if err != nil && !(errors.Is(err, io.EOF) && int64(n) == ref.length) {
			return domain.FileRecord{}, fmt.Errorf("failed to read %s from segment %d: %w", filename, ref.segmentID, err)
		}
		if murmur3.Sum32(data) != ref.checksum {
			return domain.FileRecord{}, fmt.Errorf("%w: %s in segment %d at %d", ErrChecksumMismatch, filename, ref.segmentID, ref.dataOffset)
		}
		content = append(content, data...)
	}

	return domain.NewFileRecord(filename, content)
}

// Close closes the active segment. Later writes fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.activeFile == nil {
		return nil
	}
	err := s.activeFile.Close()
	s.activeFile = nil
	return err
}

func (s *Store) getSegmentPath(id uint64) string {
	return filepath.Join(s.dirPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix))
}

func (s *Store) openActiveFileLocked() error {
	if s.activeFileID == 0 {
		s.activeFileID = 1
	}

	// G304: path is built from the segment dir and a numeric ID
	file, err := s.fs.OpenFile(s.getSegmentPath(s.activeFileID), os.O_RDWR|os.O_CREATE, 0600) // #nosec G304
	if err != nil {
		return err
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return err
	}
	s.activeFile = file
	s.activeSize = size
	return nil
}

// replayLogs rebuilds the index from every segment in ID order.
func (s *Store) replayLogs() error {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dirPath, SegmentPrefix+"*"+SegmentSuffix))
	if err != nil {
		return err
	}

	var segmentIDs []uint64
	for _, m := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(m), SegmentPrefix+"%d"+SegmentSuffix, &id); err == nil {
			segmentIDs = append(segmentIDs, id)
		}
	}
	sort.Slice(segmentIDs, func(i, j int) bool { return segmentIDs[i] < segmentIDs[j] })

	for _, id := range segmentIDs {
		if err := s.replaySegment(id); err != nil {
			return err
		}
		s.activeFileID = id
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.openActiveFileLocked()
}

func (s *Store) replaySegment(id uint64) error {
	// G304: path is built from the segment dir and a numeric ID
	file, err := s.fs.OpenFile(s.getSegmentPath(id), os.O_RDWR, 0600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	offset := int64(0)
	records := 0
	truncated := false

	for {
		name, ref, size, err := readRecordHeader(reader, id, offset)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errCorruptRecord) {
			truncated = true
			break
		}
		if err != nil {
			return fmt.Errorf("failed to replay segment %d: %w", id, err)
		}

		s.indexMu.Lock()
		s.index[name] = append(s.index[name], ref)
		s.indexMu.Unlock()

		offset += size
		records++
	}

	if truncated {
		if err := file.Truncate(offset); err != nil {
			return fmt.Errorf("failed to truncate partial segment %d: %w", id, err)
		}
		logger.Warnw("Truncated partial segment tail during replay", "segment_id", id, "valid_bytes", offset)
	}
	logger.Debugw("Replayed segment", "segment_id", id, "records", records)
	return nil
}

var errCorruptRecord = errors.New("corrupt record header")

// readRecordHeader reads one record, skipping its payload, and returns the
// owning filename, the payload location and the full record size.
func readRecordHeader(r *bufio.Reader, segmentID uint64, offset int64) (string, chunkRef, int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", chunkRef{}, 0, err
	}
	nameLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if nameLen <= 0 || nameLen > maxNameLen {
		return "", chunkRef{}, 0, errCorruptRecord
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return "", chunkRef{}, 0, eofAsUnexpected(err)
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", chunkRef{}, 0, eofAsUnexpected(err)
	}
	dataLen := int64(binary.BigEndian.Uint32(lenBuf[:]))

	if _, err := io.CopyN(io.Discard, r, dataLen); err != nil {
		return "", chunkRef{}, 0, eofAsUnexpected(err)
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", chunkRef{}, 0, eofAsUnexpected(err)
	}

	ref := chunkRef{
		segmentID:  segmentID,
		dataOffset: offset + 4 + nameLen + 4,
		length:     dataLen,
		checksum:   binary.BigEndian.Uint32(lenBuf[:]),
	}
	return string(name), ref, 4 + nameLen + 4 + dataLen + 4, nil
}

// eofAsUnexpected marks an EOF inside a record as a torn write.
func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
