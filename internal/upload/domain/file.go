package domain

import (
	"bytes"
	"fmt"
	"strings"
)

// FileRecord is the name+payload unit submitted for upload.
// It is immutable once constructed: Content returns a copy and Range a read-only view.
type FileRecord struct {
	filename string
	content  []byte
}

// NewFileRecord validates the filename and copies content into a new record.
func NewFileRecord(filename string, content []byte) (FileRecord, error) {
	if err := ValidateFilename(filename); err != nil {
		return FileRecord{}, err
	}
	return FileRecord{
		filename: filename,
		content:  bytes.Clone(content),
	}, nil
}

// ValidateFilename rejects names that cannot serve as a flat storage key.
func ValidateFilename(filename string) error {
	switch {
	case strings.TrimSpace(filename) == "":
		return &ValidationError{Field: "filename", Reason: "must not be empty"}
	case filename == "." || filename == "..":
		return &ValidationError{Field: "filename", Reason: "must not be a relative path element"}
	case strings.ContainsAny(filename, `/\`):
		return &ValidationError{Field: "filename", Reason: "must not contain path separators"}
	case strings.ContainsRune(filename, 0):
		return &ValidationError{Field: "filename", Reason: "must not contain NUL"}
	}
	return nil
}

func (f FileRecord) Filename() string { return f.filename }

// Size returns the payload length in bytes.
func (f FileRecord) Size() int { return len(f.content) }

// Content returns a copy of the full payload.
func (f FileRecord) Content() []byte { return bytes.Clone(f.content) }

// Range returns content[offset:offset+length]. The returned slice must not be modified.
func (f FileRecord) Range(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(f.content) {
		return nil, fmt.Errorf("%w: [%d:%d] of %d bytes", ErrRangeOutOfBounds, offset, offset+length, len(f.content))
	}
	return f.content[offset : offset+length : offset+length], nil
}
