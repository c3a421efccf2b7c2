package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
)

//go:generate mockgen -destination=mocks/dependencies_mock.go -package=mocks -source=use_case.go

// ErrNoIDGenerator is returned by Execute when the use case was built without an IDGenerator.
var ErrNoIDGenerator = errors.New("upload service: no upload id generator configured")

// IDGenerator defines ID generation capability.
type IDGenerator interface {
	Next() (int64, error)
}

// UploadUseCase is the entry point the transport layer calls.
// It owns one Orchestrator built from the injected ports and adds no business rules.
type UploadUseCase struct {
	orchestrator *Orchestrator
	reader       port.FileReader
	idGen        IDGenerator
}

// Ensure UploadUseCase implements port.UploadService.
var _ port.UploadService = (*UploadUseCase)(nil)

// NewUploadUseCase wires the orchestrator. When store also implements port.FileReader,
// GetFile reads through it; otherwise GetFile reports port.ErrFileNotFound.
func NewUploadUseCase(store port.ChunkStore, notifier port.ProgressNotifier, chunkCount int, idGen IDGenerator) *UploadUseCase {
	reader, _ := store.(port.FileReader)
	return &UploadUseCase{
		orchestrator: NewOrchestrator(store, notifier, chunkCount),
		reader:       reader,
		idGen:        idGen,
	}
}

// Execute runs one upload to completion or to its first chunk failure.
func (u *UploadUseCase) Execute(ctx context.Context, file domain.FileRecord) (string, error) {
	uploadID, err := u.nextUploadID()
	if err != nil {
		return "", err
	}

	start := time.Now()
	logger.Infow("Upload started",
		"upload_id", uploadID,
		"file_name", file.Filename(),
		"size_bytes", file.Size(),
		"chunks", u.orchestrator.ChunkCount(),
	)

	if err := u.orchestrator.Upload(ctx, file); err != nil {
		logger.Errorw("Upload failed", "upload_id", uploadID, "file_name", file.Filename(), "error", err.Error())
		return "", err
	}

	logger.Infow("Upload completed",
		"upload_id", uploadID,
		"file_name", file.Filename(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return uploadID, nil
}

// ChunkCount returns the number of steps each upload is split into.
func (u *UploadUseCase) ChunkCount() int {
	return u.orchestrator.ChunkCount()
}

// GetFile reads a stored file back through the configured store.
func (u *UploadUseCase) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	if u.reader == nil {
		return domain.FileRecord{}, port.ErrFileNotFound
	}
	return u.reader.GetFile(ctx, filename)
}

func (u *UploadUseCase) nextUploadID() (string, error) {
	if u.idGen == nil {
		return "", ErrNoIDGenerator
	}
	id, err := u.idGen.Next()
	if err != nil {
		return "", fmt.Errorf("upload service: failed to generate upload id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}
