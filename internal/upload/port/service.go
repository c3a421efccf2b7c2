package port

import (
	"context"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
)

//go:generate mockgen -destination=../service/mocks/service_mock.go -package=mocks -source=service.go

// UploadService is what the transport layer calls.
type UploadService interface {
	// Execute persists file chunk by chunk and returns the upload ID on success.
	Execute(ctx context.Context, file domain.FileRecord) (string, error)

	// GetFile reads a previously uploaded file back.
	GetFile(ctx context.Context, filename string) (domain.FileRecord, error)
}
