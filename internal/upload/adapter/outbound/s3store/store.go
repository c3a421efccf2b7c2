package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/pkg/keylock"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store keeps one object per filename. S3 has no append, so each chunk
// rewrites the object under a per-key lock; only one process may write a key.
type Store struct {
	client objectAPI
	bucket string
	locks  *keylock.Striped
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

// New creates a store over an S3-compatible endpoint (SeaweedFS, MinIO, AWS)
// and makes sure the bucket exists.
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	accessKey, secretKey := cfg.AccessKey, cfg.SecretKey
	if accessKey == "" {
		accessKey, secretKey = "any", "any"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	store := NewStore(client, cfg.Bucket)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func NewStore(client objectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket, locks: keylock.New(0)}
}

func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	return s.locks.Do(file.Filename(), func() error {
		return s.appendObject(ctx, file.Filename(), chunk, offset)
	})
}

func (s *Store) appendObject(ctx context.Context, key string, chunk []byte, offset int) error {
	existing, err := s.read(ctx, key)
	if err != nil && !errors.Is(err, port.ErrFileNotFound) {
		return domain.NewStorageError(key, offset, len(chunk), err)
	}

	merged := make([]byte, 0, len(existing)+len(chunk))
	merged = append(merged, existing...)
	merged = append(merged, chunk...)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(merged),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return domain.NewStorageError(key, offset, len(chunk), err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	content, err := s.read(ctx, filename)
	if err != nil {
		return domain.FileRecord{}, err
	}
	return domain.NewFileRecord(filename, content)
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, port.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return content, nil
}

// ensureBucket creates the bucket when HeadBucket reports it missing.
func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || (apiErr.ErrorCode() != "NotFound" && apiErr.ErrorCode() != "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}

	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}
