package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxAppendAttempts = 5

var errConcurrentUpdate = errors.New("document changed concurrently")

// fileDocument holds one file's accumulated content under its name.
// Size doubles as the optimistic-concurrency version. MongoDB caps a
// document at 16MB, which bounds the files this store can hold.
type fileDocument struct {
	Filename  string    `bson:"_id"`
	Content   []byte    `bson:"content"`
	Size      int64     `bson:"size"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store merges chunks into one document per filename.
type Store struct {
	collection *mongo.Collection
}

// Ensure Store implements port.FileRepository.
var _ port.FileRepository = (*Store)(nil)

func NewStore(db *mongo.Database, collection string) *Store {
	if collection == "" {
		collection = "files"
	}
	return &Store{collection: db.Collection(collection)}
}

// Connect dials MongoDB and returns the store plus a disconnect function.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return NewStore(client.Database(cfg.Database), cfg.Collection), client.Disconnect, nil
}

// SaveChunk appends with compare-and-set on size, retrying when another
// writer got there first.
func (s *Store) SaveChunk(ctx context.Context, file domain.FileRecord, offset, length int) error {
	chunk, err := file.Range(offset, length)
	if err != nil {
		return domain.NewStorageError(file.Filename(), offset, length, err)
	}

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		err = s.appendOnce(ctx, file.Filename(), chunk)
		if !errors.Is(err, errConcurrentUpdate) {
			return domain.NewStorageError(file.Filename(), offset, length, err)
		}
	}
	return domain.NewStorageError(file.Filename(), offset, length,
		fmt.Errorf("%w after %d attempts", errConcurrentUpdate, maxAppendAttempts))
}

func (s *Store) appendOnce(ctx context.Context, filename string, chunk []byte) error {
	now := time.Now().UTC()

	var doc fileDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": filename}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		_, err = s.collection.InsertOne(ctx, fileDocument{
			Filename:  filename,
			Content:   append([]byte{}, chunk...),
			Size:      int64(len(chunk)),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return errConcurrentUpdate
		}
		return err
	}
	if err != nil {
		return err
	}

	content := append(doc.Content, chunk...)
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": filename, "size": doc.Size},
		bson.M{"$set": bson.M{
			"content":    content,
			"size":       int64(len(content)),
			"updated_at": now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errConcurrentUpdate
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, filename string) (domain.FileRecord, error) {
	var doc fileDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": filename}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.FileRecord{}, port.ErrFileNotFound
	}
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return domain.NewFileRecord(filename, doc.Content)
}
