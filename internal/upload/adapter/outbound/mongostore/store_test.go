package mongostore

import (
	"context"
	"log"
	"sync"
	"testing"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/domain"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// setupTestDB spins up a MongoDB container; it needs Docker.
func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:latest")
	if err != nil {
		t.Skipf("failed to start container: %s", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := client.Disconnect(ctx); err != nil {
			log.Printf("failed to disconnect mongo: %v", err)
		}
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	})
	return client.Database("upload_test")
}

func TestStore_AppendAndRead(t *testing.T) {
	s := NewStore(setupTestDB(t), "files")
	ctx := context.Background()

	rec, err := domain.NewFileRecord("doc.bin", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)
	for step := 0; step < 5; step++ {
		require.NoError(t, s.SaveChunk(ctx, rec, step*2, 2))
	}

	got, err := s.GetFile(ctx, "doc.bin")
	require.NoError(t, err)
	assert.Equal(t, rec.Content(), got.Content())

	var doc fileDocument
	require.NoError(t, s.collection.FindOne(ctx, bson.M{"_id": "doc.bin"}).Decode(&doc))
	assert.Equal(t, int64(10), doc.Size)
	assert.False(t, doc.CreatedAt.IsZero())

	_, err = s.GetFile(ctx, "other.bin")
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestStore_ConcurrentAppendsToSameName(t *testing.T) {
	s := NewStore(setupTestDB(t), "files")
	ctx := context.Background()

	rec, err := domain.NewFileRecord("shared.bin", []byte("abcd"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.SaveChunk(ctx, rec, 0, 4)
		}()
	}
	wg.Wait()

	// Every append either landed whole or failed; none is lost silently or torn.
	got, err := s.GetFile(ctx, "shared.bin")
	require.NoError(t, err)
	assert.Zero(t, got.Size()%4)
	assert.Positive(t, got.Size())
}
