package minio

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/files-registry/internal/files"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchObject"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("connection refused")))
}

func TestNewStorageRequiresEndpoint(t *testing.T) {
	_, err := NewStorage(context.Background(), Config{Bucket: "files"})
	assert.Error(t, err)
}

// TestStorage runs against a live server, e.g.
// FILES_REGISTRY_MINIO_ENDPOINT=localhost:9000 with minioadmin credentials.
func TestStorage(t *testing.T) {
	endpoint := os.Getenv("FILES_REGISTRY_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("FILES_REGISTRY_MINIO_ENDPOINT is not set")
	}

	ctx := context.Background()
	storage, err := NewStorage(ctx, Config{
		Endpoint:  endpoint,
		Bucket:    "files-registry-test",
		AccessKey: os.Getenv("FILES_REGISTRY_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("FILES_REGISTRY_MINIO_SECRET_KEY"),
	})
	require.NoError(t, err)

	name := uuid.NewString() + ".txt"
	blob, err := storage.Save(ctx, name, "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, name, blob.Ref)
	assert.Equal(t, int64(5), blob.Size)

	content, err := storage.GetContent(ctx, name)
	require.NoError(t, err)
	data, err := io.ReadAll(content)
	require.NoError(t, err)
	require.NoError(t, content.Close())
	assert.Equal(t, "hello", string(data))

	require.NoError(t, storage.Delete(ctx, name))
	require.NoError(t, storage.Delete(ctx, name))

	_, err = storage.GetContent(ctx, name)
	assert.ErrorIs(t, err, files.ErrNotFound)
}
