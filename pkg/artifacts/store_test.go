package artifacts

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missing = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	data := []byte(`{"entity_id":1}` + "\n")

	hash, err := store.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ContentHash(data), hash)

	again, err := store.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, hash))
	ok, err = store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, missing)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "invalid-hash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hash format")

	_, err = store.Exists(ctx, "sha256:zz")
	require.Error(t, err)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Delete(context.Background(), missing))
}

// memS3 is an in-memory S3API.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	m.puts++
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := &memS3{objects: make(map[string][]byte)}
	store := NewS3StoreFromClient(client, "archive", "runs/")
	exerciseStore(t, store)
	assert.Equal(t, 1, client.puts, "second store of the same blob is skipped")

	hash, err := store.Store(context.Background(), []byte("x"))
	require.NoError(t, err)
	_, ok := client.objects["runs/"+hash[len("sha256:"):]+".blob"]
	assert.True(t, ok)
}
