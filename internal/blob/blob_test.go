package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte(`{"downloadUrl":"https://cdn.example/x","accessToken":"tok"}`))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), "accessToken")
}

func TestBlobIsSealedOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "test-secret")
	require.NoError(t, err)

	secret := []byte("super-secret-payload")
	ref, err := s.Put(context.Background(), secret)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, ref+".blob"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-payload")
}

func TestGetMissingRef(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "deadbeef")
	assert.ErrorContains(t, err, "not found")
}

func TestWrongSecretFailsOpen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileStore(dir, "secret-a")
	require.NoError(t, err)
	ref, err := s1.Put(context.Background(), []byte("payload"))
	require.NoError(t, err)

	s2, err := NewFileStore(dir, "secret-b")
	require.NoError(t, err)
	_, err = s2.Get(context.Background(), ref)
	assert.Error(t, err)
}

func TestDeleteIdempotent(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "s")
	require.NoError(t, err)
	ref, err := s.Put(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), ref))
	require.NoError(t, s.Delete(context.Background(), ref))
}
