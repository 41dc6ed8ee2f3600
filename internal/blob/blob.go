// Package blob stores delivery payloads outside the trade records, so
// the store only ever holds an opaque reference to the secret material.
package blob

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/market-engine/market-engine/internal/apperr"
)

// Store persists encrypted payload blobs by reference.
type Store interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Name() string
}

// FileStore keeps blobs as individual files, sealed with
// XChaCha20-Poly1305 under a key derived from the configured secret.
type FileStore struct {
	dir string
	key []byte
}

// NewFileStore derives the sealing key from secret and ensures dir
// exists.
func NewFileStore(dir, secret string) (*FileStore, error) {
	if secret == "" {
		return nil, apperr.InvalidArgument("blob store secret is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create dir: %w", err)
	}
	key := sha256.Sum256([]byte("blob-seal:" + secret))
	return &FileStore{dir: dir, key: key[:]}, nil
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) path(ref string) string {
	return filepath.Join(f.dir, ref+".blob")
}

func (f *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, data, nil)

	refBytes := make([]byte, 16)
	if _, err := rand.Read(refBytes); err != nil {
		return "", err
	}
	ref := hex.EncodeToString(refBytes)
	if err := os.WriteFile(f.path(ref), sealed, 0o600); err != nil {
		return "", fmt.Errorf("blob: write: %w", err)
	}
	return ref, nil
}

func (f *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	sealed, err := os.ReadFile(f.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("payload blob not found")
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, apperr.Internal("payload blob truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	data, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.Internal("payload blob failed authentication")
	}
	return data, nil
}

func (f *FileStore) Delete(ctx context.Context, ref string) error {
	err := os.Remove(f.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
