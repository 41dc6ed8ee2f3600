// Package filestore is the zero-dependency persistence backend: one JSON
// document file per collection plus a JSONL audit log, all under a single
// state directory guarded by an advisory lock file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	lockFileName  = "store.lock"
	auditFileName = "audit.log"

	lockStaleAfter = 15 * time.Second
)

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// FileStore persists every collection under dir. A process-wide mutex
// serializes in-process access; the lock file fences other processes.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Open ensures dir exists and returns a store rooted there.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Migrate is a no-op for the file backend; files are created lazily.
func (s *FileStore) Migrate(ctx context.Context) error { return nil }

func (s *FileStore) Close() error { return nil }

// acquireDirLock creates the lock file exclusively, retrying with
// randomized exponential backoff. A lock older than lockStaleAfter is
// treated as abandoned and taken over.
func (s *FileStore) acquireDirLock() (func(), error) {
	lockPath := s.path(lockFileName)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 40 * time.Millisecond
	bo.Multiplier = 1.6
	bo.MaxInterval = 800 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	attempt := func() error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			return f.Close()
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				_ = os.Remove(lockPath)
				return errors.New("stale lock removed, retrying")
			}
		}
		return fmt.Errorf("state dir locked: %w", err)
	}
	if err := backoff.Retry(attempt, bo); err != nil {
		return nil, fmt.Errorf("filestore: acquire lock: %w", err)
	}
	return func() { _ = os.Remove(lockPath) }, nil
}

// withLock runs fn under the in-process mutex and the directory lock.
// Inside a transaction both are already held by the transaction scope.
func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.acquireDirLock()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// withReadLock serializes reads against in-process writers.
func (s *FileStore) withReadLock(ctx context.Context, fn func() error) error {
	if inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshotEntry struct {
	data    []byte
	existed bool
}

// snapshot copies every regular state file into memory so a failed
// transaction can be rolled back byte for byte.
func (s *FileStore) snapshot() (map[string]snapshotEntry, error) {
	snap := make(map[string]snapshotEntry)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == lockFileName {
			continue
		}
		data, err := os.ReadFile(s.path(entry.Name()))
		if err != nil {
			return nil, err
		}
		snap[entry.Name()] = snapshotEntry{data: data, existed: true}
	}
	return snap, nil
}

func (s *FileStore) restore(snap map[string]snapshotEntry) {
	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || entry.Name() == lockFileName {
				continue
			}
			if _, ok := snap[entry.Name()]; !ok {
				_ = os.Remove(s.path(entry.Name()))
			}
		}
	}
	for name, e := range snap {
		if e.existed {
			_ = writeFileAtomic(s.path(name), e.data)
		}
	}
}

// Transaction snapshots the state directory, runs fn and restores the
// snapshot when fn fails. Nested calls join the outer scope, so an inner
// error rolls back the whole transaction, never a partial slice of it.
func (s *FileStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := s.acquireDirLock()
	if err != nil {
		return err
	}
	defer release()

	snap, err := s.snapshot()
	if err != nil {
		return fmt.Errorf("filestore: snapshot: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never see
// a torn document.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadRaw reads a collection file as raw documents keyed by id. A
// missing file is an empty collection.
func loadRaw(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("filestore: corrupt collection %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

func saveRaw(path string, m map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// mergeDoc overlays the new encoding of v onto the existing document so
// fields written by other builds of the engine survive a rewrite.
func mergeDoc(existing json.RawMessage, v any) (json.RawMessage, error) {
	fresh, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return fresh, nil
	}
	var base, overlay map[string]any
	if err := json.Unmarshal(existing, &base); err != nil {
		return fresh, nil
	}
	if err := json.Unmarshal(fresh, &overlay); err != nil {
		return nil, err
	}
	for k, val := range overlay {
		base[k] = val
	}
	return json.Marshal(base)
}

func getDoc[T any](s *FileStore, ctx context.Context, file, id string, notFound error) (*T, error) {
	var out *T
	err := s.withReadLock(ctx, func() error {
		m, err := loadRaw(s.path(file))
		if err != nil {
			return err
		}
		raw, ok := m[id]
		if !ok {
			return notFound
		}
		out = new(T)
		return json.Unmarshal(raw, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func putDoc(s *FileStore, ctx context.Context, file, id string, v any) error {
	return s.withLock(ctx, func() error {
		path := s.path(file)
		m, err := loadRaw(path)
		if err != nil {
			return err
		}
		merged, err := mergeDoc(m[id], v)
		if err != nil {
			return err
		}
		m[id] = merged
		return saveRaw(path, m)
	})
}

func deleteDoc(s *FileStore, ctx context.Context, file, id string) error {
	return s.withLock(ctx, func() error {
		path := s.path(file)
		m, err := loadRaw(path)
		if err != nil {
			return err
		}
		delete(m, id)
		return saveRaw(path, m)
	})
}

func listDocs[T any](s *FileStore, ctx context.Context, file string) ([]*T, error) {
	var out []*T
	err := s.withReadLock(ctx, func() error {
		m, err := loadRaw(s.path(file))
		if err != nil {
			return err
		}
		for _, raw := range m {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendLine appends one JSON document to a JSONL file.
func (s *FileStore) appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func readLines(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	return out, nil
}
