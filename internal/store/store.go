// Package store is a content-addressed blob store keyed by BLAKE3 hashes.
//
// Blobs are either owned, living under <dir>/data/<hex>, or referenced, in
// which case the store only remembers the path of an imported source file.
// Downloads land in <dir>/partial/<hex> and move to data/ once their size
// and hash have been checked.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"sendmer/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

var (
	// ErrNotFound is returned for hashes the store does not hold
	ErrNotFound = errors.New("blob not found")
	// ErrChanged means a referenced source file no longer has the size it
	// was imported with
	ErrChanged = errors.New("source changed since import")
)

type blob struct {
	path  string
	size  int64
	owned bool
}

// Store holds blobs for one transfer session
type Store struct {
	dir    string
	logger logrus.FieldLogger

	mu    sync.RWMutex
	blobs map[types.Hash]blob
}

// Open creates the store layout under dir and registers any complete blobs
// already present there.
func Open(dir string, logger logrus.FieldLogger) (*Store, error) {
	for _, sub := range []string{"data", "partial"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	s := &Store{
		dir:    dir,
		logger: logger.WithField("component", "store"),
		blobs:  make(map[types.Hash]blob),
	}

	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	for _, e := range entries {
		h, err := types.ParseHash(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		s.blobs[h] = blob{path: filepath.Join(dir, "data", e.Name()), size: info.Size(), owned: true}
	}
	return s, nil
}

// Has reports whether a complete blob is available
func (s *Store) Has(h types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[h]
	return ok
}

// Size returns the size of a complete blob
func (s *Store) Size(h types.Hash) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[h]
	return b.size, ok
}

// Open opens a complete blob for reading. The returned size is the size
// recorded at import or commit time; a file that no longer has it yields
// ErrChanged.
func (s *Store) Open(h types.Hash) (*os.File, int64, error) {
	s.mu.RLock()
	b, ok := s.blobs[h]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, h.Short())
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open blob %s: %w", h.Short(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob %s: %w", h.Short(), err)
	}
	if info.Size() != b.size {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is %d bytes, imported as %d", ErrChanged, b.path, info.Size(), b.size)
	}
	return f, b.size, nil
}

// Bytes reads a complete blob into memory. limit bounds the accepted size.
func (s *Store) Bytes(h types.Hash, limit int64) ([]byte, error) {
	f, size, err := s.Open(h)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size > limit {
		return nil, fmt.Errorf("blob %s is %d bytes, limit is %d", h.Short(), size, limit)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h.Short(), err)
	}
	return data, nil
}

// Put stores data as an owned blob and returns its hash
func (s *Store) Put(data []byte) (types.Hash, error) {
	h := types.Hash(blake3.Sum256(data))
	if s.Has(h) {
		return h, nil
	}

	path := s.dataPath(h)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return h, fmt.Errorf("failed to write blob %s: %w", h.Short(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return h, fmt.Errorf("failed to store blob %s: %w", h.Short(), err)
	}

	s.register(h, blob{path: path, size: int64(len(data)), owned: true})
	return h, nil
}

// Reference hashes the file at path and serves it in place
func (s *Store) Reference(path string) (types.Hash, int64, error) {
	h, size, err := HashFile(path)
	if err != nil {
		return h, 0, err
	}
	s.mu.Lock()
	if _, ok := s.blobs[h]; !ok {
		s.blobs[h] = blob{path: path, size: size}
	}
	s.mu.Unlock()
	return h, size, nil
}

func (s *Store) register(h types.Hash, b blob) {
	s.mu.Lock()
	s.blobs[h] = b
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"hash": h.Short(), "size": b.size}).Debug("blob stored")
}

func (s *Store) dataPath(h types.Hash) string {
	return filepath.Join(s.dir, "data", h.String())
}

func (s *Store) partialPath(h types.Hash) string {
	return filepath.Join(s.dir, "partial", h.String())
}

// HashFile returns the BLAKE3 hash and size of the file at path
func HashFile(path string) (types.Hash, int64, error) {
	var h types.Hash

	f, err := os.Open(path)
	if err != nil {
		return h, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	hasher := blake3.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return h, 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	copy(h[:], hasher.Sum(nil))
	return h, n, nil
}
