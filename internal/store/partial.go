package store

import (
	"errors"
	"fmt"
	"io"
	"os"

	"sendmer/pkg/types"

	"github.com/zeebo/blake3"
)

// Partial is a blob being downloaded. Bytes already on disk from an earlier
// attempt in the same store are kept and hashed again on open, so a broken
// stream can continue at Offset.
type Partial struct {
	store  *Store
	hash   types.Hash
	path   string
	file   *os.File
	hasher *blake3.Hasher
	offset int64
}

// Partial opens or resumes the download of h
func (s *Store) Partial(h types.Hash) (*Partial, error) {
	path := s.partialPath(h)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open partial blob %s: %w", h.Short(), err)
	}

	hasher := blake3.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read partial blob %s: %w", h.Short(), err)
	}
	if n > 0 {
		s.logger.WithField("hash", h.Short()).Debugf("resuming partial blob at %d bytes", n)
	}

	return &Partial{
		store:  s,
		hash:   h,
		path:   path,
		file:   f,
		hasher: hasher,
		offset: n,
	}, nil
}

// Offset is the number of bytes already written
func (p *Partial) Offset() int64 {
	return p.offset
}

// Write appends to the blob
func (p *Partial) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	p.hasher.Write(b[:n])
	p.offset += int64(n)
	return n, err
}

// Close releases the file and keeps the data for a later resume
func (p *Partial) Close() error {
	return p.file.Close()
}

// Abort closes and deletes the partial data
func (p *Partial) Abort() error {
	p.file.Close()
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Commit checks that exactly size bytes hashing to the expected value were
// written and moves the blob into the store. On a mismatch the partial data
// is deleted and the error wraps types.ErrTransferVerificationFailed.
func (p *Partial) Commit(size int64) error {
	if p.offset != size {
		p.Abort()
		return fmt.Errorf("%w: blob %s has %d bytes, want %d",
			types.ErrTransferVerificationFailed, p.hash.Short(), p.offset, size)
	}

	var got types.Hash
	copy(got[:], p.hasher.Sum(nil))
	if got != p.hash {
		p.Abort()
		return fmt.Errorf("%w: blob %s hashed to %s",
			types.ErrTransferVerificationFailed, p.hash.Short(), got.Short())
	}

	if err := p.file.Sync(); err != nil {
		p.Abort()
		return fmt.Errorf("failed to sync blob %s: %w", p.hash.Short(), err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", p.hash.Short(), err)
	}

	dst := p.store.dataPath(p.hash)
	if err := os.Rename(p.path, dst); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", p.hash.Short(), err)
	}
	p.store.register(p.hash, blob{path: dst, size: size, owned: true})
	return nil
}
