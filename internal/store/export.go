package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sendmer/pkg/types"
)

// Export lays the collection out under outDir and returns the path of the
// top-level entry (outDir/<collection name>). Owned blobs used by a single
// entry are moved; everything else is copied.
func (s *Store) Export(ctx context.Context, c *Collection, outDir string) (string, error) {
	top := filepath.Join(outDir, c.Name)
	if c.Kind == types.KindDirectory {
		if err := os.MkdirAll(top, 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", top, err)
		}
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	uses := make(map[types.Hash]int, len(c.Entries))
	for _, e := range c.Entries {
		uses[e.Hash]++
	}

	for _, e := range c.Entries {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}

		target := filepath.Join(outDir, filepath.FromSlash(c.Path(e)))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", e.Name, err)
		}

		uses[e.Hash]--
		if err := s.exportEntry(e.Hash, target, uses[e.Hash] == 0); err != nil {
			return "", fmt.Errorf("failed to export %s: %w", e.Name, err)
		}
	}
	return top, nil
}

func (s *Store) exportEntry(h types.Hash, target string, last bool) error {
	s.mu.Lock()
	b, ok := s.blobs[h]
	if ok && last && b.owned {
		delete(s.blobs, h)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, h.Short())
	}

	if last && b.owned {
		if err := os.Rename(b.path, target); err != nil {
			return err
		}
		return os.Chmod(target, 0o644)
	}

	in, err := os.Open(b.path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
