package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"sendmer/internal/staging"
	"sendmer/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ImportResult is the outcome of importing a local path
type ImportResult struct {
	Content    types.ContentID
	Collection *Collection
	Size       int64
}

// Import hashes the file or directory at root and registers every file as a
// referenced blob. A directory is walked recursively; symlinks, special files
// and staging directories are skipped. Entries are sorted by name so the same
// tree always yields the same content hash.
func (s *Store) Import(ctx context.Context, root string) (*ImportResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrSourceNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	c := &Collection{Name: filepath.Base(abs)}
	var files []string

	switch {
	case info.Mode().IsRegular():
		c.Kind = types.KindFile
		c.Entries = []Entry{{Name: c.Name}}
		files = []string{abs}
	case info.IsDir():
		c.Kind = types.KindDirectory
		if c.Entries, files, err = walk(ctx, abs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s is neither a regular file nor a directory", root)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range c.Entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", types.ErrCancelled, err)
			}
			h, size, err := s.Reference(files[i])
			if err != nil {
				return err
			}
			c.Entries[i].Hash = h
			c.Entries[i].Size = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := c.Marshal()
	if err != nil {
		return nil, err
	}
	h, err := s.Put(data)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"kind":  c.Kind.String(),
		"files": len(c.Entries),
		"hash":  h.Short(),
	}).Debug("import complete")

	return &ImportResult{
		Content:    types.ContentID{Hash: h, Kind: c.Kind},
		Collection: c,
		Size:       c.TotalSize(),
	}, nil
}

func walk(ctx context.Context, root string) ([]Entry, []string, error) {
	type item struct {
		name string
		path string
	}
	var items []item

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		if path != root && staging.IsStagingName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		items = append(items, item{name: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	entries := make([]Entry, len(items))
	files := make([]string, len(items))
	for i, it := range items {
		entries[i] = Entry{Name: it.name}
		files[i] = it.path
	}
	return entries, files, nil
}
