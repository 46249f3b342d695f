// Package staging owns the hidden working directories a transfer writes into
// before anything appears at its final path.
//
// An Area is created as <base>/.sendmer-<role>-<uuid>. It is either retired,
// which moves one entry out of it to a destination and removes the rest, or
// discarded. Callers defer Discard right after Acquire; once an area has been
// retired and removed Discard does nothing.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sendmer/pkg/types"

	"github.com/google/uuid"
)

// Prefix starts the name of every staging directory
const Prefix = ".sendmer-"

const acquireAttempts = 3

// rename moves src to dst, failing with fs.ErrExist if dst exists where the
// platform can detect it atomically. Replaced in tests.
var rename = renameNoReplace

// removeAll is os.RemoveAll, replaced in tests
var removeAll = os.RemoveAll

// Area is a staging directory exclusively owned by one transfer session
type Area struct {
	dir string

	mu      sync.Mutex
	retired bool
	removed bool
}

// Acquire creates a fresh staging directory under base. role ends up in the
// directory name so concurrent senders and receivers are easy to tell apart.
func Acquire(base, role string) (*Area, error) {
	if base == "" {
		base = "."
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStagingCreateFailed, err)
	}

	for range acquireAttempts {
		dir := filepath.Join(base, name(role))
		err = os.Mkdir(dir, 0o700)
		if err == nil {
			return &Area{dir: dir}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", types.ErrStagingCreateFailed, err)
}

func name(role string) string {
	if role == "" {
		return Prefix + uuid.NewString()
	}
	return Prefix + role + "-" + uuid.NewString()
}

// IsStagingName reports whether a directory entry name looks like a staging area
func IsStagingName(name string) bool {
	return strings.HasPrefix(name, Prefix)
}

// Path returns the absolute path of the area
func (a *Area) Path() string {
	return a.dir
}

// Join returns a path inside the area
func (a *Area) Join(elem ...string) string {
	return filepath.Join(append([]string{a.dir}, elem...)...)
}

// Retire installs the entry rel (relative to the area) at dest, then removes
// the area. Once dest is installed Retire succeeds even if the area cannot be
// removed; a later Discard tries again. dest must not exist; if it does, nothing is modified and the error
// wraps types.ErrDestinationExists. When rel and dest live on different
// volumes the tree is copied next to dest first and renamed into place, so
// dest is never observed half written.
func (a *Area) Retire(ctx context.Context, rel, dest string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retired || a.removed {
		return fmt.Errorf("staging area %s already released", a.dir)
	}

	src := filepath.Join(a.dir, rel)
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("failed to stat staged content: %w", err)
	}
	if err := checkAbsent(dest); err != nil {
		return err
	}

	err := rename(src, dest)
	if isCrossDevice(err) {
		err = installCopy(ctx, src, dest)
	}
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", types.ErrDestinationExists, dest)
	default:
		return fmt.Errorf("failed to install %s: %w", dest, err)
	}

	a.retired = true
	if err := removeAll(a.dir); err == nil {
		a.removed = true
	}
	return nil
}

// Discard removes the area and everything in it. It is safe to call more
// than once and after Retire.
func (a *Area) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.removed {
		return nil
	}
	if err := removeAll(a.dir); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", a.dir, err)
	}
	a.removed = true
	return nil
}

func checkAbsent(dest string) error {
	_, err := os.Lstat(dest)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", types.ErrDestinationExists, dest)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("failed to check destination %s: %w", dest, err)
	}
}

// installCopy stages a copy of src in a sibling area of dest, on dest's
// volume, and renames it into place.
func installCopy(ctx context.Context, src, dest string) error {
	tmp, err := Acquire(filepath.Dir(dest), "install")
	if err != nil {
		return err
	}
	defer tmp.Discard()

	staged := tmp.Join(filepath.Base(dest))
	if err := copyTree(ctx, src, staged); err != nil {
		return err
	}
	if err := rename(staged, dest); err != nil {
		return err
	}
	return os.RemoveAll(src)
}
