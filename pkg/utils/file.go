package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrEmptyName   = errors.New("name is empty")
	ErrInvalidName = errors.New("name must be a single path component")
)

// FormatFileSize renders a byte count with a binary unit, e.g. "10.0 MiB"
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

// FormatRate renders bytes moved over d as a per-second size, e.g. "2.0 MiB/s"
func FormatRate(bytes int64, d time.Duration) string {
	if d <= 0 {
		return "- /s"
	}
	return FormatFileSize(int64(float64(bytes)/d.Seconds())) + "/s"
}

// ValidateName checks that name can be used as a single file or directory
// name: not empty, not "." or "..", and free of separators and NUL bytes.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateRelativePath checks a '/'-separated relative path component by
// component.
func ValidateRelativePath(p string) error {
	if p == "" {
		return ErrEmptyName
	}
	for _, part := range strings.Split(p, "/") {
		if err := ValidateName(part); err != nil {
			return fmt.Errorf("path %q: %w", p, err)
		}
	}
	return nil
}

// ResolveDestinationBase returns the absolute form of base, which must be an
// existing directory. An empty base means the current directory.
func ResolveDestinationBase(base string) (string, error) {
	if base == "" {
		base = "."
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("cannot resolve destination path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", base)
	}
	return abs, nil
}
