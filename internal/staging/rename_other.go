//go:build !linux

package staging

import (
	"errors"
	"os"
	"syscall"
)

// renameNoReplace relies on the Lstat check in Retire; between that check and
// this rename another process could create dst.
func renameNoReplace(src, dst string) error {
	return os.Rename(src, dst)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
