package utils

import (
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// RemoveFileNoError removes path if it exists, ignoring any failure.
func RemoveFileNoError(path string) {
	utils.UncheckedError(os.Remove(path))
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", dir)
	}
	return nil
}

// ResetDir empties dir, creating it if needed.
func ResetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "cannot remove directory %q", dir)
	}
	return EnsureDir(dir)
}

// FilesExist reports whether every path is an existing regular file.
func FilesExist(paths ...string) bool {
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			return false
		}
	}
	return true
}
