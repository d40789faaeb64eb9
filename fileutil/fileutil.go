// Package fileutil holds the filesystem helpers shared by the writers and
// the image materializer.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// EnsureDir creates dir and its parents if missing. It is a no-op for "" and ".".
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

// EnsureParentDir creates the directory that will hold filename.
func EnsureParentDir(filename string) error {
	return EnsureDir(filepath.Dir(filename))
}

// WriteFileAtomic replaces filename with data. Readers see either the old
// content or the new one, never a partial write.
func WriteFileAtomic(filename string, data []byte) error {
	if err := EnsureParentDir(filename); err != nil {
		return err
	}
	if err := renameio.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", filename, err)
	}
	return nil
}

// NonEmpty reports an error unless filename exists and has content.
func NonEmpty(filename string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("stat %q: %w", filename, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%q is empty", filename)
	}
	return nil
}
