// Package atomicfile implements the temp-write, fsync, rename pattern
// used throughout junkNAS for config, manifest and chunk persistence.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path's contents with data: it writes to
// path+".tmp", fsyncs, closes, and renames onto path. On any failure
// the temp file is removed and path is left untouched.
func Write(path string, data []byte, perm os.FileMode) (err error) {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("atomicfile: write temp: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("atomicfile: sync temp: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomicfile: rename: %w", err)
	}

	success = true

	return nil
}

// WriteDir is like Write but also fsyncs the parent directory after the
// rename, so the rename itself is durable on crash (best-effort: some
// filesystems/platforms do not support directory fsync and the error is
// ignored in that case).
func WriteDir(path string, data []byte, perm os.FileMode) error {
	if err := Write(path, data, perm); err != nil {
		return err
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return nil //nolint:nilerr
	}
	defer dir.Close()

	_ = dir.Sync()

	return nil
}
