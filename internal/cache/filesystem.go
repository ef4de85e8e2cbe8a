package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/colthorp/vitals-cli-go/internal/core"
)

// FilesystemBackend stores one JSON file per key on disk.
// Directory layout: <root>/<segment>/.../<segment>.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates a new filesystem-based cache backend.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// Location returns the filesystem path for the given key.
func (b *FilesystemBackend) Location(key Key) string {
	return filepath.Join(append([]string{b.root}, key...)...)
}

// Read returns the file contents for key. Missing and unreadable files
// both report false.
func (b *FilesystemBackend) Read(_ context.Context, key Key) ([]byte, bool) {
	data, err := os.ReadFile(b.Location(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Write persists data atomically and durably: temp file in the target
// directory, fsync, rename, then fsync of the directory.
func (b *FilesystemBackend) Write(_ context.Context, key Key, data []byte) error {
	path := b.Location(key)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true

	return syncDir(dir)
}

// syncDir flushes directory metadata so the rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
