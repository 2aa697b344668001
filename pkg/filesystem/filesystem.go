// Package filesystem reaches audio libraries on local disk or on remote seedboxes
// over SSH/SFTP: a keyed connection pool, read-only storage backends, and the
// directory walker that finds album directories.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// File is an open, read-only file that supports random access.
// Both *os.File and *sftp.File satisfy it.
type File interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

// Backend opens files stored under album directories.
type Backend interface {
	// Resolve joins an album directory and a stored relative path. It fails with
	// ErrForbiddenPath when rel is absolute or the result leaves dir.
	Resolve(dir, rel string) (string, error)

	// Open opens a resolved path for reading. A missing file fails with ErrNotFound.
	Open(ctx context.Context, path string) (File, error)

	// Scan walks a library root for album directories.
	Scan(ctx context.Context, root string, onProgress ProgressFunc) ([]DiscoveredAlbumDir, error)
}

// LocalBackend serves files from the local disk.
type LocalBackend struct{}

// NewLocalBackend creates a new LocalBackend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

// Open opens a local file for reading.
func (b *LocalBackend) Open(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(name) //nolint:gosec // name comes from Resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, name, err)
		}

		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	return file, nil
}

// Resolve joins dir and rel with host path semantics.
func (b *LocalBackend) Resolve(dir, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || path.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q is not a relative path", ErrForbiddenPath, rel)
	}

	dir = filepath.Clean(dir)
	joined := filepath.Join(dir, rel)

	within, err := filepath.Rel(dir, joined)
	if err != nil || !isBelow(within, string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrForbiddenPath, rel, dir)
	}

	return joined, nil
}

// resolvePOSIX joins dir and rel with POSIX semantics, as remote paths require.
func resolvePOSIX(dir, rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %q is not a relative path", ErrForbiddenPath, rel)
	}

	dir = path.Clean(dir)
	joined := path.Join(dir, rel)

	within, err := relativePath(dir, joined)
	if err != nil || !isBelow(within, "/") {
		return "", fmt.Errorf("%w: %q escapes %s", ErrForbiddenPath, rel, dir)
	}

	return joined, nil
}

// isBelow reports whether a cleaned relative path names something strictly inside its base.
func isBelow(rel, sep string) bool {
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+sep)
}

// relativePath computes the relative path from root to target.
// Uses path package (not filepath) since SFTP always uses forward slashes.
func relativePath(root, target string) (string, error) {
	root = path.Clean(root)
	target = path.Clean(target)

	if target == root {
		return ".", nil
	}

	prefix := root
	if prefix != "/" {
		prefix += "/"
	}

	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("target %s is not under root %s", target, root) //nolint:err113 // Path validation error with actual paths
	}

	return target[len(prefix):], nil
}
