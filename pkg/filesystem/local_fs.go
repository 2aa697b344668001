package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalFS lets Walk traverse the local disk. It satisfies kr/fs.FileSystem.
type LocalFS struct{}

// Join joins path elements with the host separator.
func (LocalFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// Lstat returns file information without following symlinks.
func (LocalFS) Lstat(name string) (os.FileInfo, error) {
	info, err := os.Lstat(name)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	return info, nil
}

// ReadDir lists a directory. Entries are described without following symlinks.
func (LocalFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirname, err)
	}

	infos := make([]os.FileInfo, 0, len(entries))

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}

		infos = append(infos, info)
	}

	return infos, nil
}
