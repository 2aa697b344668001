package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS is an in-memory tree with POSIX paths, for tests. It satisfies
// kr/fs.FileSystem for Walk and Backend for the stream proxy.
type MemFS struct {
	mu         sync.RWMutex
	files      map[string]*memFile
	unreadable map[string]bool
	opens      int
}

// memFile is a file or directory in a MemFS.
type memFile struct {
	data    []byte
	modTime time.Time
	isDir   bool
}

// memFileInfo implements os.FileInfo for MemFS entries.
type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *memFileInfo) IsDir() bool        { return fi.isDir }
func (fi *memFileInfo) Sys() interface{}   { return nil }

func (fi *memFileInfo) Mode() os.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0o755 //nolint:mnd // conventional directory permissions
	}

	return 0o644 //nolint:mnd // conventional file permissions
}

// memHandle is an open MemFS file.
type memHandle struct {
	*bytes.Reader

	info   *memFileInfo
	closed bool
}

func (h *memHandle) Close() error {
	if h.closed {
		return fs.ErrClosed
	}

	h.closed = true

	return nil
}

func (h *memHandle) Stat() (os.FileInfo, error) {
	return h.info, nil
}

// NewMemFS creates an empty in-memory tree rooted at "/".
func NewMemFS() *MemFS {
	return &MemFS{
		files: map[string]*memFile{
			"/": {isDir: true},
		},
		unreadable: make(map[string]bool),
	}
}

// AddDir adds a directory and its parents.
func (m *MemFS) AddDir(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mkdirAllLocked(path.Clean(name))
}

// AddFile adds a file with the given content, creating parent directories.
func (m *MemFS) AddFile(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = path.Clean(name)
	m.mkdirAllLocked(path.Dir(name))
	m.files[name] = &memFile{
		data:    append([]byte(nil), content...),
		modTime: time.Unix(0, 0),
	}
}

// SetUnreadable makes ReadDir fail on a directory with a permission error.
func (m *MemFS) SetUnreadable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unreadable[path.Clean(name)] = true
}

// Opens returns how many times Open succeeded.
func (m *MemFS) Opens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.opens
}

// Join joins path elements with POSIX semantics.
func (m *MemFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// Lstat returns file information.
func (m *MemFS) Lstat(name string) (os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = path.Clean(name)

	file, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrNotExist}
	}

	return file.info(path.Base(name)), nil
}

// ReadDir lists the direct children of a directory, in no particular order.
func (m *MemFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirname = path.Clean(dirname)

	dir, ok := m.files[dirname]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: dirname, Err: fs.ErrNotExist}
	}

	if !dir.isDir {
		return nil, &fs.PathError{Op: "readdir", Path: dirname, Err: errors.New("not a directory")} //nolint:err113 // mirrors ENOTDIR
	}

	if m.unreadable[dirname] {
		return nil, &fs.PathError{Op: "readdir", Path: dirname, Err: fs.ErrPermission}
	}

	var infos []os.FileInfo

	for name, file := range m.files {
		if name != dirname && path.Dir(name) == dirname {
			infos = append(infos, file.info(path.Base(name)))
		}
	}

	// Reverse order, so callers cannot rely on listing order.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() > infos[j].Name() })

	return infos, nil
}

// Open opens a file for reading.
func (m *MemFS) Open(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name = path.Clean(name)

	file, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, name, fs.ErrNotExist)
	}

	if file.isDir {
		return nil, fmt.Errorf("failed to open %s: is a directory", name) //nolint:err113 // mirrors EISDIR
	}

	m.opens++

	return &memHandle{
		Reader: bytes.NewReader(file.data),
		info:   file.info(path.Base(name)),
	}, nil
}

// Resolve joins dir and rel with POSIX semantics.
func (m *MemFS) Resolve(dir, rel string) (string, error) {
	return resolvePOSIX(dir, rel)
}

// mkdirAllLocked creates a directory and its parents. The caller holds the lock.
func (m *MemFS) mkdirAllLocked(name string) {
	for ; name != "/" && name != "."; name = path.Dir(name) {
		if _, ok := m.files[name]; ok {
			return
		}

		m.files[name] = &memFile{isDir: true, modTime: time.Unix(0, 0)}
	}
}

func (f *memFile) info(name string) *memFileInfo {
	return &memFileInfo{
		name:    name,
		size:    int64(len(f.data)),
		modTime: f.modTime,
		isDir:   f.isDir,
	}
}

// Paths returns every path in the tree, sorted.
func (m *MemFS) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// String is for test failure messages.
func (m *MemFS) String() string {
	return "memfs[" + strings.Join(m.Paths(), " ") + "]"
}
