package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

// PooledSFTPFile wraps a remote file and releases the pool lease that keeps its
// connection alive when Close is called.
//
// The client the file was opened with is borrowed from the pool and is never
// closed here; only the file is.
type PooledSFTPFile struct {
	file    File
	release func()
	mu      sync.Mutex
	closed  bool
}

// NewPooledSFTPFile creates a new pooled SFTP file wrapper.
// Returns an error if any parameter is nil.
func NewPooledSFTPFile(file File, release func()) (*PooledSFTPFile, error) {
	if file == nil {
		return nil, errors.New("file cannot be nil") //nolint:err113 // Programmer error
	}

	if release == nil {
		return nil, errors.New("release cannot be nil") //nolint:err113 // Programmer error
	}

	return &PooledSFTPFile{
		file:    file,
		release: release,
	}, nil
}

// ReadAt reads len(p) bytes starting at off.
// Returns fs.ErrClosed if the file has been closed.
func (f *PooledSFTPFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, fs.ErrClosed
	}
	f.mu.Unlock()

	return f.file.ReadAt(p, off)
}

// Close closes the underlying file and releases the lease.
//
// The lease is released even if closing the file fails, so a broken file never
// pins its connection. Close is idempotent.
func (f *PooledSFTPFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	fileErr := f.file.Close()

	f.release()

	return fileErr
}

// Stat returns file information for the underlying file.
// Returns fs.ErrClosed if the file has been closed.
func (f *PooledSFTPFile) Stat() (os.FileInfo, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fs.ErrClosed
	}
	f.mu.Unlock()

	return f.file.Stat()
}
