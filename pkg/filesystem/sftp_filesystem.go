package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pkg/sftp"
)

// SFTPBackend serves files from a remote host through the connection pool.
type SFTPBackend struct {
	pool *ConnectionPool
	host HostConfig
}

// NewSFTPBackend creates a backend for one host. The host config is snapshotted;
// build a new backend after the stored config changes.
func NewSFTPBackend(pool *ConnectionPool, host HostConfig) *SFTPBackend {
	return &SFTPBackend{
		pool: pool,
		host: host,
	}
}

// Open opens a remote file for reading.
// The returned file holds a pool lease, so the connection cannot idle out under
// an active stream; closing the file releases it.
func (b *SFTPBackend) Open(ctx context.Context, name string) (File, error) {
	client, release, err := b.pool.Lease(ctx, b.host)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire SFTP client for %s: %w", b.host, err)
	}

	file, err := client.Open(name)
	if err != nil {
		release()

		if isNotExist(err) {
			return nil, fmt.Errorf("%w: remote file %s: %w", ErrNotFound, name, err)
		}

		return nil, fmt.Errorf("%w: failed to open remote file %s: %w", ErrTransport, name, err)
	}

	pooledFile, err := NewPooledSFTPFile(file, release)
	if err != nil {
		_ = file.Close()
		release()

		return nil, fmt.Errorf("failed to create pooled file: %w", err)
	}

	return pooledFile, nil
}

// Resolve joins dir and rel with POSIX semantics; remote paths are never
// interpreted as local ones.
func (b *SFTPBackend) Resolve(dir, rel string) (string, error) {
	return resolvePOSIX(dir, rel)
}

// Scan walks a remote library root over a leased pooled connection.
func (b *SFTPBackend) Scan(ctx context.Context, root string, onProgress ProgressFunc) ([]DiscoveredAlbumDir, error) {
	client, release, err := b.pool.Lease(ctx, b.host)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire SFTP client for %s: %w", b.host, err)
	}
	defer release()

	return Walk(ctx, client, root, onProgress)
}

// Scan walks a local library root.
func (b *LocalBackend) Scan(ctx context.Context, root string, onProgress ProgressFunc) ([]DiscoveredAlbumDir, error) {
	return Walk(ctx, LocalFS{}, root, onProgress)
}

// Scan walks the in-memory tree.
func (m *MemFS) Scan(ctx context.Context, root string, onProgress ProgressFunc) ([]DiscoveredAlbumDir, error) {
	return Walk(ctx, m, root, onProgress)
}

func isNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}

	var statusErr *sftp.StatusError

	return errors.As(err, &statusErr) && statusErr.FxCode() == sftp.ErrSSHFxNoSuchFile
}
