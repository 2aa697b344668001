package filesystem

// NewBackend returns the backend for an album's storage: the local disk when
// host is nil, otherwise the pooled SFTP connection to that host.
func NewBackend(pool *ConnectionPool, host *HostConfig) Backend {
	if host == nil {
		return NewLocalBackend()
	}

	return NewSFTPBackend(pool, *host)
}
