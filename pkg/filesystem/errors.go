package filesystem

import "errors"

// Exported variables.
var (
	// ErrAuthFailure means the server rejected the offered credentials.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrConnectTimeout means the handshake did not finish within the connect timeout.
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrFingerprintMismatch means the host presented a key other than the accepted one.
	ErrFingerprintMismatch = errors.New("host fingerprint mismatch")
	// ErrForbiddenPath means a stored relative path resolves outside its directory.
	ErrForbiddenPath = errors.New("path escapes its directory")
	// ErrHostKeyUnverified means no fingerprint has been accepted for the host yet.
	ErrHostKeyUnverified = errors.New("host fingerprint has not been accepted")
	// ErrKeyRead means the configured private key could not be read or parsed.
	ErrKeyRead = errors.New("cannot read private key")
	// ErrNotFound means the requested file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrPoolClosed is returned by a pool after CloseAll.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrTransport means the SSH or SFTP session failed.
	ErrTransport = errors.New("transport error")
)
