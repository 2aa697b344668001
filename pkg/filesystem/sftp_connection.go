package filesystem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/joe/seedstream/pkg/hostkey"
)

// ConnectOptions tunes how Connect authenticates and how long it may take.
type ConnectOptions struct {
	// Timeout bounds the whole handshake: TCP dial, SSH key exchange, auth and
	// the SFTP subsystem start. Zero means DefaultConnectTimeout.
	Timeout time.Duration

	// AgentSocket overrides $SSH_AUTH_SOCK.
	AgentSocket string

	// KeyDir overrides ~/.ssh when looking for default keys.
	KeyDir string
}

// SFTPConnection holds an active SSH connection and its SFTP sub-channel.
type SFTPConnection struct {
	sshClient   *ssh.Client
	sftpClient  *sftp.Client
	fingerprint string

	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error // why the transport ended, if it ended on its own
}

// Connect establishes an SSH connection and opens an SFTP session.
//
// A configured PrivateKeyPath is read at connect time; otherwise the SSH agent and
// the default keys in ~/.ssh are offered. The host key is captured, not verified:
// callers compare Fingerprint() against the stored one once Connect returns.
func Connect(ctx context.Context, host HostConfig, opts ConnectOptions) (*SFTPConnection, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConnectTimeout
	}

	authMethods, cleanup, err := getSSHAuthMethods(host, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	recorder := &hostkey.Recorder{}
	config := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            authMethods,
		HostKeyCallback: recorder.Callback(),
		Timeout:         opts.Timeout,
	}

	addr := host.Address()

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialError(ctx, addr, opts.Timeout, err)
	}

	// Closing the socket is the only way to abort an in-progress handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = netConn.Close()
	})

	conn, err := establish(netConn, addr, config)
	if !stop() {
		if conn != nil {
			_ = conn.Close()
		}

		return nil, dialError(ctx, addr, opts.Timeout, context.Cause(ctx))
	}

	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	conn.fingerprint = recorder.Fingerprint()

	go conn.watch()

	return conn, nil
}

// Client returns the underlying SFTP client.
func (c *SFTPConnection) Client() *sftp.Client {
	return c.sftpClient
}

// Close closes the SSH connection and then the SFTP session. Close is idempotent.
//
// The SSH transport goes first: closing the SFTP client waits for the server to
// answer the channel close, and a stalled server never does.
func (c *SFTPConnection) Close() error {
	c.closing.Store(true)
	c.closeOnce.Do(func() {
		if c.sshClient != nil {
			if err := c.sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				c.closeErr = err
			}
		}

		if c.sftpClient != nil {
			// The transport is gone; this only reaps the receive loop.
			_ = c.sftpClient.Close()
		}

		if c.done != nil {
			close(c.done)
		}
	})

	return c.closeErr
}

// Done is closed once the connection is closed, locally or by the remote side.
func (c *SFTPConnection) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the transport, or nil while it is alive or
// when it was closed locally.
func (c *SFTPConnection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Fingerprint returns the SHA-256 fingerprint of the key the host presented.
func (c *SFTPConnection) Fingerprint() string {
	return c.fingerprint
}

// watch closes the connection as soon as either layer reports it has shut down.
func (c *SFTPConnection) watch() {
	errs := make(chan error, 2) //nolint:mnd // one result per layer
	go func() { errs <- c.sshClient.Wait() }()
	go func() { errs <- c.sftpClient.Wait() }()

	var err error
	select {
	case err = <-errs:
	case <-c.done:
		return
	}

	if c.closing.Load() {
		return
	}

	c.mu.Lock()
	if err == nil {
		err = errors.New("connection closed by remote host") //nolint:err113 // Describes a clean remote close
	}
	c.err = fmt.Errorf("%w: %w", ErrTransport, err)
	c.mu.Unlock()

	_ = c.Close()
}

// establish runs the SSH handshake over netConn and opens the SFTP subsystem.
func establish(netConn net.Conn, addr string, config *ssh.ClientConfig) (*SFTPConnection, error) {
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		return nil, handshakeError(addr, err)
	}

	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("%w: SFTP session creation failed on %s: %w", ErrTransport, addr, err)
	}

	return &SFTPConnection{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		done:       make(chan struct{}),
	}, nil
}

// dialError classifies a failure that happened while the connect deadline applied.
func dialError(ctx context.Context, addr string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %s did not complete the handshake within %s", ErrConnectTimeout, addr, timeout)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("connect to %s: %w", addr, ctx.Err())
	}

	return fmt.Errorf("%w: SSH connection to %s failed: %w", ErrTransport, addr, err)
}

// handshakeError separates rejected credentials from other handshake failures.
func handshakeError(addr string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %w", ErrConnectTimeout, addr, err)
	}

	return fmt.Errorf("%w: SSH handshake with %s failed: %w", ErrTransport, addr, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// getSSHAuthMethods returns the auth methods for a host.
// A configured key path is used exclusively; otherwise the agent and the default
// keys are offered together as one publickey method. The returned cleanup closes
// the agent socket once the handshake is over.
func getSSHAuthMethods(host HostConfig, opts ConnectOptions) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	if host.PrivateKeyPath != "" {
		signer, err := loadPrivateKey(host.PrivateKeyPath)
		if err != nil {
			return nil, noop, err
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	}

	agentClient, agentConn := trySSHAgent(opts.AgentSocket)
	keySigners := tryDefaultSSHKeys(opts.KeyDir)

	cleanup := noop
	if agentConn != nil {
		cleanup = func() { _ = agentConn.Close() }
	}

	if agentClient == nil && len(keySigners) == 0 {
		cleanup()

		return nil, noop, fmt.Errorf(
			"%w: no private key configured for %s and no SSH agent or default keys available",
			ErrAuthFailure, host,
		)
	}

	signers := func() ([]ssh.Signer, error) {
		var all []ssh.Signer

		if agentClient != nil {
			agentSigners, err := agentClient.Signers()
			if err == nil {
				all = append(all, agentSigners...)
			}
		}

		return append(all, keySigners...), nil
	}

	return []ssh.AuthMethod{ssh.PublicKeysCallback(signers)}, cleanup, nil
}

// loadPrivateKey reads and parses a private key file.
func loadPrivateKey(keyPath string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath) //nolint:gosec // Key path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrKeyRead, keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w %s: passphrase-protected keys are not supported", ErrKeyRead, keyPath)
		}

		return nil, fmt.Errorf("%w %s: %w", ErrKeyRead, keyPath, err)
	}

	return signer, nil
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent(socket string) (agent.ExtendedAgent, net.Conn) {
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}

	if socket == "" {
		return nil, nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil
	}

	return agent.NewClient(conn), conn
}

// tryDefaultSSHKeys loads unencrypted keys from the default locations.
func tryDefaultSSHKeys(keyDir string) []ssh.Signer {
	if keyDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil
		}

		keyDir = filepath.Join(homeDir, ".ssh")
	}

	keyFiles := []string{
		filepath.Join(keyDir, "id_ed25519"),
		filepath.Join(keyDir, "id_rsa"),
		filepath.Join(keyDir, "id_ecdsa"),
	}

	var signers []ssh.Signer

	for _, keyPath := range keyFiles {
		signer, err := loadPrivateKey(keyPath)
		if err != nil {
			continue
		}

		signers = append(signers, signer)
	}

	return signers
}
