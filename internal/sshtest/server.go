// Package sshtest runs an in-process SSH server with a read-only SFTP subsystem,
// so connection, pool and streaming code can be tested without a real seedbox.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/hostkey"
)

// TB is the part of testing.TB the server needs; GinkgoT() satisfies it too.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
	TempDir() string
	Cleanup(f func())
}

// Username is the only user the server accepts.
const Username = "tester"

// Server is a listening SSH server. Close is registered with t.Cleanup.
type Server struct {
	listener    net.Listener
	config      *ssh.ServerConfig
	fingerprint string
	keyPath     string

	handshakes atomic.Int64
	attempts   atomic.Int64
	holdOpen   atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 that accepts one freshly generated
// client key, written to a temp file whose path Host reports.
func NewServer(t TB) *Server {
	t.Helper()

	hostSigner := newSigner(t)
	clientSigner, clientPEM := newClientKey(t)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, clientPEM, 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	authorized := clientSigner.PublicKey().Marshal()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == Username && string(key.Marshal()) == string(authorized) {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("unauthorized key") //nolint:err113 // Test server rejection
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &Server{
		listener:    listener,
		config:      config,
		fingerprint: hostkey.Fingerprint(hostSigner.PublicKey()),
		keyPath:     keyPath,
		conns:       make(map[net.Conn]struct{}),
	}

	srv.wg.Add(1)

	go srv.serve()

	t.Cleanup(srv.Close)

	return srv
}

// Close stops accepting and drops every connection.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.DropAll()
	s.wg.Wait()
}

// DropAll closes every open connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
}

// HoldChannels makes the server keep SFTP channels open after the client ends
// its session, until the client drops the SSH connection.
func (s *Server) HoldChannels() {
	s.holdOpen.Store(true)
}

// Fingerprint returns the SHA-256 fingerprint of the server's host key.
func (s *Server) Fingerprint() string {
	return s.fingerprint
}

// Handshakes returns how many SSH handshakes completed.
func (s *Server) Handshakes() int {
	return int(s.handshakes.Load())
}

// Attempts returns how many TCP connections were accepted.
func (s *Server) Attempts() int {
	return int(s.attempts.Load())
}

// Host returns a HostConfig that authenticates against the server. No
// fingerprint is stored.
func (s *Server) Host(id string) filesystem.HostConfig {
	addr := s.listener.Addr().(*net.TCPAddr) //nolint:forcetypeassert // Always TCP

	return filesystem.HostConfig{
		ID:             id,
		Host:           addr.IP.String(),
		Port:           addr.Port,
		Username:       Username,
		PrivateKeyPath: s.keyPath,
	}
}

// TrustedHost is Host with the server's fingerprint already accepted.
func (s *Server) TrustedHost(id string) filesystem.HostConfig {
	host := s.Host(id)
	host.StoredFingerprint = s.fingerprint

	return host
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.attempts.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	s.handshakes.Add(1)

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.serveSession(sshConn, channel, requests)
	}
}

// serveSession answers the sftp subsystem request and refuses everything else.
func (s *Server) serveSession(sshConn *ssh.ServerConn, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		// Payload is a length-prefixed subsystem name.
		isSFTP := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
		_ = req.Reply(isSFTP, nil)

		if !isSFTP {
			continue
		}

		var rwc io.ReadWriteCloser = channel
		if s.holdOpen.Load() {
			rwc = heldChannel{channel}
		}

		server, err := sftp.NewServer(rwc, sftp.ReadOnly())
		if err != nil {
			return
		}

		if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
			_ = server.Close()
		}

		if s.holdOpen.Load() {
			_ = sshConn.Wait()
		}

		return
	}
}

// heldChannel ignores Close so only the SSH connection ending closes the channel.
type heldChannel struct {
	ssh.Channel
}

func (heldChannel) Close() error { return nil }

func newSigner(t TB) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	return signer
}

func newClientKey(t TB) (ssh.Signer, []byte) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}

	return signer, pem.EncodeToMemory(block)
}

// StallingListener accepts TCP connections and never speaks SSH, for timeout
// tests. It returns a HostConfig pointing at it.
func StallingListener(t TB) filesystem.HostConfig {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()

		mu.Lock()
		defer mu.Unlock()

		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	_, clientPEM := newClientKey(t)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, clientPEM, 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	addr := listener.Addr().(*net.TCPAddr) //nolint:forcetypeassert // Always TCP

	return filesystem.HostConfig{
		ID:             "stalled",
		Host:           addr.IP.String(),
		Port:           addr.Port,
		Username:       Username,
		PrivateKeyPath: keyPath,
	}
}
