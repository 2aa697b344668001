package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joe/seedstream/internal/catalog"
	pkgerrors "github.com/joe/seedstream/pkg/errors"
	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/hostkey"
	"github.com/joe/seedstream/pkg/stream"
)

// TestConnectionRequest is the body of a connection test.
type TestConnectionRequest struct {
	AcceptFingerprint bool `json:"acceptFingerprint"`
}

// TestConnectionResult reports a connection test.
type TestConnectionResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	Fingerprint     string   `json:"fingerprint,omitempty"`
	NeedsAcceptance bool     `json:"needsAcceptance,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

// ScanRequest is the body of a library scan.
type ScanRequest struct {
	Root string `json:"root"`
}

// ScanResult lists the albums a scan imported.
type ScanResult struct {
	Albums []catalog.Album `json:"albums"`
	Tracks int             `json:"tracks"`
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) streamTrack(c *gin.Context) {
	loc, err := s.catalog.Locate(c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}

	src := stream.Source{
		Backend: filesystem.NewBackend(s.pool, loc.Host),
		Dir:     loc.Album.Dir,
		RelPath: loc.Track.RelPath,
		Format:  loc.Track.Format,
	}

	if err := s.proxy.Stream(c.Writer, c.Request, src); err != nil {
		// The response is already written; only remote failures need a log line here.
		if loc.Host != nil && c.Writer.Status() == http.StatusInternalServerError {
			logger.Errorf("[%s] streaming track %s from %s: %v",
				c.GetString(requestIDKey), loc.Track.ID, loc.Host, err)
		}
	}
}

// testConnection opens a fresh connection outside the pool and compares the
// presented host key with the stored one. The stored fingerprint is written only
// when there is none and the caller accepted the one just seen.
func (s *Server) testConnection(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	host, err := s.catalog.GetHost(c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}

	conn, err := filesystem.Connect(c.Request.Context(), host.HostConfig, s.connectOpts)
	if err != nil {
		c.JSON(http.StatusOK, s.failedTest(err, host.HostConfig))
		return
	}

	observed := conn.Fingerprint()
	if err := conn.Close(); err != nil {
		logger.Debugf("closing test connection to %s: %v", host.HostConfig, err)
	}

	c.JSON(http.StatusOK, s.applyVerdict(host.HostConfig, observed, req.AcceptFingerprint))
}

func (s *Server) applyVerdict(host filesystem.HostConfig, observed string, accept bool) TestConnectionResult {
	switch hostkey.Verify(host.StoredFingerprint, observed) {
	case hostkey.Match:
		return TestConnectionResult{
			Success:     true,
			Message:     "Connected; the host key matches the accepted fingerprint.",
			Fingerprint: observed,
		}

	case hostkey.Mismatch:
		logger.Warningf("host %s presented %s, expected %s", host, observed, host.StoredFingerprint)
		s.pool.Evict(host.ID)

		return TestConnectionResult{
			Success: false,
			Message: fmt.Sprintf(
				"WARNING: the host key of %s changed. Expected %s, got %s. The connection was refused.",
				host.Address(), host.StoredFingerprint, observed),
			Fingerprint: observed,
			Suggestions: pkgerrors.NewSuggestionGenerator().Generate(pkgerrors.CategoryFingerprint, host.Address()),
		}

	case hostkey.Unseen:
		if !accept {
			return TestConnectionResult{
				Success:         false,
				Message:         "First connection to " + host.Address() + ". Verify the fingerprint and accept it to continue.",
				Fingerprint:     observed,
				NeedsAcceptance: true,
			}
		}

		err := s.catalog.SetFingerprint(host.ID, observed)
		if errors.Is(err, catalog.ErrFingerprintConflict) {
			// Another test accepted a key while this one was connecting.
			return s.reverify(host.ID, observed)
		}

		if err != nil {
			logger.Errorf("storing fingerprint for %s: %v", host, err)

			return TestConnectionResult{Success: false, Message: "Could not store the fingerprint: " + err.Error()}
		}

		s.pool.Evict(host.ID)
		logger.Infof("accepted fingerprint %s for %s", observed, host)

		return TestConnectionResult{
			Success:     true,
			Message:     "Fingerprint accepted; connected.",
			Fingerprint: observed,
		}
	}

	return TestConnectionResult{Success: false, Message: "unexpected verdict"}
}

// reverify compares observed with the fingerprint stored now, never accepting.
func (s *Server) reverify(hostID, observed string) TestConnectionResult {
	current, err := s.catalog.GetHost(hostID)
	if err != nil {
		return TestConnectionResult{Success: false, Message: "Could not reload the host: " + err.Error()}
	}

	return s.applyVerdict(current.HostConfig, observed, false)
}

func (s *Server) failedTest(err error, host filesystem.HostConfig) TestConnectionResult {
	enriched := s.enricher.Enrich(err, host.Address())

	result := TestConnectionResult{
		Success: false,
		Message: "Connection failed: " + err.Error(),
	}

	var actionable pkgerrors.ActionableError
	if errors.As(enriched, &actionable) {
		result.Suggestions = actionable.Suggestions()
	}

	return result
}

func (s *Server) scanHost(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	host, err := s.catalog.GetHost(c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}

	root := req.Root
	if root == "" {
		root = host.LibraryRoot
	}

	s.scan(c, host.ID, filesystem.NewSFTPBackend(s.pool, host.HostConfig), root)
}

func (s *Server) scanLocal(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.scan(c, "", filesystem.NewLocalBackend(), req.Root)
}

func (s *Server) scan(c *gin.Context, hostID string, backend filesystem.Backend, root string) {
	if root == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "root is required"})
		return
	}

	reqID := c.GetString(requestIDKey)

	dirs, err := backend.Scan(c.Request.Context(), root, func(relDir string) {
		logger.Tracef("[%s] scanning %s", reqID, relDir)
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	albums, err := s.catalog.Import(hostID, dirs)
	if err != nil {
		s.abort(c, err)
		return
	}

	tracks := 0
	for _, dir := range dirs {
		tracks += len(dir.AudioFiles)
	}

	c.JSON(http.StatusOK, ScanResult{Albums: albums, Tracks: tracks})
}

// forgetFingerprint clears the accepted host key, after the operator has
// confirmed a key rotation out of band.
func (s *Server) forgetFingerprint(c *gin.Context) {
	id := c.Param("id")

	if err := s.catalog.ClearFingerprint(id); err != nil {
		s.abort(c, err)
		return
	}

	s.pool.Evict(id)
	logger.Warningf("[%s] cleared the accepted fingerprint of host %q", c.GetString(requestIDKey), id)

	c.Status(http.StatusNoContent)
}

func (s *Server) evictConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"evicted": s.pool.Evict(c.Param("id"))})
}

// abort answers with the status an error maps to and, for connection
// failures, the operator suggestions.
func (s *Server) abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, filesystem.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, filesystem.ErrForbiddenPath):
		status = http.StatusForbidden
	case errors.Is(err, filesystem.ErrHostKeyUnverified),
		errors.Is(err, filesystem.ErrFingerprintMismatch),
		errors.Is(err, filesystem.ErrAuthFailure),
		errors.Is(err, filesystem.ErrKeyRead),
		errors.Is(err, filesystem.ErrConnectTimeout),
		errors.Is(err, filesystem.ErrTransport):
		status = http.StatusBadGateway
	}

	resp := ErrorResponse{Error: err.Error()}

	if status == http.StatusBadGateway {
		var actionable pkgerrors.ActionableError
		if errors.As(s.enricher.Enrich(err, ""), &actionable) {
			resp.Suggestions = actionable.Suggestions()
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Errorf("[%s] %s %s: %v", c.GetString(requestIDKey), c.Request.Method, c.Request.URL.Path, err)
	}

	c.AbortWithStatusJSON(status, resp)
}
