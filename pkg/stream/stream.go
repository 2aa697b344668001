// Package stream serves audio files over HTTP with single byte-range support,
// identically from local disk and from remote seedboxes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/juju/loggo"

	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/media"
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var logger = loggo.GetLogger("seedstream.stream")

// RequestIDHeader carries the request id used in log lines.
const RequestIDHeader = "X-Request-Id"

// Source locates one track: the album directory on its backend, the track's
// stored path relative to it, and its format.
type Source struct {
	Backend filesystem.Backend
	Dir     string
	RelPath string
	Format  string
}

// Proxy streams tracks from their backends.
type Proxy struct {
	metrics *Metrics
}

// NewProxy creates a Proxy. metrics may be nil.
func NewProxy(metrics *Metrics) *Proxy {
	return &Proxy{metrics: metrics}
}

// Stream answers a GET or HEAD request for a track.
//
// Checks run in order: the format gate (415) before any I/O, path resolution
// (403), then open and stat (404, or 500 for anything else). Range handling
// follows Serve. The returned error is for logging; the response is already written.
func (p *Proxy) Stream(w http.ResponseWriter, r *http.Request, src Source) error {
	reqID := r.Header.Get(RequestIDHeader)

	if !media.IsStreamable(src.Format) {
		http.Error(w, "format is not streamable: "+src.Format, http.StatusUnsupportedMediaType)
		p.metrics.observe(http.StatusUnsupportedMediaType, 0)

		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, src.Format)
	}

	name, err := src.Backend.Resolve(src.Dir, src.RelPath)
	if err != nil {
		logger.Warningf("[%s] refusing track path %q under %s: %v", reqID, src.RelPath, src.Dir, err)
		http.Error(w, "forbidden", http.StatusForbidden)
		p.metrics.observe(http.StatusForbidden, 0)

		return err
	}

	file, err := src.Backend.Open(r.Context(), name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, filesystem.ErrNotFound) {
			status = http.StatusNotFound
		}

		http.Error(w, http.StatusText(status), status)
		p.metrics.observe(status, 0)

		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Debugf("[%s] closing %s: %v", reqID, name, err)
		}
	}()

	status, written, err := Serve(w, r, file, media.ContentType(src.Format))
	p.metrics.observe(status, written)

	switch {
	case err != nil:
		logger.Infof("[%s] stream of %s ended after %s: %v", reqID, name, humanize.Bytes(uint64(written)), err) //nolint:gosec // never negative
	default:
		logger.Debugf("[%s] streamed %s of %s (%d)", reqID, humanize.Bytes(uint64(written)), name, status) //nolint:gosec // never negative
	}

	return err
}

// Serve writes file as the response body, honouring a single Range header.
//
// Without a usable Range it answers 200 with the full length. A satisfiable range
// gets 206 with exactly that window. An unsatisfiable one gets 416 with
// "Content-Range: bytes */size" and no body. HEAD requests get headers only.
// Copying stops when the request context ends. Serve reports the status, the
// bytes written and any error reading the file or writing the response.
func Serve(w http.ResponseWriter, r *http.Request, file filesystem.File, contentType string) (int, int64, error) {
	info, err := file.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return http.StatusInternalServerError, 0, fmt.Errorf("stat: %w", err)
	}

	size := info.Size()
	header := w.Header()
	header.Set("Accept-Ranges", "bytes")

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

		return http.StatusRequestedRangeNotSatisfiable, 0, nil
	}

	status := http.StatusOK
	offset, length := int64(0), size

	if rng != nil {
		status = http.StatusPartialContent
		offset, length = rng.Start, rng.Length()
		header.Set("Content-Range", rng.ContentRange(size))
	}

	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead || length == 0 {
		return status, 0, nil
	}

	body := &contextReader{ctx: r.Context(), r: io.NewSectionReader(file, offset, length)}

	written, err := io.Copy(w, body)
	if err != nil {
		return status, written, fmt.Errorf("copy %d bytes at %d: %w", length, offset, err)
	}

	return status, written, nil
}

// contextReader stops reading once its context is done, so a departed client
// does not keep pulling bytes from the remote host.
type contextReader struct {
	ctx context.Context //nolint:containedctx // Scoped to one copy
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
