package stream_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joe/seedstream/internal/sshtest"
	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/stream"
)

// pattern returns n bytes that differ by position.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

type backendFixture struct {
	backend filesystem.Backend
	dir     string
}

// memFixture serves /music/Album from memory.
func memFixture(content []byte) backendFixture {
	fsys := filesystem.NewMemFS()
	fsys.AddFile("/music/Album/01.flac", content)
	fsys.AddFile("/music/Album/02.wav", nil)

	return backendFixture{backend: fsys, dir: "/music/Album"}
}

// writeAlbum lays out the album files in a temp dir.
func writeAlbum(content []byte) string {
	dir := GinkgoT().TempDir()
	Expect(os.WriteFile(filepath.Join(dir, "01.flac"), content, 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "02.wav"), nil, 0o600)).To(Succeed())

	return dir
}

// diskFixture serves a temp dir from the local disk.
func diskFixture(content []byte) backendFixture {
	return backendFixture{backend: filesystem.NewLocalBackend(), dir: writeAlbum(content)}
}

// sftpFixture serves a temp dir through a pooled connection to an in-process server.
func sftpFixture(content []byte) backendFixture {
	dir := writeAlbum(content)

	srv := sshtest.NewServer(GinkgoT())
	pool := filesystem.NewConnectionPool(filesystem.PoolOptions{ConnectTimeout: 5 * time.Second})
	DeferCleanup(pool.CloseAll)

	return backendFixture{
		backend: filesystem.NewSFTPBackend(pool, srv.TrustedHost("box")),
		dir:     filepath.ToSlash(dir),
	}
}

func request(method, rangeHeader string) *http.Request {
	req := httptest.NewRequest(method, "/api/tracks/t1/stream", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	return req
}

var _ = Describe("Proxy", func() {
	content := pattern(1024)

	for _, backend := range []struct {
		name        string
		makeFixture func([]byte) backendFixture
	}{
		{name: "memory", makeFixture: memFixture},
		{name: "local disk", makeFixture: diskFixture},
		{name: "remote", makeFixture: sftpFixture},
	} {
		Describe("with a "+backend.name+" backend", func() {
			var (
				proxy   *stream.Proxy
				fixture backendFixture
				rec     *httptest.ResponseRecorder
			)

			BeforeEach(func() {
				proxy = stream.NewProxy(stream.NewMetrics())
				fixture = backend.makeFixture(content)
				rec = httptest.NewRecorder()
			})

			source := func(rel, format string) stream.Source {
				return stream.Source{Backend: fixture.backend, Dir: fixture.dir, RelPath: rel, Format: format}
			}

			It("serves the whole file without a Range header", func() {
				Expect(proxy.Stream(rec, request(http.MethodGet, ""), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Header().Get("Content-Length")).To(Equal("1024"))
				Expect(rec.Header().Get("Accept-Ranges")).To(Equal("bytes"))
				Expect(rec.Header().Get("Content-Type")).To(Equal("audio/flac"))
				Expect(rec.Header().Get("Content-Range")).To(BeEmpty())
				Expect(rec.Body.Bytes()).To(Equal(content))
			})

			It("serves exactly the requested window", func() {
				Expect(proxy.Stream(rec, request(http.MethodGet, "bytes=0-511"), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusPartialContent))
				Expect(rec.Header().Get("Content-Range")).To(Equal("bytes 0-511/1024"))
				Expect(rec.Header().Get("Content-Length")).To(Equal("512"))
				Expect(rec.Body.Bytes()).To(Equal(content[:512]))
			})

			It("serves a window in the middle of the file", func() {
				Expect(proxy.Stream(rec, request(http.MethodGet, "bytes=700-"), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusPartialContent))
				Expect(rec.Header().Get("Content-Range")).To(Equal("bytes 700-1023/1024"))
				Expect(rec.Body.Bytes()).To(Equal(content[700:]))
			})

			It("refuses a window outside the file", func() {
				Expect(proxy.Stream(rec, request(http.MethodGet, "bytes=2000-3000"), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusRequestedRangeNotSatisfiable))
				Expect(rec.Header().Get("Content-Range")).To(Equal("bytes */1024"))
				Expect(rec.Body.Len()).To(BeZero())
			})

			It("refuses a start offset too large to represent", func() {
				header := "bytes=99999999999999999999-"
				Expect(proxy.Stream(rec, request(http.MethodGet, header), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusRequestedRangeNotSatisfiable))
				Expect(rec.Header().Get("Content-Range")).To(Equal("bytes */1024"))
				Expect(rec.Body.Len()).To(BeZero())
			})

			It("sends headers only for HEAD", func() {
				Expect(proxy.Stream(rec, request(http.MethodHead, "bytes=0-9"), source("01.flac", "flac"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusPartialContent))
				Expect(rec.Header().Get("Content-Length")).To(Equal("10"))
				Expect(rec.Body.Len()).To(BeZero())
			})

			It("serves an empty file", func() {
				Expect(proxy.Stream(rec, request(http.MethodGet, ""), source("02.wav", "wav"))).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Header().Get("Content-Length")).To(Equal("0"))
			})

			It("rejects unsupported formats before touching storage", func() {
				for _, rangeHeader := range []string{"", "bytes=0-1", "bytes=2000-3000"} {
					rec = httptest.NewRecorder()

					err := proxy.Stream(rec, request(http.MethodGet, rangeHeader), source("does-not-exist.ape", "ape"))
					Expect(err).To(MatchError(stream.ErrUnsupportedFormat))
					Expect(rec.Code).To(Equal(http.StatusUnsupportedMediaType))
				}
			})

			It("forbids paths that leave the album directory", func() {
				err := proxy.Stream(rec, request(http.MethodGet, ""), source("../../etc/passwd.mp3", "mp3"))

				Expect(err).To(MatchError(filesystem.ErrForbiddenPath))
				Expect(rec.Code).To(Equal(http.StatusForbidden))
			})

			It("reports missing files as not found", func() {
				err := proxy.Stream(rec, request(http.MethodGet, ""), source("missing.flac", "flac"))

				Expect(err).To(MatchError(filesystem.ErrNotFound))
				Expect(rec.Code).To(Equal(http.StatusNotFound))
			})
		})
	}

	Describe("a departed client", func() {
		It("stops copying", func() {
			fsys := filesystem.NewMemFS()
			fsys.AddFile("/m/a.mp3", pattern(1<<20))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			rec := &disconnectingRecorder{ResponseRecorder: httptest.NewRecorder(), disconnect: cancel}
			req := request(http.MethodGet, "").WithContext(ctx)

			err := stream.NewProxy(nil).Stream(rec, req, stream.Source{Backend: fsys, Dir: "/m", RelPath: "a.mp3", Format: "mp3"})
			Expect(err).To(MatchError(context.Canceled))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.Len()).To(BeZero())
		})
	})

	Describe("Serve", func() {
		It("reports a failing stat as a server error", func() {
			rec := httptest.NewRecorder()

			status, _, err := stream.Serve(rec, request(http.MethodGet, ""), &brokenFile{}, "audio/mpeg")
			Expect(err).To(HaveOccurred())
			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})

		It("counts bytes written", func() {
			rec := httptest.NewRecorder()
			file := memFile(pattern(100))

			status, written, err := stream.Serve(rec, request(http.MethodGet, "bytes=-10"), file, "audio/mpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusPartialContent))
			Expect(written).To(BeEquivalentTo(10))
			Expect(rec.Body.Bytes()).To(Equal(pattern(100)[90:]))
		})
	})
})

func memFile(data []byte) filesystem.File {
	fsys := filesystem.NewMemFS()
	fsys.AddFile("/f", data)

	file, err := fsys.Open(context.Background(), "/f")
	Expect(err).NotTo(HaveOccurred())

	return file
}

// disconnectingRecorder ends the request as soon as headers are sent.
type disconnectingRecorder struct {
	*httptest.ResponseRecorder

	disconnect func()
}

func (r *disconnectingRecorder) WriteHeader(code int) {
	r.ResponseRecorder.WriteHeader(code)
	r.disconnect()
}

type brokenFile struct{ bytes.Reader }

func (*brokenFile) Close() error { return nil }

func (*brokenFile) Stat() (os.FileInfo, error) { return nil, os.ErrPermission }

func TestStreamProxy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stream Proxy Suite")
}
